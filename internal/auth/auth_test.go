package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"boardauth/internal/models"
	"boardauth/internal/password"
	"boardauth/internal/store"
	"boardauth/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeNotifier struct {
	mu           sync.Mutex
	verification map[string]string
	reset        map[string]string
	fail         error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{verification: map[string]string{}, reset: map[string]string{}}
}

func (n *fakeNotifier) SendVerification(_ context.Context, to, tok string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verification[to] = tok
	return n.fail
}

func (n *fakeNotifier) SendPasswordReset(_ context.Context, to, tok string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reset[to] = tok
	return n.fail
}

// brokenStore fails every call with a driver-level error.
type brokenStore struct{}

var errDriver = errors.New("server selection timeout: mongodb://10.0.0.5")

func (brokenStore) Create(context.Context, *models.Account) error { return errDriver }
func (brokenStore) FindByEmail(context.Context, string) (*models.Account, error) {
	return nil, errDriver
}
func (brokenStore) FindByID(context.Context, string) (*models.Account, error) { return nil, errDriver }
func (brokenStore) FindByPendingResetToken(context.Context, string, time.Time) (*models.Account, error) {
	return nil, errDriver
}
func (brokenStore) Save(context.Context, *models.Account) error { return errDriver }

type fixture struct {
	svc      *Service
	store    *store.Memory
	notifier *fakeNotifier
	clock    *clock
	logs     *observer.ObservedLogs
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	c := &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	core, logs := observer.New(zap.DebugLevel)
	st := store.NewMemory()
	n := newFakeNotifier()
	tokens := token.NewService([]byte("test-secret"), token.WithClock(c.now))
	opts = append([]Option{WithClock(c.now)}, opts...)
	svc := NewService(st, password.NewBcrypt(bcrypt.MinCost), tokens, n, zap.New(core), opts...)
	return &fixture{svc: svc, store: st, notifier: n, clock: c, logs: logs}
}

func (f *fixture) signupVerified(t *testing.T, email, pw, name string) string {
	t.Helper()
	ctx := context.Background()
	res, err := f.svc.Signup(ctx, SignupInput{Email: email, Password: pw, DisplayName: name})
	require.NoError(t, err)
	_, err = f.svc.VerifyEmail(ctx, f.notifier.verification[models.NormalizeEmail(email)])
	require.NoError(t, err)
	return res.UserID
}

func TestSignup_CreatesPendingAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Signup(ctx, SignupInput{Email: " A@X.com ", Password: "secret1", DisplayName: "  Alice "})
	require.NoError(t, err)
	assert.Equal(t, MsgSignup, res.Message)
	assert.NotEmpty(t, res.UserID)

	a, err := f.store.FindByID(ctx, res.UserID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", a.Email)
	assert.Equal(t, "Alice", a.DisplayName)
	assert.False(t, a.EmailVerified)
	assert.NotEmpty(t, a.VerificationToken)
	assert.NotEqual(t, "secret1", a.PasswordHash)
	assert.Equal(t, a.VerificationToken, f.notifier.verification["a@x.com"])
}

func TestSignup_BootstrapStartsVerified(t *testing.T) {
	f := newFixture(t, WithBootstrap(true))
	ctx := context.Background()

	res, err := f.svc.Signup(ctx, SignupInput{Email: "a@x.com", Password: "secret1", DisplayName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, MsgSignupBootstrap, res.Message)

	a, err := f.store.FindByID(ctx, res.UserID)
	require.NoError(t, err)
	assert.True(t, a.EmailVerified)
	assert.NotEmpty(t, a.VerificationToken)

	id, err := f.svc.Authorize(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", id.Name)
}

func TestSignup_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Signup(ctx, SignupInput{Email: "a@x.com", Password: "secret1", DisplayName: "Alice"})
	require.NoError(t, err)

	_, err = f.svc.Signup(ctx, SignupInput{Email: "A@x.com", Password: "other12", DisplayName: "Eve"})
	require.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestSignup_Validation(t *testing.T) {
	long := make([]rune, MaxNameLength+1)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name string
		in   SignupInput
		want error
	}{
		{"missing email", SignupInput{Password: "secret1", DisplayName: "A"}, ErrInvalidInput},
		{"bad email", SignupInput{Email: "nope", Password: "secret1", DisplayName: "A"}, ErrInvalidInput},
		{"missing password", SignupInput{Email: "a@x.com", DisplayName: "A"}, ErrInvalidInput},
		{"blank name", SignupInput{Email: "a@x.com", Password: "secret1", DisplayName: "   "}, ErrInvalidInput},
		{"long name", SignupInput{Email: "a@x.com", Password: "secret1", DisplayName: string(long)}, ErrInvalidInput},
		{"short password", SignupInput{Email: "a@x.com", Password: "abc", DisplayName: "A"}, ErrPasswordTooShort},
		{"password over 72 bytes", SignupInput{Email: "a@x.com", Password: strings.Repeat("p", 80), DisplayName: "A"}, ErrInvalidInput},
		{"multibyte password over 72 bytes", SignupInput{Email: "a@x.com", Password: strings.Repeat("é", 40), DisplayName: "A"}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Signup(context.Background(), tt.in)
			require.ErrorIs(t, err, tt.want)
			assert.Empty(t, f.notifier.verification)
		})
	}
}

func TestSignup_NotifierFailureIsLoggedNotReturned(t *testing.T) {
	f := newFixture(t)
	f.notifier.fail = errors.New("smtp: connection refused")

	res, err := f.svc.Signup(context.Background(), SignupInput{Email: "a@x.com", Password: "secret1", DisplayName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, MsgSignup, res.Message)

	warned := f.logs.FilterMessage("failed to send verification email").All()
	require.Len(t, warned, 1)
	assert.Equal(t, zap.WarnLevel, warned[0].Level)
}

func TestVerifyEmail_SingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Signup(ctx, SignupInput{Email: "a@x.com", Password: "secret1", DisplayName: "Alice"})
	require.NoError(t, err)
	tok := f.notifier.verification["a@x.com"]

	msg, err := f.svc.VerifyEmail(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, MsgVerified, msg)

	a, err := f.store.FindByID(ctx, res.UserID)
	require.NoError(t, err)
	assert.True(t, a.EmailVerified)
	assert.Empty(t, a.VerificationToken)

	_, err = f.svc.VerifyEmail(ctx, tok)
	require.ErrorIs(t, err, ErrNotFound)

	a, err = f.store.FindByID(ctx, res.UserID)
	require.NoError(t, err)
	assert.True(t, a.EmailVerified)
}

func TestVerifyEmail_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.VerifyEmail(ctx, "")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.VerifyEmail(ctx, "garbage")
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = f.svc.Signup(ctx, SignupInput{Email: "a@x.com", Password: "secret1", DisplayName: "Alice"})
	require.NoError(t, err)
	tok := f.notifier.verification["a@x.com"]

	f.clock.advance(25 * time.Hour)
	_, err = f.svc.VerifyEmail(ctx, tok)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyEmail_StaleTokenRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Signup(ctx, SignupInput{Email: "a@x.com", Password: "secret1", DisplayName: "Alice"})
	require.NoError(t, err)

	// A validly signed token for the same email that is not the pending one.
	stale, err := f.svc.tokens.IssueVerification("a@x.com")
	require.NoError(t, err)

	_, err = f.svc.VerifyEmail(ctx, stale)
	require.ErrorIs(t, err, ErrNotFound)

	a, err := f.store.FindByID(ctx, res.UserID)
	require.NoError(t, err)
	assert.False(t, a.EmailVerified)
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signupVerified(t, "a@x.com", "secret1", "Alice")

	_, err := f.svc.Signup(ctx, SignupInput{Email: "u@x.com", Password: "secret1", DisplayName: "Unverified"})
	require.NoError(t, err)

	_, unknownErr := f.svc.Authorize(ctx, "nobody@x.com", "secret1")
	_, wrongErr := f.svc.Authorize(ctx, "a@x.com", "wrong-pass")
	require.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	require.ErrorIs(t, wrongErr, ErrInvalidCredentials)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())

	_, err = f.svc.Authorize(ctx, "u@x.com", "secret1")
	require.ErrorIs(t, err, ErrEmailNotVerified)
	assert.NotEqual(t, ErrInvalidCredentials.Error(), err.Error())

	_, err = f.svc.Authorize(ctx, "", "secret1")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Authorize(ctx, "a@x.com", "")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSignupVerifyLogin_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Signup(ctx, SignupInput{Email: "a@x.com", Password: "secret1", DisplayName: "Alice"})
	require.NoError(t, err)

	_, err = f.svc.VerifyEmail(ctx, f.notifier.verification["a@x.com"])
	require.NoError(t, err)

	id, err := f.svc.Authorize(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, models.Identity{ID: res.UserID, Name: "Alice", Email: "a@x.com"}, *id)
}

func TestForgotPassword_NonDisclosure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signupVerified(t, "a@x.com", "secret1", "Alice")

	existing, err := f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	missing, err := f.svc.ForgotPassword(ctx, "nobody@x.com")
	require.NoError(t, err)
	empty, err := f.svc.ForgotPassword(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, MsgForgotPassword, existing)
	assert.Equal(t, existing, missing)
	assert.Equal(t, existing, empty)
	assert.Len(t, f.notifier.reset, 1)
}

func TestForgotPassword_NotifierFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.signupVerified(t, "a@x.com", "secret1", "Alice")
	f.notifier.fail = errors.New("smtp down")

	msg, err := f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, MsgForgotPassword, msg)

	a, err := f.store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, a.ResetToken)
	assert.Equal(t, f.clock.now().Add(token.ResetTTL), a.ResetTokenExpiry)
	assert.Equal(t, 1, f.logs.FilterMessage("failed to send password reset email").Len())
}

func TestResetPassword_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.signupVerified(t, "a@x.com", "secret1", "Alice")

	_, err := f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)

	msg, err := f.svc.ResetPassword(ctx, ResetPasswordInput{Token: f.notifier.reset["a@x.com"], Password: "newpass1"})
	require.NoError(t, err)
	assert.Equal(t, MsgPasswordReset, msg)

	_, err = f.svc.Authorize(ctx, "a@x.com", "secret1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	got, err := f.svc.Authorize(ctx, "a@x.com", "newpass1")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	a, err := f.store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, a.ResetToken)
	assert.True(t, a.ResetTokenExpiry.IsZero())
}

func TestResetPassword_TokenIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signupVerified(t, "a@x.com", "secret1", "Alice")

	_, err := f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	tok := f.notifier.reset["a@x.com"]

	_, err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: tok, Password: "newpass1"})
	require.NoError(t, err)

	_, err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: tok, Password: "another1"})
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestResetPassword_SupersededBySecondRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signupVerified(t, "a@x.com", "secret1", "Alice")

	_, err := f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	first := f.notifier.reset["a@x.com"]

	f.clock.advance(time.Minute)
	_, err = f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	second := f.notifier.reset["a@x.com"]
	require.NotEqual(t, first, second)

	_, err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: first, Password: "newpass1"})
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: second, Password: "newpass1"})
	require.NoError(t, err)
}

func TestResetPassword_ExpiresAfterAnHour(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signupVerified(t, "a@x.com", "secret1", "Alice")

	_, err := f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)

	f.clock.advance(time.Hour + time.Second)
	_, err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: f.notifier.reset["a@x.com"], Password: "newpass1"})
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = f.svc.Authorize(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
}

func TestResetPassword_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signupVerified(t, "a@x.com", "secret1", "Alice")

	_, err := f.svc.ResetPassword(ctx, ResetPasswordInput{Password: "newpass1"})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: "t"})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: "forged", Password: "newpass1"})
	require.ErrorIs(t, err, ErrTokenInvalid)
	// The token is judged before the password.
	_, err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: "forged", Password: "abc"})
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	_, err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: f.notifier.reset["a@x.com"], Password: "abc"})
	require.ErrorIs(t, err, ErrPasswordTooShort)
	_, err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: f.notifier.reset["a@x.com"], Password: strings.Repeat("p", 80)})
	require.ErrorIs(t, err, ErrInvalidInput)

	// A verification token never passes as a reset token.
	_, err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: f.notifier.verification["a@x.com"], Password: "newpass1"})
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.signupVerified(t, "a@x.com", "secret1", "Alice")

	before, err := f.store.FindByID(ctx, id)
	require.NoError(t, err)

	_, err = f.svc.ChangePassword(ctx, id, ChangePasswordInput{CurrentPassword: "secret1", NewPassword: "abc"})
	require.ErrorIs(t, err, ErrPasswordTooShort)
	after, err := f.store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.PasswordHash, after.PasswordHash)

	_, err = f.svc.ChangePassword(ctx, id, ChangePasswordInput{NewPassword: "newpass1"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.ChangePassword(ctx, id, ChangePasswordInput{CurrentPassword: "secret1", NewPassword: strings.Repeat("p", 80)})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.ChangePassword(ctx, id, ChangePasswordInput{CurrentPassword: "wrong12", NewPassword: "newpass1"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.ChangePassword(ctx, "000000000000000000000000", ChangePasswordInput{CurrentPassword: "secret1", NewPassword: "newpass1"})
	require.ErrorIs(t, err, ErrNotFound)

	msg, err := f.svc.ChangePassword(ctx, id, ChangePasswordInput{CurrentPassword: "secret1", NewPassword: "newpass1"})
	require.NoError(t, err)
	assert.Equal(t, MsgPasswordChanged, msg)

	_, err = f.svc.Authorize(ctx, "a@x.com", "newpass1")
	require.NoError(t, err)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.signupVerified(t, "a@x.com", "secret1", "Alice")

	_, err := f.svc.UpdateProfile(ctx, id, ProfileInput{DisplayName: "   "})
	require.ErrorIs(t, err, ErrInvalidInput)

	got, err := f.svc.UpdateProfile(ctx, id, ProfileInput{DisplayName: "  Alicia "})
	require.NoError(t, err)
	assert.Equal(t, models.Identity{ID: id, Name: "Alicia", Email: "a@x.com"}, *got)

	again, err := f.svc.Identity(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Alicia", again.Name)

	_, err = f.svc.UpdateProfile(ctx, "nope", ProfileInput{DisplayName: "Bob"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreFailuresAreHidden(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tokens := token.NewService([]byte("k"))
	svc := NewService(brokenStore{}, password.NewBcrypt(bcrypt.MinCost), tokens, newFakeNotifier(), zap.New(core))
	ctx := context.Background()

	_, err := svc.Signup(ctx, SignupInput{Email: "a@x.com", Password: "secret1", DisplayName: "A"})
	require.ErrorIs(t, err, ErrInternal)
	assert.NotContains(t, err.Error(), "10.0.0.5")

	_, err = svc.Authorize(ctx, "a@x.com", "secret1")
	require.ErrorIs(t, err, ErrInternal)

	_, err = svc.ForgotPassword(ctx, "a@x.com")
	require.ErrorIs(t, err, ErrInternal)

	_, err = svc.ChangePassword(ctx, "id", ChangePasswordInput{CurrentPassword: "secret1", NewPassword: "newpass1"})
	require.ErrorIs(t, err, ErrInternal)

	assert.Equal(t, 4, logs.FilterMessage("account flow failed").Len())
}

func TestLongPassphraseUpToBcryptLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pass := strings.Repeat("p", MaxPasswordBytes)
	id := f.signupVerified(t, "a@x.com", pass, "Alice")

	_, err := f.svc.Authorize(ctx, "a@x.com", pass)
	require.NoError(t, err)

	next := strings.Repeat("q", MaxPasswordBytes)
	_, err = f.svc.ChangePassword(ctx, id, ChangePasswordInput{CurrentPassword: pass, NewPassword: next})
	require.NoError(t, err)
	_, err = f.svc.Authorize(ctx, "a@x.com", next)
	require.NoError(t, err)

	assert.Empty(t, f.logs.FilterMessage("account flow failed").All())
}
