// Package auth implements the account lifecycle: signup with email
// verification, credential login, password reset through single-use tokens,
// and authenticated password and profile changes.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"boardauth/internal/logging"
	"boardauth/internal/mailer"
	"boardauth/internal/models"
	"boardauth/internal/password"
	"boardauth/internal/store"
	"boardauth/internal/token"

	"go.uber.org/zap"
)

const (
	MsgSignupBootstrap = "Registration complete. Email verification is skipped in this environment, you can sign in now."
	MsgSignup          = "Registration complete. Please check your inbox to confirm your email address."
	MsgVerified        = "Your email address has been confirmed. You can sign in now."
	MsgForgotPassword  = "If the email address is registered, a password reset email has been sent."
	MsgPasswordReset   = "Your password has been updated."
	MsgPasswordChanged = "Your password has been changed."
	MsgProfileUpdated  = "Your profile has been updated."
)

// Service orchestrates the account flows over the store, hasher, token
// service and notifier.
type Service struct {
	store     store.AccountStore
	hasher    password.Hasher
	tokens    *token.Service
	notifier  mailer.Notifier
	logger    *zap.Logger
	bootstrap bool
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithBootstrap makes new accounts start out verified.
func WithBootstrap(enabled bool) Option {
	return func(s *Service) { s.bootstrap = enabled }
}

// WithClock overrides the time source used for reset expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires a Service.
func NewService(st store.AccountStore, hasher password.Hasher, tokens *token.Service, notifier mailer.Notifier, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:    st,
		hasher:   hasher,
		tokens:   tokens,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SignupResult is returned by a successful signup.
type SignupResult struct {
	Message string
	UserID  string
}

// Signup creates an account pending email verification and sends the
// verification message. Delivery failures do not fail the signup.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*SignupResult, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	_, err := s.store.FindByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return nil, ErrDuplicateEmail
	case !errors.Is(err, store.ErrNotFound):
		return nil, s.internal(ctx, "signup lookup", err)
	}

	verification, err := s.tokens.IssueVerification(in.Email)
	if err != nil {
		return nil, s.internal(ctx, "issue verification token", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.internal(ctx, "hash password", err)
	}

	account := &models.Account{
		Email:             in.Email,
		PasswordHash:      hash,
		DisplayName:       in.DisplayName,
		EmailVerified:     s.bootstrap,
		VerificationToken: verification,
	}
	if err := s.store.Create(ctx, account); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, s.internal(ctx, "create account", err)
	}

	if err := s.notifier.SendVerification(ctx, account.Email, verification); err != nil {
		s.log(ctx).Warn("failed to send verification email",
			zap.String("account_id", account.ID.Hex()), zap.Error(err))
	}

	msg := MsgSignup
	if s.bootstrap {
		msg = MsgSignupBootstrap
	}
	s.log(ctx).Info("account created", zap.String("account_id", account.ID.Hex()))
	return &SignupResult{Message: msg, UserID: account.ID.Hex()}, nil
}

// VerifyEmail consumes a verification token. A token whose stored
// counterpart has already been cleared yields ErrNotFound.
func (s *Service) VerifyEmail(ctx context.Context, tok string) (string, error) {
	if tok == "" {
		return "", withMessage(ErrInvalidInput, "token is required")
	}

	claims, err := s.tokens.Verify(tok, token.PurposeVerifyEmail)
	if err != nil {
		return "", ErrTokenInvalid
	}

	account, err := s.store.FindByEmail(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", s.internal(ctx, "verify lookup", err)
	}
	if !tokensEqual(account.VerificationToken, tok) {
		return "", ErrNotFound
	}

	account.MarkVerified()
	if err := s.store.Save(ctx, account); err != nil {
		return "", s.internal(ctx, "save verified account", err)
	}
	s.log(ctx).Info("email verified", zap.String("account_id", account.ID.Hex()))
	return MsgVerified, nil
}

// Authorize checks email and password and returns the identity to put in a
// session. Unknown email and wrong password are indistinguishable; an
// unverified account is reported as such.
func (s *Service) Authorize(ctx context.Context, email, pw string) (*models.Identity, error) {
	email = models.NormalizeEmail(email)
	if email == "" || pw == "" {
		return nil, withMessage(ErrInvalidInput, "email and password are required")
	}

	account, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, s.internal(ctx, "login lookup", err)
	}
	if !account.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	if !s.hasher.Verify(pw, account.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	id := account.Identity()
	return &id, nil
}

// ForgotPassword starts a reset for email if the account exists. The reply
// is the same whether or not it does. A new request supersedes any pending one.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return MsgForgotPassword, nil
	}

	account, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return MsgForgotPassword, nil
		}
		return "", s.internal(ctx, "forgot password lookup", err)
	}

	reset, err := s.tokens.IssueReset(account.ID.Hex())
	if err != nil {
		return "", s.internal(ctx, "issue reset token", err)
	}
	account.ResetToken = reset
	account.ResetTokenExpiry = s.now().Add(token.ResetTTL)
	if err := s.store.Save(ctx, account); err != nil {
		return "", s.internal(ctx, "save reset token", err)
	}

	if err := s.notifier.SendPasswordReset(ctx, account.Email, reset); err != nil {
		s.log(ctx).Warn("failed to send password reset email",
			zap.String("account_id", account.ID.Hex()), zap.Error(err))
	}
	return MsgForgotPassword, nil
}

// ResetPassword sets a new password using a pending reset token. Bad
// signatures, expired, consumed and superseded tokens all yield ErrTokenInvalid.
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}

	claims, err := s.tokens.Verify(in.Token, token.PurposeResetPassword)
	if err != nil {
		return "", ErrTokenInvalid
	}

	account, err := s.store.FindByPendingResetToken(ctx, in.Token, s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrTokenInvalid
		}
		return "", s.internal(ctx, "reset lookup", err)
	}
	if account.ID.Hex() != claims.AccountID {
		return "", ErrTokenInvalid
	}
	if err := validatePasswordLength(in.Password); err != nil {
		return "", err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return "", s.internal(ctx, "hash password", err)
	}
	account.PasswordHash = hash
	account.ClearReset()
	if err := s.store.Save(ctx, account); err != nil {
		return "", s.internal(ctx, "save reset password", err)
	}
	s.log(ctx).Info("password reset", zap.String("account_id", account.ID.Hex()))
	return MsgPasswordReset, nil
}

// ChangePassword replaces the password of accountID after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, accountID string, in ChangePasswordInput) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}

	account, err := s.findByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	if !s.hasher.Verify(in.CurrentPassword, account.PasswordHash) {
		return "", withMessage(ErrInvalidCredentials, "current password is incorrect")
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return "", s.internal(ctx, "hash password", err)
	}
	account.PasswordHash = hash
	if err := s.store.Save(ctx, account); err != nil {
		return "", s.internal(ctx, "save changed password", err)
	}
	s.log(ctx).Info("password changed", zap.String("account_id", accountID))
	return MsgPasswordChanged, nil
}

// UpdateProfile sets the display name of accountID.
func (s *Service) UpdateProfile(ctx context.Context, accountID string, in ProfileInput) (*models.Identity, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	account, err := s.findByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	account.DisplayName = in.DisplayName
	if err := s.store.Save(ctx, account); err != nil {
		return nil, s.internal(ctx, "save profile", err)
	}

	id := account.Identity()
	return &id, nil
}

// Identity returns the identity of accountID.
func (s *Service) Identity(ctx context.Context, accountID string) (*models.Identity, error) {
	account, err := s.findByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	id := account.Identity()
	return &id, nil
}

func (s *Service) findByID(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.internal(ctx, "account lookup", err)
	}
	return account, nil
}

// internal logs err and hides it behind ErrInternal.
func (s *Service) internal(ctx context.Context, op string, err error) error {
	s.log(ctx).Error("account flow failed", zap.String("op", op), zap.Error(err))
	return ErrInternal
}

func (s *Service) log(ctx context.Context) *zap.Logger {
	return logging.FromContext(ctx, s.logger)
}

func tokensEqual(stored, supplied string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}
