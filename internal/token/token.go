// Package token issues and verifies the signed, expiring tokens used for
// email verification, password reset and sessions.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose binds a token to the flow it was minted for.
type Purpose string

const (
	PurposeVerifyEmail   Purpose = "verify-email"
	PurposeResetPassword Purpose = "reset-password"
	PurposeSession       Purpose = "session"
)

const (
	VerificationTTL = 24 * time.Hour
	ResetTTL        = time.Hour
)

// ErrInvalid covers every verification failure: bad signature, malformed
// payload, wrong purpose and expiry are not told apart.
var ErrInvalid = errors.New("token is invalid or expired")

// Claims is the payload carried by every token.
type Claims struct {
	jwt.RegisteredClaims
	Purpose   Purpose `json:"purpose"`
	Email     string  `json:"email,omitempty"`
	AccountID string  `json:"userId,omitempty"`
}

// Service signs tokens with a process-wide HMAC secret.
type Service struct {
	secret []byte
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service signing with secret.
func NewService(secret []byte, opts ...Option) *Service {
	s := &Service{secret: secret, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Issue signs claims for purpose, valid for lifetime from now.
func (s *Service) Issue(purpose Purpose, claims Claims, lifetime time.Duration) (string, error) {
	now := s.now()
	claims.Purpose = purpose
	claims.ID = uuid.NewString()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(lifetime))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// IssueVerification mints a 24h email verification token for email.
func (s *Service) IssueVerification(email string) (string, error) {
	return s.Issue(PurposeVerifyEmail, Claims{Email: email}, VerificationTTL)
}

// IssueReset mints a 1h password reset token for accountID.
func (s *Service) IssueReset(accountID string) (string, error) {
	return s.Issue(PurposeResetPassword, Claims{AccountID: accountID}, ResetTTL)
}

// Verify checks signature, expiry and purpose and returns the claims.
func (s *Service) Verify(tokenString string, purpose Purpose) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	tok, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrInvalid
	}
	if claims.Purpose != purpose {
		return nil, ErrInvalid
	}
	return claims, nil
}
