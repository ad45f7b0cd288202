// Package session issues and resolves the signed credential that identifies
// the caller on protected requests.
package session

import (
	"context"
	"time"

	"boardauth/internal/auth"
	"boardauth/internal/models"
	"boardauth/internal/token"

	"github.com/golang-jwt/jwt/v5"
)

// Authorizer checks login credentials.
type Authorizer interface {
	Authorize(ctx context.Context, email, password string) (*models.Identity, error)
}

// Issuer wraps a successful login into a session token carrying the account id.
type Issuer struct {
	authorizer Authorizer
	tokens     *token.Service
	ttl        time.Duration
}

func NewIssuer(a Authorizer, tokens *token.Service, ttl time.Duration) *Issuer {
	return &Issuer{authorizer: a, tokens: tokens, ttl: ttl}
}

// TTL is the lifetime of issued sessions.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Login authorizes the credentials and returns a session token with the identity.
func (i *Issuer) Login(ctx context.Context, email, password string) (string, *models.Identity, error) {
	id, err := i.authorizer.Authorize(ctx, email, password)
	if err != nil {
		return "", nil, err
	}
	tok, err := i.Issue(*id)
	if err != nil {
		return "", nil, auth.ErrInternal
	}
	return tok, id, nil
}

// Issue mints a session token for id.
func (i *Issuer) Issue(id models.Identity) (string, error) {
	return i.tokens.Issue(token.PurposeSession, token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: id.ID},
	}, i.ttl)
}

// Resolve returns the account id carried by a session token.
func (i *Issuer) Resolve(tok string) (string, error) {
	if tok == "" {
		return "", auth.ErrUnauthorized
	}
	claims, err := i.tokens.Verify(tok, token.PurposeSession)
	if err != nil || claims.Subject == "" {
		return "", auth.ErrUnauthorized
	}
	return claims.Subject, nil
}
