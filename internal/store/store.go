// Package store persists accounts. Email uniqueness is enforced here; callers
// pre-check only to produce friendlier errors.
package store

import (
	"context"
	"errors"
	"time"

	"boardauth/internal/models"
)

var (
	ErrNotFound       = errors.New("account not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// AccountStore is the durable record of registered accounts.
//
// Passwords reach the store already hashed; the store never sees plaintext.
type AccountStore interface {
	// Create inserts a new account, assigning ID and timestamps.
	Create(ctx context.Context, a *models.Account) error
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByID(ctx context.Context, id string) (*models.Account, error)
	// FindByPendingResetToken returns the account holding token as its reset
	// token with an expiry after now.
	FindByPendingResetToken(ctx context.Context, token string, now time.Time) (*models.Account, error)
	// Save writes back every mutable field. Cleared token fields are removed.
	Save(ctx context.Context, a *models.Account) error
}
