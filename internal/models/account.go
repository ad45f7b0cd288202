package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Account represents a registered user.
type Account struct {
	ID                primitive.ObjectID `bson:"_id,omitempty"`
	Email             string             `bson:"email"`
	PasswordHash      string             `bson:"password"`
	DisplayName       string             `bson:"name"`
	EmailVerified     bool               `bson:"emailVerified"`
	VerificationToken string             `bson:"verificationToken,omitempty"`
	ResetToken        string             `bson:"resetPasswordToken,omitempty"`
	ResetTokenExpiry  time.Time          `bson:"resetPasswordExpires,omitempty"`
	CreatedAt         time.Time          `bson:"createdAt"`
	UpdatedAt         time.Time          `bson:"updatedAt"`
}

// Identity is the minimal view of an account handed to sessions and clients.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Identity returns the public identity of the account.
func (a *Account) Identity() Identity {
	return Identity{
		ID:    a.ID.Hex(),
		Name:  a.DisplayName,
		Email: a.Email,
	}
}

// HasPendingReset reports whether token matches the stored reset token and
// the reset window is still open at now.
func (a *Account) HasPendingReset(token string, now time.Time) bool {
	if a.ResetToken == "" || a.ResetToken != token {
		return false
	}
	return now.Before(a.ResetTokenExpiry)
}

// ClearReset drops the pending reset token and its expiry together.
func (a *Account) ClearReset() {
	a.ResetToken = ""
	a.ResetTokenExpiry = time.Time{}
}

// MarkVerified flips the account to verified and consumes the verification token.
func (a *Account) MarkVerified() {
	a.EmailVerified = true
	a.VerificationToken = ""
}

// NormalizeEmail lowercases and trims an address so it can be used as a lookup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
