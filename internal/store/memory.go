package store

import (
	"context"
	"sync"
	"time"

	"boardauth/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Memory is an AccountStore kept in process memory.
type Memory struct {
	mu       sync.RWMutex
	accounts map[primitive.ObjectID]models.Account
	now      func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[primitive.ObjectID]models.Account),
		now:      time.Now,
	}
}

func (m *Memory) Create(_ context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a.Email = models.NormalizeEmail(a.Email)
	if m.emailTaken(a.Email, primitive.NilObjectID) {
		return ErrDuplicateEmail
	}
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	now := m.now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	m.accounts[a.ID] = *a
	return nil
}

func (m *Memory) FindByEmail(_ context.Context, email string) (*models.Account, error) {
	email = models.NormalizeEmail(email)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FindByID(_ context.Context, id string) (*models.Account, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[oid]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *Memory) FindByPendingResetToken(_ context.Context, token string, now time.Time) (*models.Account, error) {
	if token == "" {
		return nil, ErrNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		if a.HasPendingReset(token, now) {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Save(_ context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.accounts[a.ID]
	if !ok {
		return ErrNotFound
	}
	a.Email = models.NormalizeEmail(a.Email)
	if m.emailTaken(a.Email, a.ID) {
		return ErrDuplicateEmail
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = m.now().UTC()
	m.accounts[a.ID] = *a
	return nil
}

func (m *Memory) emailTaken(email string, except primitive.ObjectID) bool {
	for id, a := range m.accounts {
		if id != except && a.Email == email {
			return true
		}
	}
	return false
}
