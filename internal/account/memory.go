package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Demo account matching the reference deployment.
const (
	DemoUsername = "admin594"
	DemoPassword = "594admin!"
)

// MemoryStore is a process-lifetime account source. It is the default backing
// store when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

func NewMemoryStore(accounts ...Account) *MemoryStore {
	store := &MemoryStore{accounts: make(map[string]Account, len(accounts))}
	for _, acct := range accounts {
		store.accounts[acct.Username] = acct
	}
	return store
}

// DemoStore seeds a memory store with the single demo admin account.
func DemoStore() (*MemoryStore, error) {
	store := NewMemoryStore()
	if err := store.Seed("admin", DemoUsername, DemoPassword, "admin"); err != nil {
		return nil, err
	}
	return store, nil
}

// Seed hashes plainPassword and inserts or replaces the account.
func (s *MemoryStore) Seed(id, username, plainPassword, role string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[username] = Account{
		ID:           id,
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	return nil
}

func (s *MemoryStore) GetByUsername(_ context.Context, username string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[username]
	if !ok {
		return Account{}, ErrNotFound
	}

	return acct, nil
}

func (s *MemoryStore) UpdatePassword(_ context.Context, username, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[username]
	if !ok {
		return ErrNotFound
	}

	acct.PasswordHash = passwordHash
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[username] = acct

	return nil
}
