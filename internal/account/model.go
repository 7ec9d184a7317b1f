package account

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("account not found")

type Account struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Source is the durable user store owned by the embedding application. The
// admission core only ever reads accounts and rewrites password hashes; it
// never persists anything else.
type Source interface {
	GetByUsername(ctx context.Context, username string) (Account, error)
	UpdatePassword(ctx context.Context, username, passwordHash string) error
}
