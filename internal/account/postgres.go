package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// PostgresStore is the durable account source for real deployments. The
// schema is managed by internal/db.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (Account, error) {
	var acct Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, created_at, updated_at
		FROM accounts
		WHERE username = $1
	`, username).Scan(&acct.ID, &acct.Username, &acct.PasswordHash, &acct.Role, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("query account by username: %w", err)
	}

	return acct, nil
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET password_hash = $2, updated_at = $3
		WHERE username = $1
	`, username, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpsertAdmin guarantees a single admin account with the given credentials,
// replacing whichever admin row came first and removing any extras.
func (s *PostgresStore) UpsertAdmin(ctx context.Context, username, plainPassword string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM accounts WHERE role = 'admin' ORDER BY created_at ASC LIMIT 1
	`).Scan(&existingID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("select existing admin: %w", err)
		}
		existingID = id.String()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (id, username, password_hash, role, created_at, updated_at)
			VALUES ($1, $2, $3, 'admin', $4, $4)
		`, existingID, username, string(hash), now); err != nil {
			return fmt.Errorf("insert admin account: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			UPDATE accounts
			SET username = $2, password_hash = $3, updated_at = $4
			WHERE id = $1
		`, existingID, username, string(hash), now); err != nil {
			return fmt.Errorf("update admin account: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM accounts WHERE role = 'admin' AND id <> $1
	`, existingID); err != nil {
		return fmt.Errorf("cleanup extra admins: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
