// Package idempotency enforces the uniqueness of a command's idempotency
// key. Keys are never released: once recorded, a key stays owned by its
// command after that command reaches a terminal status.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/corebus/platform/internal/database"
)

// ErrDuplicateKey is returned by Acquire when another command, whatever its
// status, already owns the given idempotency key.
var ErrDuplicateKey = errors.New("idempotency: duplicate key")

// Store enforces idempotency-key uniqueness inside the same transaction
// that inserts the owning command row.
type Store struct {
	db database.DB
}

// NewStore creates an idempotency Store backed by db.
func NewStore(db database.DB) *Store {
	return &Store{db: db}
}

// querier is satisfied by both database.DB and database.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (database.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) database.Row
}

// Acquire inserts the (key -> commandID) mapping. If the key is already
// owned by another command, it returns that command's ID alongside
// ErrDuplicateKey so the caller can report its existing status.
func (s *Store) Acquire(ctx context.Context, tx querier, key, commandID string) (string, error) {
	if key == "" {
		return commandID, nil
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO idempotency_keys (key, command_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`, key, commandID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("idempotency: insert key: %w", err)
	}

	var owner string
	row := tx.QueryRow(ctx, `SELECT command_id FROM idempotency_keys WHERE key = $1`, key)
	if err := row.Scan(&owner); err != nil {
		return "", fmt.Errorf("idempotency: read owner: %w", err)
	}

	if owner != commandID {
		return owner, ErrDuplicateKey
	}
	return commandID, nil
}
