// Package dlq stores snapshots of commands parked after terminal failure
// (C5). It is append-only: a parked command's row in the Command Store
// stays present with status=FAILED or TIMED_OUT, and dlq is the durable record an
// operator inspects or replays from.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/corebus/platform/internal/database"
	"github.com/google/uuid"
)

// ErrorClass distinguishes why a command was parked, mirroring the
// classification the Worker Runtime already performs on handler failures.
type ErrorClass string

const (
	ErrorClassPermanent ErrorClass = "PERMANENT"
	ErrorClassTimeout   ErrorClass = "TIMEOUT"
	ErrorClassExhausted ErrorClass = "RETRIES_EXHAUSTED"
)

// Entry is an immutable snapshot of a command at the moment it was parked.
type Entry struct {
	ID            string          `json:"id"`
	CommandID     string          `json:"commandId"`
	CommandName   string          `json:"commandName"`
	BusinessKey   string          `json:"businessKey,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	FailedStatus  string          `json:"failedStatus"`
	ErrorClass    ErrorClass      `json:"errorClass"`
	ErrorMessage  string          `json:"errorMessage"`
	Attempts      int             `json:"attempts"`
	ParkedBy      string          `json:"parkedBy"`
	ParkedAt      time.Time       `json:"parkedAt"`
}

// Store persists DLQ entries.
type Store struct {
	db database.DB
}

// NewStore creates a DLQ Store backed by db.
func NewStore(db database.DB) *Store {
	return &Store{db: db}
}

// querier is satisfied by both database.DB and database.Tx — DLQ inserts
// always share the same transaction as the command status transition that
// parked the row.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (database.CommandTag, error)
}

// Park records a DLQ snapshot. It never rejects a duplicate: a command
// may legitimately be parked more than once across its lifetime (e.g. a
// manual requeue that fails again later) and each parking is a distinct
// entry.
func (s *Store) Park(ctx context.Context, q querier, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ParkedAt.IsZero() {
		e.ParkedAt = time.Now().UTC()
	}

	_, err := q.Exec(ctx, `
		INSERT INTO dlq (
			id, command_id, command_name, business_key, payload,
			failed_status, error_class, error_message, attempts, parked_by, parked_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, e.ID, e.CommandID, e.CommandName, e.BusinessKey, []byte(e.Payload),
		e.FailedStatus, e.ErrorClass, e.ErrorMessage, e.Attempts, e.ParkedBy, e.ParkedAt)
	if err != nil {
		return fmt.Errorf("dlq: park: %w", err)
	}
	return nil
}

// ListByCommand returns every DLQ snapshot recorded for commandID, oldest
// first, so an operator can see the full parking history of a command.
func (s *Store) ListByCommand(ctx context.Context, commandID string) ([]*Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, command_id, command_name, business_key, payload,
			failed_status, error_class, error_message, attempts, parked_by, parked_at
		FROM dlq WHERE command_id = $1 ORDER BY parked_at ASC
	`, commandID)
	if err != nil {
		return nil, fmt.Errorf("dlq: list by command: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.CommandID, &e.CommandName, &e.BusinessKey, &payload,
			&e.FailedStatus, &e.ErrorClass, &e.ErrorMessage, &e.Attempts, &e.ParkedBy, &e.ParkedAt); err != nil {
			return nil, fmt.Errorf("dlq: scan: %w", err)
		}
		e.Payload = payload
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dlq: list iterate: %w", err)
	}
	return out, nil
}
