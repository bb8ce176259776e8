package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/corebus/platform/internal/database"
)

// ErrNotFound is returned when a command id does not exist.
var ErrNotFound = errors.New("command: not found")

// querier is satisfied by both database.DB and database.Tx, following the
// teacher's repository convention of accepting either through the context.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (database.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (database.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) database.Row
}

// Store is the durable record of each command and its lifecycle state (C2).
// Only the Command Bus inserts rows; only the Worker Runtime transitions
// them past PENDING.
type Store struct {
	db database.DB
}

// NewStore creates a command Store backed by db.
func NewStore(db database.DB) *Store {
	return &Store{db: db}
}

// Insert writes cmd using q, normally the caller's transaction so the row
// shares atomicity with the idempotency-key claim and the outbox insert.
func (s *Store) Insert(ctx context.Context, q querier, cmd *Command) error {
	var reply []byte
	if cmd.Reply != nil {
		var err error
		reply, err = json.Marshal(cmd.Reply)
		if err != nil {
			return fmt.Errorf("command: marshal reply: %w", err)
		}
	}

	_, err := q.Exec(ctx, `
		INSERT INTO command (
			id, name, business_key, payload, idempotency_key, status,
			requested_at, updated_at, retries, reply
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,$9)
	`, cmd.ID, cmd.Name, cmd.BusinessKey, []byte(cmd.Payload), cmd.IdempotencyKey, cmd.Status,
		cmd.RequestedAt, cmd.UpdatedAt, reply)
	if err != nil {
		return fmt.Errorf("command: insert: %w", err)
	}
	return nil
}

// Get loads a command by id.
func (s *Store) Get(ctx context.Context, id string) (*Command, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, business_key, payload, idempotency_key, status,
			requested_at, updated_at, retries, processing_lease_until, last_error, reply
		FROM command WHERE id = $1
	`, id)
	cmd, err := scanCommand(row)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("command: get: %w", err)
	}
	return cmd, nil
}

// ListRecent returns the most recently updated commands, newest first.
// The status cache warm-up uses it after a restart, since those are the
// commands callers are most likely still polling.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*Command, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, business_key, payload, idempotency_key, status,
			requested_at, updated_at, retries, processing_lease_until, last_error, reply
		FROM command ORDER BY updated_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("command: list recent: %w", err)
	}
	defer rows.Close()

	var out []*Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("command: scan recent: %w", err)
		}
		out = append(out, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("command: list recent iterate: %w", err)
	}
	return out, nil
}

// AcquireLease transitions a command to RUNNING, setting
// processing_lease_until = now+lease, but only if the row is currently
// PENDING or RUNNING with an expired lease — matching spec.md §4.3 step 3.a.
// It returns (nil, false) without error if another worker already holds a
// live lease or the command has already left these states (duplicate
// delivery), so the caller can treat the delivery as a no-op.
func (s *Store) AcquireLease(ctx context.Context, q querier, id string, lease time.Duration) (*Command, bool, error) {
	now := time.Now().UTC()
	until := now.Add(lease)

	row := q.QueryRow(ctx, `
		UPDATE command
		SET status = $1, processing_lease_until = $2, updated_at = $3
		WHERE id = $4
		  AND (status = $5 OR (status = $1 AND processing_lease_until <= $3))
		RETURNING id, name, business_key, payload, idempotency_key, status,
			requested_at, updated_at, retries, processing_lease_until, last_error, reply
	`, StatusRunning, until, now, id, StatusPending)

	cmd, err := scanCommand(row)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("command: acquire lease: %w", err)
	}
	return cmd, true, nil
}

// MarkSucceeded transitions a command to SUCCEEDED and clears its lease.
// The handler's result is not written to the command row; it travels in
// the reply outbox row the caller inserts.
func (s *Store) MarkSucceeded(ctx context.Context, q querier, id string, result json.RawMessage) error {
	_, err := q.Exec(ctx, `
		UPDATE command
		SET status = $1, processing_lease_until = NULL, updated_at = $2, last_error = ''
		WHERE id = $3
	`, StatusSucceeded, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("command: mark succeeded: %w", err)
	}
	_ = result // the handler result is carried by the reply outbox row, not duplicated here
	return nil
}

// MarkFailed transitions a command to FAILED (permanent failure or
// exhausted transient retries) and clears its lease.
func (s *Store) MarkFailed(ctx context.Context, q querier, id, lastError string) error {
	_, err := q.Exec(ctx, `
		UPDATE command
		SET status = $1, processing_lease_until = NULL, last_error = $2, updated_at = $3
		WHERE id = $4
	`, StatusFailed, lastError, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("command: mark failed: %w", err)
	}
	return nil
}

// MarkTimedOut transitions a command to TIMED_OUT after its processing
// lease expired and no retries remain.
func (s *Store) MarkTimedOut(ctx context.Context, q querier, id, lastError string) error {
	_, err := q.Exec(ctx, `
		UPDATE command
		SET status = $1, processing_lease_until = NULL, last_error = $2, updated_at = $3
		WHERE id = $4
	`, StatusTimedOut, lastError, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("command: mark timed out: %w", err)
	}
	return nil
}

// RetryTransient returns a command to PENDING with an incremented retry
// count, clearing its lease so it can be reclaimed for another attempt.
// It returns the post-increment retry count.
func (s *Store) RetryTransient(ctx context.Context, q querier, id, lastError string) (int, error) {
	row := q.QueryRow(ctx, `
		UPDATE command
		SET status = $1, processing_lease_until = NULL, last_error = $2,
			updated_at = $3, retries = retries + 1
		WHERE id = $4
		RETURNING retries
	`, StatusPending, lastError, time.Now().UTC(), id)

	var retries int
	if err := row.Scan(&retries); err != nil {
		return 0, fmt.Errorf("command: retry transient: %w", err)
	}
	return retries, nil
}

// ReclaimExpiredLeases finds RUNNING commands whose processing_lease_until
// has passed and transitions them: back to PENDING with retries
// incremented if under maxRetries, else to TIMED_OUT. It returns the
// commands in their POST-transition state so the caller can emit a
// CommandTimedOut reply and DLQ snapshot for the latter group.
func (s *Store) ReclaimExpiredLeases(ctx context.Context, q querier, maxRetries, limit int) ([]*Command, error) {
	now := time.Now().UTC()
	rows, err := q.Query(ctx, `
		WITH stuck AS (
			SELECT id FROM command
			WHERE status = $1 AND processing_lease_until <= $2
			ORDER BY id ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE command c
		SET status = CASE WHEN c.retries >= $4 THEN $5 ELSE $6 END,
			retries = CASE WHEN c.retries >= $4 THEN c.retries ELSE c.retries + 1 END,
			processing_lease_until = NULL,
			last_error = 'processing lease expired',
			updated_at = $2
		FROM stuck s
		WHERE c.id = s.id
		RETURNING c.id, c.name, c.business_key, c.payload, c.idempotency_key, c.status,
			c.requested_at, c.updated_at, c.retries, c.processing_lease_until, c.last_error, c.reply
	`, StatusRunning, now, limit, maxRetries, StatusTimedOut, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("command: reclaim expired leases: %w", err)
	}
	defer rows.Close()

	var out []*Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("command: scan reclaimed: %w", err)
		}
		out = append(out, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("command: reclaim iterate: %w", err)
	}
	return out, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanCommand(row scannable) (*Command, error) {
	var cmd Command
	var payload []byte
	var reply []byte
	if err := row.Scan(
		&cmd.ID, &cmd.Name, &cmd.BusinessKey, &payload, &cmd.IdempotencyKey, &cmd.Status,
		&cmd.RequestedAt, &cmd.UpdatedAt, &cmd.Retries, &cmd.ProcessingLeaseUntil, &cmd.LastError, &reply,
	); err != nil {
		return nil, err
	}
	cmd.Payload = payload
	if len(reply) > 0 {
		var r Reply
		if err := json.Unmarshal(reply, &r); err == nil {
			cmd.Reply = &r
		}
	}
	return &cmd, nil
}
