package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/corebus/platform/internal/database"
	"github.com/corebus/platform/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// querier is satisfied by both database.DB and database.Tx; callers pass
// either as an explicit argument.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (database.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (database.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) database.Row
}

// Store persists outbox rows and implements the claim/publish/requeue
// lifecycle described by the relay's sweep and fast-path loops.
type Store struct {
	db          database.DB
	log         *logger.Logger
	tracer      trace.Tracer
	maxBackoff  time.Duration
	claimLease  time.Duration
}

// NewStore creates an outbox Store. maxBackoff caps exponential retry
// delay; claimLease is how long a CLAIMED row is held before it becomes
// eligible for stuck reclaim.
func NewStore(db database.DB, log *logger.Logger, maxBackoff, claimLease time.Duration) *Store {
	return &Store{
		db:         db,
		log:        log,
		tracer:     otel.GetTracerProvider().Tracer("outbox-store"),
		maxBackoff: maxBackoff,
		claimLease: claimLease,
	}
}

// Insert writes msg using q, which is normally the caller's transaction —
// the insert must share atomicity with whatever domain write produced it.
func (s *Store) Insert(ctx context.Context, q querier, msg *Message) error {
	ctx, span := s.tracer.Start(ctx, "outbox.insert",
		trace.WithAttributes(attribute.String("outbox.id", msg.ID), attribute.String("outbox.category", string(msg.Category))),
	)
	defer span.End()

	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return fmt.Errorf("outbox: marshal headers: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO outbox (
			id, category, topic, key, type, payload, headers,
			status, attempts, next_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,$9,$10)
	`, msg.ID, msg.Category, msg.Topic, msg.Key, msg.Type, []byte(msg.Payload), headers,
		msg.Status, msg.NextAt, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("outbox: insert: %w", err)
	}
	return nil
}

// ClaimBatch claims up to limit rows eligible for publish: status=NEW with
// next_at due, or status=CLAIMED stuck past claimLease. Claiming sets
// status=CLAIMED, claimed_by=workerID, and refreshes next_at to now+lease.
func (s *Store) ClaimBatch(ctx context.Context, workerID string, limit int) ([]*Message, error) {
	ctx, span := s.tracer.Start(ctx, "outbox.claim_batch", trace.WithAttributes(attribute.Int("limit", limit)))
	defer span.End()

	now := time.Now().UTC()
	lease := now.Add(s.claimLease)

	rows, err := s.db.Query(ctx, `
		WITH claimable AS (
			SELECT id FROM outbox
			WHERE (status = $1 AND next_at <= $2)
			   OR (status = $3 AND next_at <= $2)
			ORDER BY seq ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox o
		SET status = $3, claimed_by = $5, next_at = $6
		FROM claimable c
		WHERE o.id = c.id
		RETURNING o.id, o.category, o.topic, o.key, o.type, o.payload, o.headers,
			o.status, o.attempts, o.next_at, o.claimed_by, o.last_error, o.created_at, o.published_at
	`, StatusNew, now, StatusClaimed, limit, workerID, lease)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim batch: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: claim batch iterate: %w", err)
	}
	return out, nil
}

// ClaimByID attempts to claim a single row by id for the fast path. It
// returns (nil, nil) if the row is not currently claimable — another
// worker may already hold it, or the sweep already published it.
func (s *Store) ClaimByID(ctx context.Context, workerID, id string) (*Message, error) {
	now := time.Now().UTC()
	lease := now.Add(s.claimLease)

	row := s.db.QueryRow(ctx, `
		UPDATE outbox
		SET status = $1, claimed_by = $2, next_at = $3
		WHERE id = $4 AND status = $5 AND next_at <= $6
		RETURNING id, category, topic, key, type, payload, headers,
			status, attempts, next_at, claimed_by, last_error, created_at, published_at
	`, StatusClaimed, workerID, lease, id, StatusNew, now)

	msg, err := scanMessage(row)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return nil, nil
		}
		return nil, fmt.Errorf("outbox: claim by id: %w", err)
	}
	return msg, nil
}

// MarkPublished transitions a claimed row to PUBLISHED, a terminal state.
func (s *Store) MarkPublished(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE outbox SET status = $1, published_at = $2 WHERE id = $3
	`, StatusPublished, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("outbox: mark published: %w", err)
	}
	return nil
}

// MarkFailed records a publish failure, incrementing attempts and
// recomputing next_at with exponential backoff and jitter, capped at
// maxBackoff, then returning the row to NEW so it is retried.
func (s *Store) MarkFailed(ctx context.Context, id string, publishErr error) error {
	_, err := s.db.Exec(ctx, `
		UPDATE outbox
		SET status = $1, attempts = attempts + 1, last_error = $2, next_at = $3, claimed_by = NULL
		WHERE id = $4
	`, StatusNew, publishErr.Error(), s.nextBackoff(ctx, id), id)
	if err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}

// nextBackoff reads the row's current attempts and computes the next
// retry time; attempts has not yet been incremented by the caller's UPDATE
// when this runs, so we add one here to match the post-increment value.
func (s *Store) nextBackoff(ctx context.Context, id string) time.Time {
	var attempts int
	row := s.db.QueryRow(ctx, `SELECT attempts FROM outbox WHERE id = $1`, id)
	if err := row.Scan(&attempts); err != nil {
		attempts = 0
	}
	attempts++

	backoff := time.Duration(1<<uint(minInt(attempts, 20))) * 100 * time.Millisecond
	if backoff > s.maxBackoff {
		backoff = s.maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/4 + 1))
	if backoff+jitter > s.maxBackoff {
		jitter = s.maxBackoff - backoff
	}
	return time.Now().UTC().Add(backoff + jitter)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Cleanup removes PUBLISHED rows older than olderThan, mirroring the
// teacher's retention sweep.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.db.Exec(ctx, `DELETE FROM outbox WHERE status = $1 AND published_at < $2`, StatusPublished, cutoff)
	if err != nil {
		return 0, fmt.Errorf("outbox: cleanup: %w", err)
	}
	n := tag.RowsAffected()
	if n > 0 {
		s.log.Info("cleaned up published outbox rows", zap.Int64("count", n))
	}
	return n, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scannable) (*Message, error) {
	var msg Message
	var headers []byte
	var payload []byte
	if err := row.Scan(
		&msg.ID, &msg.Category, &msg.Topic, &msg.Key, &msg.Type, &payload, &headers,
		&msg.Status, &msg.Attempts, &msg.NextAt, &msg.ClaimedBy, &msg.LastError, &msg.CreatedAt, &msg.PublishedAt,
	); err != nil {
		return nil, err
	}
	msg.Payload = payload
	if len(headers) > 0 {
		_ = json.Unmarshal(headers, &msg.Headers)
	}
	return &msg, nil
}
