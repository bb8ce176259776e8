// Package inbox implements the per-(message-id, handler) dedup marker (C4)
// that guarantees a duplicate broker delivery is handled at most once.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/corebus/platform/internal/database"
)

// ErrAlreadyProcessed is returned by Claim when the (messageID, handler)
// pair already has a marker — the caller should ack and return without
// invoking the handler again.
var ErrAlreadyProcessed = errors.New("inbox: already processed")

// Store persists inbox markers, applying the same insert-if-absent idiom
// the idempotency store uses for command dedup.
type Store struct {
	db database.DB
}

// NewStore creates an inbox Store backed by db.
func NewStore(db database.DB) *Store {
	return &Store{db: db}
}

// Claim inserts the (messageID, handler) marker. If it already exists,
// ErrAlreadyProcessed is returned and the caller must not invoke the
// handler for this delivery.
func (s *Store) Claim(ctx context.Context, messageID, handler string) error {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO inbox (message_id, handler, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, handler) DO NOTHING
	`, messageID, handler, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inbox: claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}
