// Package outbox implements the transactional outbox store and relay: the
// single mechanism by which anything committed to Postgres eventually
// reaches the message broker, at least once.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle of an outbox row. There is no permanent failure
// state: a publish failure always recycles a row back to NEW with backoff.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusClaimed   Status = "CLAIMED"
	StatusPublished Status = "PUBLISHED"
)

// Category selects which publisher a row is dispatched to.
type Category string

const (
	CategoryCommand Category = "command"
	CategoryReply   Category = "reply"
	CategoryEvent   Category = "event"
)

// Message is a single row of durable, at-least-once outbound work.
type Message struct {
	ID         string            `json:"id"`
	Category   Category          `json:"category"`
	Topic      string            `json:"topic"`
	Key        string            `json:"key"`
	Type       string            `json:"type"`
	Payload    json.RawMessage   `json:"payload"`
	Headers    map[string]string `json:"headers,omitempty"`
	Status     Status            `json:"status"`
	Attempts   int               `json:"attempts"`
	NextAt     time.Time         `json:"nextAt"`
	ClaimedBy  string            `json:"claimedBy,omitempty"`
	LastError  string            `json:"lastError,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	PublishedAt *time.Time       `json:"publishedAt,omitempty"`
}

// New builds a NEW outbox row ready for insertion in the same transaction
// as the domain write that produced it.
func New(category Category, topic, key, msgType string, payload json.RawMessage, headers map[string]string) *Message {
	now := time.Now().UTC()
	return &Message{
		ID:        uuid.New().String(),
		Category:  category,
		Topic:     topic,
		Key:       key,
		Type:      msgType,
		Payload:   payload,
		Headers:   headers,
		Status:    StatusNew,
		NextAt:    now,
		CreatedAt: now,
	}
}
