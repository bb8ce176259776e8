package command

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a command.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusRunning  Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed   Status = "FAILED"
	StatusTimedOut Status = "TIMED_OUT"
)

// terminal reports whether s is one from which no further transition occurs.
func (s Status) terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Reply carries where a command's result should be delivered once known.
type Reply struct {
	Queue string `json:"queue,omitempty"`
	Topic string `json:"topic,omitempty"`
}

// Command is the single canonical unit of work accepted through the bus.
// Every command is unique on IdempotencyKey, terminal or not.
type Command struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	BusinessKey          string          `json:"businessKey,omitempty"`
	Payload              json.RawMessage `json:"payload"`
	IdempotencyKey       string          `json:"idempotencyKey"`
	Status               Status          `json:"status"`
	RequestedAt          time.Time       `json:"requestedAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
	Retries              int             `json:"retries"`
	ProcessingLeaseUntil *time.Time      `json:"processingLeaseUntil,omitempty"`
	LastError            string          `json:"lastError,omitempty"`
	Reply                *Reply          `json:"reply,omitempty"`
}

// New builds a PENDING command ready for insertion.
func New(name, businessKey string, payload json.RawMessage, idempotencyKey string, reply *Reply) *Command {
	now := time.Now().UTC()
	return &Command{
		ID:             uuid.New().String(),
		Name:           name,
		BusinessKey:    businessKey,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
		Status:         StatusPending,
		RequestedAt:    now,
		UpdatedAt:      now,
		Reply:          reply,
	}
}

// Terminal reports whether the command has reached a final state.
func (c *Command) Terminal() bool {
	return c.Status.terminal()
}

// LeaseExpired reports whether a RUNNING command's processing lease has lapsed.
func (c *Command) LeaseExpired(now time.Time) bool {
	return c.Status == StatusRunning && c.ProcessingLeaseUntil != nil && now.After(*c.ProcessingLeaseUntil)
}
