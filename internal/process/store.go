package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/corebus/platform/internal/database"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a process instance id does not exist.
var ErrNotFound = errors.New("process: not found")

// querier is satisfied by both database.DB and database.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (database.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (database.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) database.Row
}

// Store persists process instances and the command-to-process mapping that
// lets a Manager resolve an incoming command reply back to the step that
// scheduled it.
type Store struct {
	db database.DB
}

// NewStore creates a process Store backed by db.
func NewStore(db database.DB) *Store {
	return &Store{db: db}
}

// Insert writes a freshly started instance using q.
func (s *Store) Insert(ctx context.Context, q querier, inst *Instance) error {
	data, history, pending, err := marshalInstance(inst)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO process_instance (
			id, process_type, business_key, status, current_step,
			data, history, pending_parallel, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, inst.ID, inst.ProcessType, inst.BusinessKey, inst.Status, inst.CurrentStep,
		data, history, pending, inst.CreatedAt, inst.UpdatedAt)
	if err != nil {
		return fmt.Errorf("process: insert instance: %w", err)
	}
	return nil
}

// Get loads an instance by id, locking the row FOR UPDATE when q is a
// transaction so concurrent replies for the same process serialize.
func (s *Store) Get(ctx context.Context, q querier, id string) (*Instance, error) {
	row := q.QueryRow(ctx, `
		SELECT id, process_type, business_key, status, current_step,
			data, history, pending_parallel, created_at, updated_at
		FROM process_instance WHERE id = $1 FOR UPDATE
	`, id)
	return scanInstance(row)
}

// GetSnapshot loads an instance without locking, for status reads outside
// any transaction.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*Instance, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, process_type, business_key, status, current_step,
			data, history, pending_parallel, created_at, updated_at
		FROM process_instance WHERE id = $1
	`, id)
	return scanInstance(row)
}

// GetByBusinessKey looks up the most recently created instance of
// processType keyed by businessKey, whatever its status; Start checks that
// status to decide whether a process is already underway for that key
// before creating a new one.
func (s *Store) GetByBusinessKey(ctx context.Context, processType, businessKey string) (*Instance, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, process_type, business_key, status, current_step,
			data, history, pending_parallel, created_at, updated_at
		FROM process_instance WHERE process_type = $1 AND business_key = $2
		ORDER BY created_at DESC LIMIT 1
	`, processType, businessKey)
	return scanInstance(row)
}

// Update persists the full mutable state of inst: status, current step,
// data, history, and pending-parallel bookkeeping.
func (s *Store) Update(ctx context.Context, q querier, inst *Instance) error {
	data, history, pending, err := marshalInstance(inst)
	if err != nil {
		return err
	}
	inst.UpdatedAt = time.Now().UTC()
	_, err = q.Exec(ctx, `
		UPDATE process_instance
		SET status = $1, current_step = $2, data = $3, history = $4,
			pending_parallel = $5, updated_at = $6
		WHERE id = $7
	`, inst.Status, inst.CurrentStep, data, history, pending, inst.UpdatedAt, inst.ID)
	if err != nil {
		return fmt.Errorf("process: update instance: %w", err)
	}
	return nil
}

// MapCommand records that commandID was scheduled by processID's stepName,
// optionally as one branch of a parallel region, so a later OnReply call
// can resolve the reply back to its owning process and step.
func (s *Store) MapCommand(ctx context.Context, q querier, commandID, processID, stepName, branchName string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO process_command (command_id, process_id, step_name, branch_name)
		VALUES ($1,$2,$3,NULLIF($4,''))
	`, commandID, processID, stepName, branchName)
	if err != nil {
		return fmt.Errorf("process: map command: %w", err)
	}
	return nil
}

// ResolveCommand returns the process id, step name, and branch name (empty
// if not part of a parallel region) that scheduled commandID.
func (s *Store) ResolveCommand(ctx context.Context, commandID string) (processID, stepName, branchName string, err error) {
	var branch *string
	row := s.db.QueryRow(ctx, `
		SELECT process_id, step_name, branch_name FROM process_command WHERE command_id = $1
	`, commandID)
	if err := row.Scan(&processID, &stepName, &branch); err != nil {
		if err.Error() == "no rows in result set" {
			return "", "", "", ErrNotFound
		}
		return "", "", "", fmt.Errorf("process: resolve command: %w", err)
	}
	if branch != nil {
		branchName = *branch
	}
	return processID, stepName, branchName, nil
}

func marshalInstance(inst *Instance) (data, history, pending []byte, err error) {
	if data, err = json.Marshal(inst.Data); err != nil {
		return nil, nil, nil, fmt.Errorf("process: marshal data: %w", err)
	}
	if history, err = json.Marshal(inst.History); err != nil {
		return nil, nil, nil, fmt.Errorf("process: marshal history: %w", err)
	}
	if pending, err = json.Marshal(inst.PendingParallel); err != nil {
		return nil, nil, nil, fmt.Errorf("process: marshal pending parallel: %w", err)
	}
	return data, history, pending, nil
}

func scanInstance(row database.Row) (*Instance, error) {
	var inst Instance
	var data, history, pending []byte
	if err := row.Scan(
		&inst.ID, &inst.ProcessType, &inst.BusinessKey, &inst.Status, &inst.CurrentStep,
		&data, &history, &pending, &inst.CreatedAt, &inst.UpdatedAt,
	); err != nil {
		if err.Error() == "no rows in result set" {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &inst.Data); err != nil {
			return nil, fmt.Errorf("process: unmarshal data: %w", err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &inst.History); err != nil {
			return nil, fmt.Errorf("process: unmarshal history: %w", err)
		}
	}
	if len(pending) > 0 {
		if err := json.Unmarshal(pending, &inst.PendingParallel); err != nil {
			return nil, fmt.Errorf("process: unmarshal pending parallel: %w", err)
		}
	}
	return &inst, nil
}

// newInstanceID mints a fresh process instance id.
func newInstanceID() string {
	return uuid.NewString()
}
