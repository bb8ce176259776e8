package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/corebus/platform/internal/command"
	"github.com/corebus/platform/internal/database"
	"github.com/corebus/platform/internal/notify"
	"github.com/corebus/platform/pkg/logger"
	"github.com/corebus/platform/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Manager advances process instances through their configured step graphs
// in reaction to command replies, per spec §4.5. Every state transition —
// the instance's own row plus the outbox row for the next scheduled command
// — commits in one database transaction, so a crash between the two never
// happens.
type Manager struct {
	db       database.DB
	store    *Store
	registry *Registry
	bus      *command.Bus
	log      *logger.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// NewManager wires a Process Manager from its collaborators. m may be
// nil in tests.
func NewManager(db database.DB, store *Store, registry *Registry, bus *command.Bus, log *logger.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		db: db, store: store, registry: registry, bus: bus, log: log, metrics: m,
		tracer: otel.GetTracerProvider().Tracer("process-manager"),
	}
}

func (m *Manager) recordTransition(processType string, status Status) {
	if m.metrics != nil {
		m.metrics.ProcessTransitions.WithLabelValues(processType, string(status)).Inc()
	}
}

// Start begins a new instance of processType for businessKey, scheduling
// its first step's command. If an instance for this (processType,
// businessKey) pair is already running, its id is returned instead of
// starting a duplicate — Start is itself idempotent on business key.
func (m *Manager) Start(ctx context.Context, processType, businessKey string, initialData map[string]interface{}) (string, error) {
	ctx, span := m.tracer.Start(ctx, "process_manager.start",
		trace.WithAttributes(attribute.String("process.type", processType), attribute.String("process.business_key", businessKey)),
	)
	defer span.End()

	cfg, ok := m.registry.Lookup(processType)
	if !ok {
		return "", fmt.Errorf("process: no configuration registered for type %q", processType)
	}

	if existing, err := m.store.GetByBusinessKey(ctx, processType, businessKey); err == nil {
		if existing.Status == StatusRunning || existing.Status == StatusWaiting || existing.Status == StatusCompensating {
			return existing.ID, nil
		}
	} else if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("process: lookup existing instance: %w", err)
	}

	now := time.Now().UTC()
	inst := &Instance{
		ID: newInstanceID(), ProcessType: processType, BusinessKey: businessKey,
		Status: StatusRunning, CurrentStep: cfg.StartStep, Data: initialData,
		CreatedAt: now, UpdatedAt: now,
	}

	ctx = notify.WithHooks(ctx)
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("process: begin start tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := m.store.Insert(ctx, tx, inst); err != nil {
		return "", err
	}
	if err := m.scheduleStep(ctx, tx, cfg, inst, cfg.StartStep); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("process: commit start tx: %w", err)
	}
	notify.Flush(ctx)

	m.recordTransition(processType, StatusRunning)
	m.log.Info("process started", zap.String("process_id", inst.ID), zap.String("process_type", processType))
	return inst.ID, nil
}

// Get returns the current persisted state of a process instance, for
// status reads.
func (m *Manager) Get(ctx context.Context, id string) (*Instance, error) {
	return m.store.GetSnapshot(ctx, id)
}

// Handle implements consumer.Handler: it reads a reply/event message meant
// for the Process Manager's own reply queue and dispatches to OnReply.
func (m *Manager) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var commandID, replyType string
	for _, h := range msg.Headers {
		switch string(h.Key) {
		case "commandId":
			commandID = string(h.Value)
		case "type":
			replyType = string(h.Value)
		}
	}
	if commandID == "" {
		return fmt.Errorf("process: reply message missing commandId header")
	}

	var reply map[string]interface{}
	if len(msg.Value) > 0 {
		if err := json.Unmarshal(msg.Value, &reply); err != nil {
			return fmt.Errorf("process: unmarshal reply payload: %w", err)
		}
	}

	return m.OnReply(ctx, commandID, replyType, reply)
}

// OnReply resolves commandID back to the process instance and step that
// scheduled it, then advances the process per spec §4.5. replyType is one
// of "CommandCompleted", "CommandFailed", or "CommandTimedOut"; the latter
// two are both treated as step failure, triggering compensation.
func (m *Manager) OnReply(ctx context.Context, commandID, replyType string, reply map[string]interface{}) error {
	processID, stepName, branchName, err := m.store.ResolveCommand(ctx, commandID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Not every command reply is process-owned; a plain API-submitted
			// command's reply also flows through the bus and is not an error here.
			return nil
		}
		return err
	}

	ctx, span := m.tracer.Start(ctx, "process_manager.on_reply",
		trace.WithAttributes(attribute.String("process.id", processID), attribute.String("process.step", stepName)),
	)
	defer span.End()

	ctx = notify.WithHooks(ctx)
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("process: begin on_reply tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	inst, err := m.store.Get(ctx, tx, processID)
	if err != nil {
		return fmt.Errorf("process: load instance: %w", err)
	}
	if inst.Status == StatusCompleted || inst.Status == StatusFailed {
		// A stray or duplicate reply arriving after the process already
		// reached a terminal state: nothing left to advance.
		return nil
	}
	cfg, ok := m.registry.Lookup(inst.ProcessType)
	if !ok {
		return fmt.Errorf("process: no configuration registered for type %q", inst.ProcessType)
	}

	succeeded := replyType == "CommandCompleted"
	if err := m.advance(ctx, tx, cfg, inst, stepName, branchName, succeeded, reply); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("process: commit on_reply tx: %w", err)
	}
	notify.Flush(ctx)
	m.recordTransition(inst.ProcessType, inst.Status)
	return nil
}

// advance implements spec §4.5 steps 1-3: record the step's outcome, then
// either schedule the next step, enter/continue a parallel join, or begin
// reverse-order compensation.
func (m *Manager) advance(ctx context.Context, tx database.Tx, cfg *Configuration, inst *Instance, stepName, branchName string, succeeded bool, reply map[string]interface{}) error {
	if strings.HasPrefix(stepName, "compensate:") {
		return m.advanceCompensation(ctx, tx, inst, stepName, succeeded)
	}
	if branchName != "" {
		return m.advanceParallelBranch(ctx, tx, cfg, inst, stepName, branchName, succeeded, reply)
	}

	if !succeeded {
		inst.recordHistory(stepName, "failed")
		if err := m.beginCompensation(ctx, tx, cfg, inst); err != nil {
			return err
		}
		return m.store.Update(ctx, tx, inst)
	}

	inst.mergeData(reply)
	inst.recordHistory(stepName, "success")

	step, err := cfg.step(stepName)
	if err != nil {
		return err
	}
	return m.dispatchNext(ctx, tx, cfg, inst, step)
}

// dispatchNext inspects step's NextStepStrategy and schedules whatever
// comes next, per spec §9's tagged-variant dispatch.
func (m *Manager) dispatchNext(ctx context.Context, tx database.Tx, cfg *Configuration, inst *Instance, step *Step) error {
	switch next := step.Next.(type) {
	case Direct:
		inst.CurrentStep = next.Next
		if err := m.scheduleStep(ctx, tx, cfg, inst, next.Next); err != nil {
			return err
		}
		return m.store.Update(ctx, tx, inst)

	case Conditional:
		target := next.FalseStep
		if next.Predicate(inst.Data) {
			target = next.TrueStep
		}
		inst.CurrentStep = target
		if err := m.scheduleStep(ctx, tx, cfg, inst, target); err != nil {
			return err
		}
		return m.store.Update(ctx, tx, inst)

	case Terminal:
		inst.Status = StatusCompleted
		inst.CurrentStep = ""
		return m.store.Update(ctx, tx, inst)

	case Parallel:
		inst.Status = StatusWaiting
		inst.CurrentStep = next.Join
		if inst.PendingParallel == nil {
			inst.PendingParallel = make(map[string]*ParallelState)
		}
		inst.PendingParallel[next.Join] = &ParallelState{Expected: append([]string(nil), next.Branches...)}
		for _, branch := range next.Branches {
			if err := m.scheduleBranch(ctx, tx, cfg, inst, branch, next.Join); err != nil {
				return err
			}
		}
		return m.store.Update(ctx, tx, inst)

	default:
		return fmt.Errorf("process: unsupported next-step strategy %T", next)
	}
}

// advanceParallelBranch records one branch's outcome and, once every
// expected branch has reported, resolves the join: scheduling Join's
// command on success, or triggering compensation on any branch failure.
func (m *Manager) advanceParallelBranch(ctx context.Context, tx database.Tx, cfg *Configuration, inst *Instance, stepName, joinName string, succeeded bool, reply map[string]interface{}) error {
	state, ok := inst.PendingParallel[joinName]
	if !ok {
		// The region already resolved — a duplicate or late branch reply
		// after the join was scheduled or compensation began.
		m.log.Debug("ignoring branch reply for resolved parallel region",
			zap.String("process_id", inst.ID), zap.String("join", joinName), zap.String("branch", stepName))
		return nil
	}

	if succeeded {
		inst.mergeData(reply)
		inst.recordHistory(stepName, "success")
		state.Completed = append(state.Completed, stepName)
	} else {
		inst.recordHistory(stepName, "failed")
		state.Failed = append(state.Failed, stepName)
	}

	if !state.done() {
		return m.store.Update(ctx, tx, inst)
	}

	delete(inst.PendingParallel, joinName)
	if !state.ok() {
		if err := m.beginCompensation(ctx, tx, cfg, inst); err != nil {
			return err
		}
		return m.store.Update(ctx, tx, inst)
	}

	inst.Status = StatusRunning
	inst.CurrentStep = joinName
	if err := m.scheduleStep(ctx, tx, cfg, inst, joinName); err != nil {
		return err
	}
	return m.store.Update(ctx, tx, inst)
}

// scheduleStep schedules stepName's command, persisting the process-command
// mapping so its eventual reply resolves back here.
func (m *Manager) scheduleStep(ctx context.Context, tx database.Tx, cfg *Configuration, inst *Instance, stepName string) error {
	return m.scheduleStepBranch(ctx, tx, cfg, inst, stepName, "")
}

func (m *Manager) scheduleBranch(ctx context.Context, tx database.Tx, cfg *Configuration, inst *Instance, stepName, joinName string) error {
	return m.scheduleStepBranch(ctx, tx, cfg, inst, stepName, joinName)
}

func (m *Manager) scheduleStepBranch(ctx context.Context, tx database.Tx, cfg *Configuration, inst *Instance, stepName, branchName string) error {
	step, err := cfg.step(stepName)
	if err != nil {
		return err
	}
	payload, err := step.payload(inst.Data)
	if err != nil {
		return fmt.Errorf("process: build payload for step %q: %w", stepName, err)
	}

	attempt := inst.stepAttempt(stepName)
	req := &command.AcceptRequest{
		Name:           step.CommandName,
		IdempotencyKey: fmt.Sprintf("process:%s:%s:%d", inst.ID, stepName, attempt),
		BusinessKey:    inst.BusinessKey,
		Payload:        payload,
		CorrelationID:  inst.ID,
	}

	cmd, _, err := m.bus.Enqueue(ctx, tx, req)
	if err != nil {
		if errors.Is(err, command.ErrDuplicateIdempotencyKey) {
			// The step's command is already in flight from a prior attempt
			// at this same transaction — nothing further to schedule.
			return nil
		}
		return fmt.Errorf("process: schedule step %q: %w", stepName, err)
	}

	if err := m.store.MapCommand(ctx, tx, cmd.ID, inst.ID, stepName, branchName); err != nil {
		return err
	}
	return nil
}

// compensationJoin keys the pending-parallel entry that tracks in-flight
// compensation commands while the process is COMPENSATING.
const compensationJoin = "__compensation__"

// beginCompensation walks History backward from the most recently
// completed step, scheduling each step's declared Compensation in reverse
// completion order. The outbox preserves that enqueue order per business
// key, so compensations execute sequentially newest-first on an
// order-preserving transport. Steps with no Compensation are skipped;
// their effect, if any, is assumed idempotent or inert. The process stays
// COMPENSATING until every compensation reply arrives, then goes FAILED.
func (m *Manager) beginCompensation(ctx context.Context, tx database.Tx, cfg *Configuration, inst *Instance) error {
	inst.Status = StatusCompensating
	inst.CurrentStep = ""

	var scheduled []string
	for i := len(inst.History) - 1; i >= 0; i-- {
		entry := inst.History[i]
		if entry.Result != "success" {
			continue
		}
		step, err := cfg.step(entry.Step)
		if err != nil {
			return err
		}
		if step.Compensation == nil {
			continue
		}
		name := "compensate:" + entry.Step
		if containsString(scheduled, name) {
			continue
		}
		if err := m.scheduleCompensation(ctx, tx, inst, step); err != nil {
			return err
		}
		scheduled = append(scheduled, name)
	}

	if len(scheduled) == 0 {
		inst.Status = StatusFailed
		return nil
	}

	if inst.PendingParallel == nil {
		inst.PendingParallel = make(map[string]*ParallelState)
	}
	inst.PendingParallel[compensationJoin] = &ParallelState{Expected: scheduled}
	return nil
}

// advanceCompensation records one compensation command's reply; once
// every scheduled compensation has reported, the process reaches FAILED.
func (m *Manager) advanceCompensation(ctx context.Context, tx database.Tx, inst *Instance, stepName string, succeeded bool) error {
	state, ok := inst.PendingParallel[compensationJoin]
	if !ok {
		return nil
	}

	original := strings.TrimPrefix(stepName, "compensate:")
	if succeeded {
		inst.recordHistory(original, "compensated")
		state.Completed = append(state.Completed, stepName)
	} else {
		// A failed compensation is recorded but cannot be retried
		// automatically; the command itself is already parked in the DLQ.
		inst.recordHistory(original, "compensation_failed")
		state.Failed = append(state.Failed, stepName)
	}

	if state.done() {
		delete(inst.PendingParallel, compensationJoin)
		inst.Status = StatusFailed
	}
	return m.store.Update(ctx, tx, inst)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (m *Manager) scheduleCompensation(ctx context.Context, tx database.Tx, inst *Instance, step *Step) error {
	var payload []byte
	var err error
	if step.Compensation.BuildPayload != nil {
		payload, err = step.Compensation.BuildPayload(inst.Data)
	} else {
		payload, err = step.payload(inst.Data)
	}
	if err != nil {
		return fmt.Errorf("process: build compensation payload for step %q: %w", step.Name, err)
	}

	attempt := inst.stepAttempt("compensate:" + step.Name)
	req := &command.AcceptRequest{
		Name:           step.Compensation.CommandName,
		IdempotencyKey: fmt.Sprintf("process:%s:compensate:%s:%d", inst.ID, step.Name, attempt),
		BusinessKey:    inst.BusinessKey,
		Payload:        payload,
		CorrelationID:  inst.ID,
	}

	cmd, _, err := m.bus.Enqueue(ctx, tx, req)
	if err != nil {
		if errors.Is(err, command.ErrDuplicateIdempotencyKey) {
			return nil
		}
		return fmt.Errorf("process: schedule compensation for step %q: %w", step.Name, err)
	}

	if err := m.store.MapCommand(ctx, tx, cmd.ID, inst.ID, "compensate:"+step.Name, ""); err != nil {
		return err
	}
	return nil
}
