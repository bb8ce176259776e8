// Package process implements the Process Manager (C8): a persisted DAG
// executor that reacts to command replies and domain events, advancing a
// process instance through sequential, conditional, and parallel-branch
// steps, with compensation on failure, per spec §4.5.
package process

import "time"

// Status is the lifecycle state of a process instance.
type Status string

const (
	StatusRunning      Status = "RUNNING"
	StatusWaiting      Status = "WAITING"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusCompensating Status = "COMPENSATING"
)

// HistoryEntry records one completed step. History is the only place
// completion order lives — compensation walks it backward rather than
// following pointers, per spec §9 "Cyclic references: none".
type HistoryEntry struct {
	Step      string    `json:"step"`
	Result    string    `json:"result"` // "success", "failed", "compensated", or "compensation_failed"
	Timestamp time.Time `json:"timestamp"`
}

// ParallelState tracks a parallel region's branch bookkeeping while the
// process is WAITING at the join step (spec §4.5 step 2, "Parallel").
type ParallelState struct {
	Expected  []string `json:"expected"`
	Completed []string `json:"completed"` // in completion order, for reverse compensation
	Failed    []string `json:"failed"`
}

// done reports whether every expected branch has reported completed or failed.
func (p *ParallelState) done() bool {
	return len(p.Completed)+len(p.Failed) >= len(p.Expected)
}

// ok reports whether the parallel region succeeded outright: every branch
// completed and none failed.
func (p *ParallelState) ok() bool {
	return p.done() && len(p.Failed) == 0
}

// Instance is a persisted process state machine (spec §3 "Process instance").
type Instance struct {
	ID              string                    `json:"id"`
	ProcessType     string                    `json:"processType"`
	BusinessKey     string                    `json:"businessKey"`
	Status          Status                    `json:"status"`
	CurrentStep     string                    `json:"currentStep,omitempty"`
	Data            map[string]interface{}    `json:"data"`
	History         []HistoryEntry            `json:"history"`
	PendingParallel map[string]*ParallelState `json:"pendingParallel,omitempty"`
	CreatedAt       time.Time                 `json:"createdAt"`
	UpdatedAt       time.Time                 `json:"updatedAt"`
}

// stepAttempt returns how many times stepName already appears in history,
// used to derive a stable idempotency key for rescheduling: spec §4.5
// "freshly minted idempotency key derived from (process_id, step_name,
// retry_count) so that replayed schedules collapse".
func (i *Instance) stepAttempt(stepName string) int {
	n := 0
	for _, h := range i.History {
		if h.Step == stepName {
			n++
		}
	}
	return n
}

// recordHistory appends an entry and bumps UpdatedAt.
func (i *Instance) recordHistory(step, result string) {
	i.History = append(i.History, HistoryEntry{Step: step, Result: result, Timestamp: time.Now().UTC()})
	i.UpdatedAt = time.Now().UTC()
}

// mergeData shallow-merges reply data into the process's data map.
func (i *Instance) mergeData(reply map[string]interface{}) {
	if i.Data == nil {
		i.Data = make(map[string]interface{})
	}
	for k, v := range reply {
		i.Data[k] = v
	}
}
