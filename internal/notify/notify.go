// Package notify implements the fast-path notifier (C9): an in-process hint
// that wakes the outbox relay immediately after a transaction that inserted
// an outbox row commits, instead of waiting for the next sweep tick.
//
// It adds no correctness of its own — the sweep loop alone guarantees
// at-least-once publish — only latency reduction.
package notify

import (
	"context"
	"sync"
)

type ctxKey struct{}

// hooks is the after-commit callback list carried through a context, mirroring
// the teacher's pattern of passing transaction-scoped state through
// context.Context rather than a package-level global.
type hooks struct {
	mu   sync.Mutex
	fns  []func()
}

// WithHooks returns a context carrying a fresh after-commit hook list. The
// Command Bus calls this once per accept transaction.
func WithHooks(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, &hooks{})
}

// AfterCommit registers fn to run once the transaction carried by ctx
// commits successfully. It is a no-op if ctx was not produced by WithHooks.
func AfterCommit(ctx context.Context, fn func()) {
	h, ok := ctx.Value(ctxKey{}).(*hooks)
	if !ok {
		return
	}
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

// Flush runs every hook registered on ctx. Callers invoke this exactly once,
// immediately after a successful commit.
func Flush(ctx context.Context) {
	h, ok := ctx.Value(ctxKey{}).(*hooks)
	if !ok {
		return
	}
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Bus is the process-local concurrent queue the relay drains. It carries
// outbox row ids inserted since the relay's last claim, letting the
// dedicated fast-path publisher attempt an immediate single-row claim.
type Bus struct {
	ch chan string
}

// NewBus creates a fast-path notification bus with the given buffer size.
// A full buffer drops the new notification silently (Notify never
// blocks) — a dropped hint only costs latency, never correctness, because
// the sweep loop will pick the row up on its next tick regardless.
func NewBus(buffer int) *Bus {
	return &Bus{ch: make(chan string, buffer)}
}

// Notify enqueues id for fast-path publish. Non-blocking: if the channel is
// full, the notification is dropped.
func (b *Bus) Notify(id string) {
	select {
	case b.ch <- id:
	default:
	}
}

// C exposes the channel for the relay's fast-path goroutine to range over.
func (b *Bus) C() <-chan string {
	return b.ch
}
