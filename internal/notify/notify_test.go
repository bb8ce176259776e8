package notify_test

import (
	"context"
	"testing"

	"github.com/corebus/platform/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAfterCommitRunsOnFlush(t *testing.T) {
	ctx := notify.WithHooks(context.Background())

	var order []int
	notify.AfterCommit(ctx, func() { order = append(order, 1) })
	notify.AfterCommit(ctx, func() { order = append(order, 2) })

	notify.Flush(ctx)
	assert.Equal(t, []int{1, 2}, order)

	// A second flush must not re-run the hooks.
	notify.Flush(ctx)
	assert.Equal(t, []int{1, 2}, order)
}

func TestAfterCommitWithoutHooksIsNoOp(t *testing.T) {
	ctx := context.Background()

	// Neither call should panic when WithHooks was never applied.
	notify.AfterCommit(ctx, func() { t.Fatal("hook must not run") })
	notify.Flush(ctx)
}

func TestBusNotifyNeverBlocks(t *testing.T) {
	bus := notify.NewBus(2)

	bus.Notify("a")
	bus.Notify("b")
	// Buffer is full; this must drop rather than block.
	bus.Notify("c")

	require.Equal(t, "a", <-bus.C())
	require.Equal(t, "b", <-bus.C())

	select {
	case id := <-bus.C():
		t.Fatalf("expected dropped notification, got %q", id)
	default:
	}
}
