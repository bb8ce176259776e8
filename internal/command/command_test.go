package command_test

import (
	"testing"
	"time"

	"github.com/corebus/platform/internal/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommandDefaults(t *testing.T) {
	cmd := command.New("CreateUser", "biz-1", []byte(`{"username":"alice"}`), "idem-1", nil)

	require.NotEmpty(t, cmd.ID)
	assert.Equal(t, command.StatusPending, cmd.Status)
	assert.Equal(t, "idem-1", cmd.IdempotencyKey)
	assert.Zero(t, cmd.Retries)
	assert.Nil(t, cmd.ProcessingLeaseUntil)
	assert.False(t, cmd.Terminal())
}

func TestTerminalStatuses(t *testing.T) {
	tests := []struct {
		status   command.Status
		terminal bool
	}{
		{command.StatusPending, false},
		{command.StatusRunning, false},
		{command.StatusSucceeded, true},
		{command.StatusFailed, true},
		{command.StatusTimedOut, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			cmd := &command.Command{Status: tt.status}
			assert.Equal(t, tt.terminal, cmd.Terminal())
		})
	}
}

func TestLeaseExpired(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	running := &command.Command{Status: command.StatusRunning, ProcessingLeaseUntil: &past}
	assert.True(t, running.LeaseExpired(now))

	held := &command.Command{Status: command.StatusRunning, ProcessingLeaseUntil: &future}
	assert.False(t, held.LeaseExpired(now))

	pending := &command.Command{Status: command.StatusPending, ProcessingLeaseUntil: &past}
	assert.False(t, pending.LeaseExpired(now))
}
