package command_test

import (
	"context"
	"testing"

	"github.com/corebus/platform/internal/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(_ context.Context, cmd *command.Command) (*command.Result, error) {
	return &command.Result{Payload: cmd.Payload}, nil
}

func TestRegistryLookup(t *testing.T) {
	registry := command.NewRegistry()
	registry.Register("echo", command.HandlerFunc(echoHandler))

	h, ok := registry.Lookup("echo")
	require.True(t, ok)

	result, err := h.HandleCommand(context.Background(), &command.Command{Payload: []byte(`{"a":1}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(result.Payload))

	_, ok = registry.Lookup("unknown")
	assert.False(t, ok)
}

func TestRegistryDuplicateRegistrationPanics(t *testing.T) {
	registry := command.NewRegistry()
	registry.Register("echo", command.HandlerFunc(echoHandler))

	assert.Panics(t, func() {
		registry.Register("echo", command.HandlerFunc(echoHandler))
	})
}
