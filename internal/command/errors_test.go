package command_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/corebus/platform/internal/command"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	cause := errors.New("connection refused")

	permanent := command.NewPermanentError("invalid payload", nil)
	transient := command.NewTransientError("downstream unavailable", cause)

	assert.True(t, command.IsPermanent(permanent))
	assert.False(t, command.IsPermanent(transient))
	assert.True(t, command.IsTransient(transient))
	assert.False(t, command.IsTransient(permanent))

	// Uncategorized errors are neither: the worker treats them as
	// transient by default.
	plain := fmt.Errorf("something broke")
	assert.False(t, command.IsPermanent(plain))
	assert.False(t, command.IsTransient(plain))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("row locked")
	err := command.NewTransientError("db busy", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "db busy")
	assert.Contains(t, err.Error(), "row locked")
}
