package outbox_test

import (
	"testing"
	"time"

	"github.com/corebus/platform/internal/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageDefaults(t *testing.T) {
	before := time.Now().UTC()
	msg := outbox.New(outbox.CategoryCommand, "APP.CMD.ECHO.Q", "biz-1", "CommandRequested",
		[]byte(`{"a":1}`), map[string]string{"commandId": "c-1"})
	after := time.Now().UTC()

	require.NotEmpty(t, msg.ID)
	assert.Equal(t, outbox.StatusNew, msg.Status)
	assert.Zero(t, msg.Attempts)
	assert.Empty(t, msg.ClaimedBy)
	assert.Nil(t, msg.PublishedAt)

	// A fresh row is due immediately.
	assert.False(t, msg.NextAt.Before(before))
	assert.False(t, msg.NextAt.After(after))
	assert.Equal(t, msg.CreatedAt, msg.NextAt)
}

func TestNewMessageIDsAreUnique(t *testing.T) {
	a := outbox.New(outbox.CategoryReply, "Q", "k", "CommandCompleted", nil, nil)
	b := outbox.New(outbox.CategoryReply, "Q", "k", "CommandCompleted", nil, nil)
	assert.NotEqual(t, a.ID, b.ID)
}
