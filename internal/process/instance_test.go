package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepAttemptCountsHistory(t *testing.T) {
	inst := &Instance{}
	assert.Equal(t, 0, inst.stepAttempt("reserve"))

	inst.recordHistory("reserve", "failed")
	inst.recordHistory("reserve", "success")
	inst.recordHistory("charge", "success")

	assert.Equal(t, 2, inst.stepAttempt("reserve"))
	assert.Equal(t, 1, inst.stepAttempt("charge"))
	assert.Equal(t, 0, inst.stepAttempt("ship"))
}

func TestMergeDataShallowMerges(t *testing.T) {
	inst := &Instance{Data: map[string]interface{}{"a": 1, "b": "old"}}

	inst.mergeData(map[string]interface{}{"b": "new", "c": true})

	assert.Equal(t, 1, inst.Data["a"])
	assert.Equal(t, "new", inst.Data["b"])
	assert.Equal(t, true, inst.Data["c"])
}

func TestMergeDataIntoNilMap(t *testing.T) {
	inst := &Instance{}
	inst.mergeData(map[string]interface{}{"userId": "u-123"})
	require.NotNil(t, inst.Data)
	assert.Equal(t, "u-123", inst.Data["userId"])
}

func TestParallelStateResolution(t *testing.T) {
	state := &ParallelState{Expected: []string{"b", "c", "d"}}
	assert.False(t, state.done())

	state.Completed = append(state.Completed, "b")
	state.Failed = append(state.Failed, "c")
	assert.False(t, state.done())

	state.Completed = append(state.Completed, "d")
	assert.True(t, state.done())
	assert.False(t, state.ok(), "a failed branch must not resolve the join")

	clean := &ParallelState{
		Expected:  []string{"b", "c"},
		Completed: []string{"c", "b"},
	}
	assert.True(t, clean.done())
	assert.True(t, clean.ok())
}

func TestHistoryPreservesCompletionOrder(t *testing.T) {
	inst := &Instance{}
	inst.recordHistory("b", "success")
	inst.recordHistory("d", "success")
	inst.recordHistory("c", "failed")

	require.Len(t, inst.History, 3)
	assert.Equal(t, "b", inst.History[0].Step)
	assert.Equal(t, "d", inst.History[1].Step)
	assert.Equal(t, "c", inst.History[2].Step)
}
