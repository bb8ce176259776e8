package process

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRejectsDuplicateProcessType(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&Configuration{ProcessType: "order", StartStep: "reserve"})

	_, ok := registry.Lookup("order")
	assert.True(t, ok)
	_, ok = registry.Lookup("unknown")
	assert.False(t, ok)

	assert.Panics(t, func() {
		registry.Register(&Configuration{ProcessType: "order", StartStep: "reserve"})
	})
}

func TestConfigurationUnknownStep(t *testing.T) {
	cfg := &Configuration{
		ProcessType: "order",
		StartStep:   "reserve",
		Steps: map[string]*Step{
			"reserve": {Name: "reserve", CommandName: "ReserveStock", Next: Terminal{}},
		},
	}

	s, err := cfg.step("reserve")
	require.NoError(t, err)
	assert.Equal(t, "ReserveStock", s.CommandName)

	_, err = cfg.step("ship")
	assert.Error(t, err)
}

func TestStepPayloadDefaultsToProcessData(t *testing.T) {
	s := &Step{Name: "reserve", CommandName: "ReserveStock", Next: Terminal{}}

	payload, err := s.payload(map[string]interface{}{"sku": "abc", "qty": 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sku":"abc","qty":2}`, string(payload))
}

func TestStepPayloadBuilderOverrides(t *testing.T) {
	s := &Step{
		Name:        "charge",
		CommandName: "ChargeCard",
		BuildPayload: func(data map[string]interface{}) (json.RawMessage, error) {
			return json.Marshal(map[string]interface{}{"amount": data["total"]})
		},
		Next: Terminal{},
	}

	payload, err := s.payload(map[string]interface{}{"total": 42, "irrelevant": true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":42}`, string(payload))
}

func TestConditionalStrategySelectsBranch(t *testing.T) {
	cond := Conditional{
		Predicate: func(data map[string]interface{}) bool { return data["premium"] == true },
		TrueStep:  "express",
		FalseStep: "standard",
	}

	assert.True(t, cond.Predicate(map[string]interface{}{"premium": true}))
	assert.False(t, cond.Predicate(map[string]interface{}{"premium": false}))
	assert.False(t, cond.Predicate(map[string]interface{}{}))
}
