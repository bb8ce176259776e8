package main

import (
	"encoding/json"
	"fmt"

	"github.com/corebus/platform/internal/process"
)

// registerProcesses binds the process types this deployment orchestrates.
// "resource-provisioning" is a demonstration DAG exercising every
// NextStepStrategy variant (spec §9): a direct hop, a conditional branch,
// a parallel fan-out/join, a terminal step, and two compensated steps.
func registerProcesses(reg *process.Registry) {
	reg.Register(resourceProvisioningConfig())
}

func resourceProvisioningConfig() *process.Configuration {
	return &process.Configuration{
		ProcessType: "resource-provisioning",
		StartStep:   "allocate",
		Steps: map[string]*process.Step{
			"allocate": {
				Name:        "allocate",
				CommandName: "allocate",
				Compensation: &process.Compensation{
					CommandName: "deallocate",
				},
				Next: process.Conditional{
					Predicate: requiresApproval,
					TrueStep:  "awaitApproval",
					FalseStep: "fanout",
				},
			},
			"awaitApproval": {
				Name:        "awaitApproval",
				CommandName: "requestApproval",
				Next:        process.Direct{Next: "fanout"},
			},
			"fanout": {
				Name:        "fanout",
				CommandName: "activate",
				Compensation: &process.Compensation{
					CommandName: "deactivate",
				},
				Next: process.Parallel{
					Branches: []string{"notify", "audit"},
					Join:     "finalize",
				},
			},
			"notify": {
				Name:        "notify",
				CommandName: "notify",
			},
			"audit": {
				Name:        "audit",
				CommandName: "audit",
			},
			"finalize": {
				Name:        "finalize",
				CommandName: "finalize",
				Next:        process.Terminal{},
			},
		},
	}
}

func requiresApproval(data map[string]interface{}) bool {
	raw, ok := data["requiresApproval"]
	if !ok {
		return false
	}
	switch v := raw.(type) {
	case bool:
		return v
	case json.Number:
		return v.String() != "0"
	default:
		return fmt.Sprintf("%v", v) == "true"
	}
}
