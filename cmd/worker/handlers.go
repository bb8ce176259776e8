package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/corebus/platform/internal/command"
	"github.com/corebus/platform/internal/naming"
)

// provisioningCommands are the step and compensation commands of the
// resource-provisioning process registered by cmd/process-manager. Each
// is handled by a simple acknowledging handler here so the demo
// deployment drives the whole DAG end to end.
var provisioningCommands = []string{
	"allocate", "requestApproval", "activate",
	"notify", "finalize", "deallocate", "deactivate",
}

// registerHandlers binds the command names this deployment knows how to
// execute. Business-domain handlers live outside this package in a real
// deployment; these are transport-agnostic demonstrations of the Handler
// contract, run by this worker binary and exercised by the integration
// suite.
func registerHandlers(reg *command.Registry) {
	reg.Register("echo", command.HandlerFunc(echoHandler))
	reg.Register("fail", command.HandlerFunc(failHandler))
	reg.Register("audit", command.HandlerFunc(auditHandler))
	for _, name := range provisioningCommands {
		reg.Register(name, command.HandlerFunc(ackHandler))
	}
}

// echoHandler succeeds unconditionally, replying with the command's own
// payload and emitting a matching domain event.
func echoHandler(_ context.Context, cmd *command.Command) (*command.Result, error) {
	return &command.Result{Payload: cmd.Payload, EventType: "EchoCompleted"}, nil
}

// ackHandler acknowledges a provisioning step without side effects.
func ackHandler(_ context.Context, cmd *command.Command) (*command.Result, error) {
	return &command.Result{Payload: cmd.Payload}, nil
}

// auditHandler acknowledges like the other steps unless the process data
// carries failAudit, which forces a branch failure so compensation paths
// can be exercised end to end.
func auditHandler(_ context.Context, cmd *command.Command) (*command.Result, error) {
	var req struct {
		FailAudit bool `json:"failAudit"`
	}
	_ = json.Unmarshal(cmd.Payload, &req)
	if req.FailAudit {
		return nil, command.NewPermanentError("audit rejected by request", fmt.Errorf("command %s", cmd.ID))
	}
	return &command.Result{Payload: cmd.Payload}, nil
}

// failRequest lets a caller pick which failure mode a "fail" command
// exercises, for testing the worker's retry/DLQ paths end to end.
type failRequest struct {
	Mode string `json:"mode"` // "permanent" or "transient" (default)
}

func failHandler(_ context.Context, cmd *command.Command) (*command.Result, error) {
	var req failRequest
	_ = json.Unmarshal(cmd.Payload, &req)

	err := fmt.Errorf("fail handler invoked for command %s", cmd.ID)
	if req.Mode == "permanent" {
		return nil, command.NewPermanentError("requested permanent failure", err)
	}
	return nil, command.NewTransientError("requested transient failure", err)
}

// commandTopics derives the queues this deployment's registered handlers
// consume from.
func commandTopics(queues naming.Queues) []string {
	topics := []string{queues.CommandQueue("echo"), queues.CommandQueue("fail"), queues.CommandQueue("audit")}
	for _, name := range provisioningCommands {
		topics = append(topics, queues.CommandQueue(name))
	}
	return topics
}
