package command

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AcceptRequest is the structural shape of a command as submitted through
// the Accept API. Business-specific payload contents are not validated
// here — only the envelope the bus itself relies on.
type AcceptRequest struct {
	Name           string          `json:"name" validate:"required,min=1,max=255"`
	IdempotencyKey string          `json:"idempotencyKey" validate:"required,min=1,max=255"`
	BusinessKey    string          `json:"businessKey" validate:"max=255"`
	Payload        json.RawMessage `json:"payload" validate:"required"`
	Reply          *Reply          `json:"reply"`
	CorrelationID  string          `json:"correlationId" validate:"max=255"`
}

// Validator performs structural validation of an AcceptRequest before it
// reaches a database transaction.
type Validator struct {
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewValidator creates a command validator.
func NewValidator() *Validator {
	return &Validator{
		validate: validator.New(),
		tracer:   trace.NewNoopTracerProvider().Tracer("command-validator"),
	}
}

// Validate checks the structural shape of an accept request.
func (v *Validator) Validate(ctx context.Context, req *AcceptRequest) error {
	_, span := v.tracer.Start(ctx, "validate_accept_request",
		trace.WithAttributes(attribute.String("command.name", req.Name)),
	)
	defer span.End()

	if err := v.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid command request: %w", err)
	}
	return nil
}
