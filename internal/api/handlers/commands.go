package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/corebus/platform/internal/api/validation"
	"github.com/corebus/platform/internal/cache"
	"github.com/corebus/platform/internal/command"
	"github.com/corebus/platform/internal/database/repository"
	"github.com/corebus/platform/pkg/logger"
	"github.com/corebus/platform/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CommandHandler exposes the Accept API (spec §6): submit a command and
// read back its lifecycle status. It knows nothing about any particular
// command's business semantics — that lives in the handlers registered
// with the worker's command.Registry.
type CommandHandler struct {
	*Handler
	bus      *command.Bus
	statuses *repository.CachedRepository
}

// NewCommandHandler builds the Accept API handler set. statuses may be
// nil, in which case status reads always hit the database.
func NewCommandHandler(bus *command.Bus, statuses *repository.CachedRepository, log *logger.Logger, m *metrics.Metrics) *CommandHandler {
	return &CommandHandler{
		Handler:  NewHandler(log, m),
		bus:      bus,
		statuses: statuses,
	}
}

// Accept handles POST /commands. The validation middleware normally
// decodes and validates the body first; the handler decodes itself when
// mounted without it.
func (h *CommandHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req command.AcceptRequest
	if validated, ok := r.Context().Value(validation.ValidatedKey).(*command.AcceptRequest); ok {
		req = *validated
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.bus.Accept(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, command.ErrDuplicateIdempotencyKey):
			h.respondError(w, http.StatusConflict, "Duplicate idempotency key")
		default:
			h.log.Error("command accept failed", zap.Error(err))
			h.respondError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]string{"commandId": id})
}

// Status handles GET /commands/{id}, reading through the Redis status
// cache when one is configured. The cache is short-TTL and invalidated by
// the projector on terminal replies; the database remains authoritative.
func (h *CommandHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.statuses != nil {
		var cmd command.Command
		err := h.statuses.GetOrFetch(r.Context(), id, &cmd, func(ctx context.Context) (interface{}, error) {
			c, err := h.bus.Get(ctx, id)
			if errors.Is(err, command.ErrNotFound) {
				return nil, cache.ErrNotFound
			}
			return c, err
		})
		switch {
		case err == nil:
			h.respondJSON(w, http.StatusOK, &cmd)
			return
		case errors.Is(err, repository.ErrNotFound):
			h.respondError(w, http.StatusNotFound, "command not found")
			return
		default:
			h.log.Warn("status cache read failed, falling back to database",
				zap.String("command_id", id), zap.Error(err))
		}
	}

	cmd, err := h.bus.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "command not found")
		return
	}
	h.respondJSON(w, http.StatusOK, cmd)
}
