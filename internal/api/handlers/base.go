// Package handlers is the thin HTTP edge over the Command Bus: accept,
// status, and health endpoints. Error responses follow the platform's
// contract of {message, statusCode} bodies.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/corebus/platform/pkg/logger"
	"github.com/corebus/platform/pkg/metrics"
	"go.uber.org/zap"
)

// Handler carries the dependencies every API handler shares.
type Handler struct {
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewHandler creates a new Handler instance
func NewHandler(log *logger.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		log:     log,
		metrics: m,
	}
}

// errorBody is the wire shape of every non-2xx response.
type errorBody struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// respondJSON sends a JSON response with the given status code
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.log.Error("failed to encode JSON response", zap.Error(err))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}
}

// respondError sends an error response in the {message, statusCode} shape.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, errorBody{Message: message, StatusCode: status})
}
