package main

import (
	"encoding/json"
	"net/http"

	"github.com/corebus/platform/internal/process"
	"github.com/corebus/platform/pkg/logger"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// startProcessHandler exposes Process Manager.Start as a thin HTTP
// endpoint: POST /processes/{type}/{businessKey} with a JSON body of
// initial process data.
func startProcessHandler(manager *process.Manager, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		processType := chi.URLParam(r, "type")
		businessKey := chi.URLParam(r, "businessKey")

		var initialData map[string]interface{}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&initialData); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid request body"})
				return
			}
		}

		id, err := manager.Start(r.Context(), processType, businessKey, initialData)
		if err != nil {
			log.Error("failed to start process", zap.String("process_type", processType), zap.Error(err))
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"instanceId": id})
	}
}

// getProcessHandler exposes a process instance's persisted state:
// GET /processes/{id}.
func getProcessHandler(manager *process.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst, err := manager.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "process not found"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(inst)
	}
}
