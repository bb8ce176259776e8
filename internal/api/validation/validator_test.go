package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/corebus/platform/test/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// submitRequest mirrors the shape the accept API validates: a command
// name, an idempotency key, and a payload.
type submitRequest struct {
	Name           string          `json:"name" validate:"required,min=1,max=255"`
	IdempotencyKey string          `json:"idempotencyKey" validate:"required"`
	BusinessKey    string          `json:"businessKey" validate:"max=255"`
	Payload        json.RawMessage `json:"payload" validate:"required"`
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name           string
		reqBody        interface{}
		expectedStatus int
	}{
		{
			name: "valid request",
			reqBody: submitRequest{
				Name:           "CreateUser",
				IdempotencyKey: "idem-1",
				BusinessKey:    "biz-1",
				Payload:        json.RawMessage(`{"username":"alice"}`),
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "missing idempotency key",
			reqBody: submitRequest{
				Name:    "CreateUser",
				Payload: json.RawMessage(`{}`),
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing everything",
			reqBody:        submitRequest{},
			expectedStatus: http.StatusBadRequest,
		},
	}

	log := testutil.NewTestLogger(t)
	validator := New(log)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := json.Marshal(tt.reqBody)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, "/commands", bytes.NewReader(body))
			req = req.WithContext(context.WithValue(req.Context(), ValidationKey, submitRequest{}))

			rr := httptest.NewRecorder()

			nextCalled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true

				// The decoded request must be available downstream.
				validated, ok := r.Context().Value(ValidatedKey).(*submitRequest)
				assert.True(t, ok)
				assert.Equal(t, "CreateUser", validated.Name)

				w.WriteHeader(http.StatusOK)
			})

			validator.ValidateRequest(next).ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, tt.expectedStatus == http.StatusOK, nextCalled)

			if tt.expectedStatus != http.StatusOK {
				var response map[string]interface{}
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
				assert.Contains(t, response, "errors")
				assert.NotEmpty(t, response["errors"])
			}
		})
	}
}

func TestRequireBodyStashesShape(t *testing.T) {
	log := testutil.NewTestLogger(t)
	validator := New(log)

	body := []byte(`{"name":"echo","idempotencyKey":"idem-2","payload":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/commands", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	})

	handler := RequireBody(submitRequest{})(validator.ValidateRequest(next))
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, nextCalled)
}

func TestValidateRequestSkipsReadMethods(t *testing.T) {
	skipMethods := []string{http.MethodGet, http.MethodHead, http.MethodOptions}
	log := testutil.NewTestLogger(t)
	validator := New(log)

	for _, method := range skipMethods {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/commands/c-1", nil)
			rr := httptest.NewRecorder()

			nextCalled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
				w.WriteHeader(http.StatusOK)
			})

			validator.ValidateRequest(next).ServeHTTP(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.True(t, nextCalled, "next handler should be called for %s", method)
		})
	}
}
