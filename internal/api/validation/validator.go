package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/corebus/platform/pkg/logger"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate = validator.New()

// validationContextKey is the type of this package's request context keys.
type validationContextKey string

// ValidationKey is the key under which a handler stashes the zero-value
// struct describing what shape to decode the request body into.
const ValidationKey validationContextKey = "validation"

// ValidatedKey is the key under which the decoded, validated struct is
// stored for downstream handlers.
const ValidatedKey validationContextKey = "validated"

// Validator decodes and validates JSON request bodies against a struct type
// supplied via request context.
type Validator struct {
	log      *logger.Logger
	validate *validator.Validate
}

// New creates a request validator.
func New(log *logger.Logger) *Validator {
	return &Validator{
		log:      log,
		validate: validate,
	}
}

// RequireBody returns middleware stashing the struct type the request
// body must decode into, consumed downstream by ValidateRequest.
func RequireBody(shape interface{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), ValidationKey, shape)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ValidateRequest decodes the request body into the struct type stashed
// under ValidationKey, validates it, and stores the result under
// ValidatedKey. GET/HEAD/OPTIONS requests pass through untouched.
func (v *Validator) ValidateRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		valType, ok := r.Context().Value(ValidationKey).(interface{})
		if !ok {
			v.log.Error("no validation type specified")
			http.Error(w, "no validation type specified", http.StatusInternalServerError)
			return
		}

		val := reflect.New(reflect.TypeOf(valType)).Interface()

		if err := json.NewDecoder(r.Body).Decode(val); err != nil {
			v.log.Error("failed to decode request body",
				zap.Error(err),
				zap.String("path", r.URL.Path),
			)
			http.Error(w, "invalid request format", http.StatusBadRequest)
			return
		}

		if err := v.validate.Struct(val); err != nil {
			validationErrors := []string{}
			for _, fe := range err.(validator.ValidationErrors) {
				msg := fmt.Sprintf("field '%s' failed validation: %s",
					toSnakeCase(fe.Field()),
					validationErrorMsg(fe))
				validationErrors = append(validationErrors, msg)
			}

			v.log.Error("validation failed",
				zap.Strings("errors", validationErrors),
				zap.String("path", r.URL.Path),
			)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"errors": validationErrors,
			})
			return
		}

		ctx := context.WithValue(r.Context(), ValidatedKey, val)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func toSnakeCase(str string) string {
	var matchFirstCap = regexp.MustCompile("(.)([A-Z][a-z]+)")
	var matchAllCap = regexp.MustCompile("([a-z0-9])([A-Z])")

	snake := matchFirstCap.ReplaceAllString(str, "${1}_${2}")
	snake = matchAllCap.ReplaceAllString(snake, "${1}_${2}")
	return strings.ToLower(snake)
}

func validationErrorMsg(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters long", err.Param())
	case "max":
		return fmt.Sprintf("must not be longer than %s characters", err.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", err.Param())
	case "alphanum":
		return "must contain only alphanumeric characters"
	case "dive":
		return "contains an invalid element"
	default:
		return fmt.Sprintf("failed %s validation", err.Tag())
	}
}
