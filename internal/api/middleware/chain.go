package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/corebus/platform/pkg/logger"
	"github.com/corebus/platform/pkg/metrics"
	"go.uber.org/zap"
)

// Chain is an ordered set of middleware applied outermost-first.
type Chain struct {
	middlewares []func(http.Handler) http.Handler
}

// NewChain assembles the standard stack for a service: request id,
// recovery, trace propagation, logging, metrics. serviceName names the
// tracer.
func NewChain(serviceName string, log *logger.Logger, m *metrics.Metrics) *Chain {
	return &Chain{
		middlewares: []func(http.Handler) http.Handler{
			WithRequestID,
			WithRecovery(log),
			WithTracing(serviceName),
			WithLogging(log),
			WithMetrics(m),
		},
	}
}

// Use appends middleware to the chain.
func (c *Chain) Use(middleware ...func(http.Handler) http.Handler) {
	c.middlewares = append(c.middlewares, middleware...)
}

// Then wraps h with every middleware in the chain.
func (c *Chain) Then(h http.Handler) http.Handler {
	if h == nil {
		h = http.DefaultServeMux
	}
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}
	return h
}

// WithRequestID assigns each request an id, honoring a caller-supplied
// X-Request-ID so a command submitter's own correlation id survives into
// the logs.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = GenerateRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithRecovery converts a handler panic into a 500 instead of tearing
// down the connection.
func WithRecovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("request panic recovered",
						zap.Any("error", err),
						zap.String("url", r.URL.String()),
						zap.String("method", r.Method),
					)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// WithLogging logs one line per completed request.
func WithLogging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := newResponseWriter(w)
			start := time.Now()

			next.ServeHTTP(ww, r)

			log.Info("request completed",
				zap.String("request_id", RequestIDFromContext(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// WithMetrics records duration, count, and body sizes for every request.
func WithMetrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := newResponseWriter(w)
			if r.ContentLength > 0 {
				ww.bytesRead = r.ContentLength
			}

			next.ServeHTTP(ww, r)

			m.ObserveHTTP(
				r.Method,
				r.URL.Path,
				strconv.Itoa(ww.Status()),
				time.Since(start),
				ww.BytesRead(),
				ww.BytesWritten(),
			)
		})
	}
}

// WithTimeout bounds each request's context.
func WithTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
