package testutil

import (
	"testing"

	"github.com/corebus/platform/pkg/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// NewTestLogger creates a logger suitable for testing
func NewTestLogger(t *testing.T) *logger.Logger {
	// Use zaptest to automatically clean up logs
	zapLogger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	return &logger.Logger{Logger: zapLogger}
}

// CaptureLogs returns a logger writing JSON lines into an in-memory
// buffer, plus a function returning everything logged so far — for tests
// asserting on log output.
func CaptureLogs(t *testing.T) (*logger.Logger, func() string) {
	t.Helper()

	buf := &zaptest.Buffer{}

	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(config.EncoderConfig),
		buf,
		zap.InfoLevel,
	)

	return &logger.Logger{Logger: zap.New(core)}, buf.String
}
