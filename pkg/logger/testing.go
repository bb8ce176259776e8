package logger

import "go.uber.org/zap"

// NewTestLogger returns a no-op logger for unit tests that need a
// *Logger dependency but not its output. Tests wanting captured output
// use test/testutil.NewTestLogger instead.
func NewTestLogger() *Logger {
	return &Logger{Logger: zap.NewNop()}
}
