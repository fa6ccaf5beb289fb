// Package logger provides component-scoped structured logging for textline.
//
// All log lines carry a "component" attribute so that scheduler, webhook
// and dispatch activity can be filtered independently in aggregated logs.
package logger

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var base atomic.Pointer[slog.Logger]

func init() {
	base.Store(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// SetOutput replaces the process-wide logger. Intended for main() and tests.
func SetOutput(l *slog.Logger) {
	if l != nil {
		base.Store(l)
	}
}

// SetJSON switches the process-wide logger to JSON output at the given level.
func SetJSON(level slog.Level) {
	base.Store(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func attrs(component string, fields map[string]any) []any {
	args := make([]any, 0, 2+2*len(fields))
	args = append(args, "component", component)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

// InfoCF logs an info message for a component with structured fields.
func InfoCF(component, msg string, fields map[string]any) {
	base.Load().Info(msg, attrs(component, fields)...)
}

// WarnCF logs a warning for a component with structured fields.
func WarnCF(component, msg string, fields map[string]any) {
	base.Load().Warn(msg, attrs(component, fields)...)
}

// ErrorCF logs an error for a component with structured fields.
func ErrorCF(component, msg string, fields map[string]any) {
	base.Load().Error(msg, attrs(component, fields)...)
}

// DebugCF logs a debug message for a component with structured fields.
func DebugCF(component, msg string, fields map[string]any) {
	base.Load().Debug(msg, attrs(component, fields)...)
}
