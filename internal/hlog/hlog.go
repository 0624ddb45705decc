// Package hlog is the single process-wide logging sink. It wraps log/slog
// the way the teacher's pkg/log wraps the standard logger: one sink,
// initialized once, safe for concurrent use from plugin host functions.
package hlog

import (
	"log/slog"
	"os"
	"sync"
)

var (
	initOnce sync.Once
	sink     *slog.Logger
)

// Init sets the process-wide sink level. Safe to call once at startup;
// subsequent calls are no-ops, matching the "one-time initialization, never
// reconfigured" rule for global state (spec §9).
func Init(debug bool) {
	initOnce.Do(func() {
		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		sink = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	})
}

func logger() *slog.Logger {
	if sink == nil {
		Init(false)
	}
	return sink
}

func Debug(msg string, args ...any) { logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { logger().Warn(msg, args...) }
func Error(msg string, args ...any) { logger().Error(msg, args...) }

// Guest logs a message from a plugin's guest-side log(level, message) host
// function call, tagging it with the plugin name.
func Guest(plugin, level, message string) {
	switch level {
	case "error":
		logger().Error(message, "plugin", plugin)
	case "warn":
		logger().Warn(message, "plugin", plugin)
	case "debug":
		logger().Debug(message, "plugin", plugin)
	default:
		logger().Info(message, "plugin", plugin)
	}
}
