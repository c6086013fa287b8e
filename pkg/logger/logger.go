// Package logger holds the process-wide structured logger. Level and sink
// are overridable via DHUAN_LOG_LEVEL and DHUAN_LOG_SINK (e.g.
// "file:/var/log/dhuan.log") so services and tests can redirect output.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

var Log = slog.New(slog.NewTextHandler(os.Stdout, nil))

// Init configures the global logger from the environment.
func Init() {
	lvl := parseLevel(os.Getenv("DHUAN_LOG_LEVEL"))

	sink := os.Getenv("DHUAN_LOG_SINK")
	if path, ok := strings.CutPrefix(sink, "file:"); ok {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err == nil {
			Log = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: lvl}))
			return
		}
		fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
	}
	Log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Debug(msg string, args ...any) { Log.Debug(msg, args...) }
func Info(msg string, args ...any)  { Log.Info(msg, args...) }
func Warn(msg string, args ...any)  { Log.Warn(msg, args...) }
func Error(msg string, args ...any) { Log.Error(msg, args...) }
