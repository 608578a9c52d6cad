// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logger sets up structured logging: human-readable text on
// stderr fanned out with a JSON file under the data dir.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

// Setup builds the application logger and installs it as slog's default.
// An empty logFile disables the JSON file handler. The returned cleanup
// closes the log file.
func Setup(level, logFile string) (*slog.Logger, func(), error) {
	lvl := ParseLevel(level)

	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}),
	}
	cleanup := func() {}

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: lvl}))
		cleanup = func() { f.Close() }
	}

	l := slog.New(slogmulti.Fanout(handlers...))
	slog.SetDefault(l)
	return l, cleanup, nil
}

// ParseLevel maps a config level string to a slog level, defaulting to
// info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
