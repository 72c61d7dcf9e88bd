// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

// Package logging configures the zerolog logger used by the rcon command and bridges the log/slog
// records emitted by the rcon package into it.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config holds configuration for the logging system.
type Config struct {
	// Level is a zerolog level name such as "debug" or "warn". Unknown names fall back to info.
	Level string

	// Output receives log lines. Defaults to os.Stderr so command output on stdout stays clean.
	Output io.Writer

	// JSON disables the human readable console writer.
	JSON bool

	// NoColor disables ANSI colors in console output.
	NoColor bool
}

// New builds a logger from cfg.
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.DurationFieldUnit = time.Millisecond

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
			NoColor:    cfg.NoColor,
		}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Component returns a child of l tagged with a component name.
func Component(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}
