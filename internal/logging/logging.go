/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process writing to stdout.
func Setup(environment, level string) zerolog.Logger {
	return SetupWithWriter(environment, level, os.Stdout)
}

// SetupWithWriter configures zerolog writing to out. Development gets a
// human-readable console at debug level; other environments emit JSON at
// info. A non-empty level (debug, info, warn, error) overrides the default;
// unknown levels are ignored.
func SetupWithWriter(environment, level string, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl := zerolog.InfoLevel
	var writer io.Writer = out
	if environment == "development" {
		lvl = zerolog.DebugLevel
		writer = zerolog.ConsoleWriter{Out: out}
	}
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && level != "" {
		lvl = parsed
	}

	logger := zerolog.New(writer).Level(lvl).With().Timestamp().Str("service", "inkwell").Logger()
	log.Logger = logger
	return logger
}
