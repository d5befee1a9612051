// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package noop provides implementations which discard everything.
package noop

import (
	"context"
	"log/slog"
)

// LogHandler is a slog.Handler which drops every record.
type LogHandler struct{}

func (LogHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (LogHandler) Handle(context.Context, slog.Record) error { return nil }
func (h LogHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h LogHandler) WithGroup(string) slog.Handler           { return h }

// Logger returns a logger backed by [LogHandler].
func Logger() *slog.Logger {
	return slog.New(LogHandler{})
}
