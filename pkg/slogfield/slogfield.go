// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package slogfield provides the slog attributes shared by the server
// and its workers so every log line spells them the same way.
package slogfield

import (
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Any returns an slog.Attr for the supplied value.
func Any(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// Bool returns an slog.Attr for a bool.
func Bool(key string, value bool) slog.Attr {
	return slog.Bool(key, value)
}

// Duration returns an slog.Attr for a time.Duration.
func Duration(key string, d time.Duration) slog.Attr {
	return slog.Duration(key, d)
}

// Error returns an slog.Attr for a error.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// String returns an slog.Attr for a string.
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Int returns an slog.Attr for a int.
func Int(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// PID returns the "pid" attribute.
func PID(pid int) slog.Attr {
	return slog.Int("pid", pid)
}

// RemoteAddr returns the "remote_addr" attribute, empty if addr is nil.
func RemoteAddr(addr net.Addr) slog.Attr {
	if addr == nil {
		return slog.String("remote_addr", "")
	}
	return slog.String("remote_addr", addr.String())
}

// SpanContext groups the trace and span ids under "otel".
func SpanContext(sc trace.SpanContext) slog.Attr {
	return slog.Group(
		"otel",
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
