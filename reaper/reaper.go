// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package reaper collects the exit status of terminated worker processes
// so they never linger as zombies.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"github.com/z5labs/forkserve/pkg/noop"
	"github.com/z5labs/forkserve/pkg/slogfield"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sys/unix"
)

const instrumentationName = "github.com/z5labs/forkserve/reaper"

// Exit describes a collected child process.
type Exit struct {
	PID    int
	Status unix.WaitStatus
}

// Option configures a [Reaper].
type Option func(*Reaper)

// Logger sets the logger every collected exit is reported to.
func Logger(log *slog.Logger) Option {
	return func(r *Reaper) {
		r.log = log
	}
}

// Reaper collects terminated children whenever SIGCHLD is delivered.
type Reaper struct {
	log    *slog.Logger
	sigs   chan os.Signal
	reaped metric.Int64Counter

	// wait4(-1, status, WNOHANG, nil) unless replaced in tests
	wait func(*unix.WaitStatus) (int, error)

	stopOnce sync.Once
}

// Subscribe registers for SIGCHLD notifications. It must be called
// before the first child is started so no exit goes unnoticed.
func Subscribe(opts ...Option) *Reaper {
	r := &Reaper{
		log:  noop.Logger(),
		sigs: make(chan os.Signal, 1),
		wait: wait4,
	}
	for _, opt := range opts {
		opt(r)
	}

	reaped, err := otel.Meter(instrumentationName).Int64Counter(
		"forkserve.children.reaped",
		metric.WithDescription("Number of terminated worker processes collected."),
	)
	if err != nil {
		otel.Handle(err)
	}
	r.reaped = reaped

	signal.Notify(r.sigs, unix.SIGCHLD)
	return r
}

func wait4(ws *unix.WaitStatus) (int, error) {
	return unix.Wait4(-1, ws, unix.WNOHANG, nil)
}

// Reap collects every child which has already terminated without ever
// blocking on a running one. Failures are logged, never returned.
func (r *Reaper) Reap() []Exit {
	var exits []Exit
	for {
		var ws unix.WaitStatus
		pid, err := r.wait(&ws)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.ECHILD) {
			return exits
		}
		if err != nil {
			r.log.Warn("failed to collect terminated children", slogfield.Error(err))
			return exits
		}
		if pid <= 0 {
			return exits
		}

		exits = append(exits, Exit{PID: pid, Status: ws})
		r.log.Info(
			"child terminated",
			slogfield.PID(pid),
			slogfield.Int("status", int(ws)),
			slogfield.Int("exit_code", ws.ExitStatus()),
		)
		if r.reaped != nil {
			r.reaped.Add(context.Background(), 1)
		}
	}
}

// Run reaps on every SIGCHLD until ctx is cancelled, then performs a
// final pass and unsubscribes.
func (r *Reaper) Run(ctx context.Context) error {
	defer r.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Reap()
			return nil
		case <-r.sigs:
			r.Reap()
		}
	}
}

// Stop unsubscribes from SIGCHLD. It is safe to call more than once.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		signal.Stop(r.sigs)
	})
}
