// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package dispatcher accepts connections and hands each one to a freshly
// spawned worker which serves exactly one request.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/z5labs/forkserve/gateway"
	"github.com/z5labs/forkserve/internal/fixedpool"
	"github.com/z5labs/forkserve/pkg/noop"
	"github.com/z5labs/forkserve/pkg/slogfield"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sys/unix"
)

const instrumentationName = "github.com/z5labs/forkserve/dispatcher"

// Spawner starts an isolated worker for conn. It owns conn from then on
// and must close it on every path, including when it fails.
type Spawner interface {
	Spawn(ctx context.Context, conn *net.TCPConn) error
}

type acceptor interface {
	AcceptTCP() (*net.TCPConn, error)
	Close() error
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// Logger sets the dispatcher logger.
func Logger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// Dispatcher runs the accept loop.
type Dispatcher struct {
	ln      acceptor
	spawner Spawner
	log     *slog.Logger

	accepted metric.Int64Counter
	spawned  metric.Int64Counter
}

// New returns a Dispatcher accepting on ep.
func New(ep *Endpoint, spawner Spawner, opts ...Option) *Dispatcher {
	return newDispatcher(ep, spawner, opts...)
}

func newDispatcher(ln acceptor, spawner Spawner, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		ln:      ln,
		spawner: spawner,
		log:     noop.Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	d.accepted, err = meter.Int64Counter(
		"forkserve.connections.accepted",
		metric.WithDescription("Number of accepted client connections."),
	)
	if err != nil {
		otel.Handle(err)
	}
	d.spawned, err = meter.Int64Counter(
		"forkserve.workers.spawned",
		metric.WithDescription("Number of workers started."),
	)
	if err != nil {
		otel.Handle(err)
	}
	return d
}

// AcceptError is returned by [Dispatcher.Run] when accepting fails
// with a non retryable error.
type AcceptError struct {
	Cause error
}

// Error implements the error interface.
func (e AcceptError) Error() string {
	return fmt.Sprintf("failed to accept connection: %s", e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e AcceptError) Unwrap() error {
	return e.Cause
}

// Run accepts connections until ctx is cancelled, in which case it
// closes the listener and returns nil. Interrupted or temporarily
// failing accepts are retried. A worker which fails to spawn only
// costs its own connection.
func (d *Dispatcher) Run(ctx context.Context) error {
	err := fixedpool.Wait(
		ctx,
		d.acceptLoop,
		func(ctx context.Context) error {
			<-ctx.Done()

			err := d.ln.Close()
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		},
	)

	if w, ok := d.spawner.(interface{ Wait() }); ok {
		w.Wait()
	}
	return err
}

func (d *Dispatcher) acceptLoop(ctx context.Context) error {
	var backoff time.Duration
	for {
		conn, err := d.ln.AcceptTCP()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if isTemporary(err) {
				backoff = nextBackoff(backoff)
				d.log.WarnContext(ctx, "accept failed, retrying", slogfield.Error(err), slogfield.Duration("backoff", backoff))
				gateway.Sleep(ctx, backoff)
				continue
			}
			return AcceptError{Cause: err}
		}
		backoff = 0

		d.accepted.Add(ctx, 1)
		d.log.DebugContext(ctx, "accepted connection", slogfield.RemoteAddr(conn.RemoteAddr()))

		err = d.spawner.Spawn(ctx, conn)
		if err != nil {
			d.log.ErrorContext(ctx, "failed to spawn worker", slogfield.RemoteAddr(conn.RemoteAddr()), slogfield.Error(err))
			continue
		}
		d.spawned.Add(ctx, 1)
	}
}

// isTemporary reports resource exhaustion which usually clears up once
// some workers finish.
func isTemporary(err error) bool {
	return errors.Is(err, unix.ECONNABORTED) ||
		errors.Is(err, unix.EMFILE) ||
		errors.Is(err, unix.ENFILE) ||
		errors.Is(err, unix.ENOBUFS) ||
		errors.Is(err, unix.ENOMEM)
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		return time.Second
	}
	return d
}
