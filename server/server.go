// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package server composes the listener, dispatcher, reaper and workers
// into runnable apps.
package server

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/z5labs/forkserve"
	"github.com/z5labs/forkserve/app"
	"github.com/z5labs/forkserve/dispatcher"
	"github.com/z5labs/forkserve/gateway"
	"github.com/z5labs/forkserve/pkg/slogfield"
	"github.com/z5labs/forkserve/reaper"
	"github.com/z5labs/forkserve/worker"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// UnknownIsolationError is returned for isolation modes other than
// [IsolationProcess] and [IsolationGoroutine].
type UnknownIsolationError struct {
	Mode string
}

// Error implements the error interface.
func (e UnknownIsolationError) Error() string {
	return fmt.Sprintf("unknown isolation mode: %s", e.Mode)
}

// Build binds the listening socket and returns an app which serves
// until SIGINT or SIGTERM is received.
func Build(ctx context.Context, cfg Config) (forkserve.App, error) {
	log, err := cfg.Logging.Logger()
	if err != nil {
		return nil, err
	}

	application, err := lookup(cfg.Server.App)
	if err != nil {
		return nil, err
	}

	var r *reaper.Reaper
	switch cfg.Server.Isolation {
	case "", IsolationProcess:
		// subscribe before the first child can possibly exit
		r = reaper.Subscribe(reaper.Logger(log))
	case IsolationGoroutine:
	default:
		return nil, UnknownIsolationError{Mode: cfg.Server.Isolation}
	}

	ep, err := dispatcher.Listen(ctx, cfg.Server.Host, cfg.Server.Port, cfg.Server.Backlog)
	if err != nil {
		if r != nil {
			r.Stop()
		}
		return nil, err
	}

	var spawner dispatcher.Spawner
	if r != nil {
		exe, err := os.Executable()
		if err != nil {
			r.Stop()
			ep.Close()
			return nil, err
		}
		spawner = &dispatcher.ProcessSpawner{
			Path: exe,
			Args: WorkerArgs(cfg, ep.ServerInfo()),
			Log:  log,
		}
	} else {
		spawner = &dispatcher.GoroutineSpawner{
			Worker: worker.New(
				worker.Application(application),
				worker.Server(ep.ServerInfo()),
				worker.RecvSize(cfg.Server.RecvSize),
				worker.Linger(cfg.Server.Linger),
				worker.Logger(log),
			),
			Log: log,
		}
	}
	d := dispatcher.New(ep, spawner, dispatcher.Logger(log))

	msg := "Concurrent Serving HTTP"
	if application != nil {
		msg = "Concurrent WSGI Serving HTTP"
	}
	log.InfoContext(
		ctx,
		msg,
		slogfield.String("server_name", ep.ServerName),
		slogfield.Int("port", ep.Port),
		slogfield.String("isolation", cfg.Server.Isolation),
		slogfield.String("app", cfg.Server.App),
	)

	run := forkserve.AppFunc(func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		if r != nil {
			g.Go(func() error {
				return r.Run(gctx)
			})
		}
		g.Go(func() error {
			return d.Run(gctx)
		})
		return g.Wait()
	})
	return app.WithSignalNotifications(run, os.Interrupt, unix.SIGTERM), nil
}

// WorkerArgs returns the arguments a worker process is started with so
// it serves exactly the way an in process worker would.
func WorkerArgs(cfg Config, info gateway.ServerInfo) []string {
	args := []string{
		"worker",
		"--app", cfg.Server.App,
		"--server-name", info.Name,
		"--server-port", strconv.Itoa(info.Port),
		"--fd", strconv.Itoa(worker.InheritedConnFD),
		"--recv-size", strconv.Itoa(cfg.Server.RecvSize),
		"--linger", cfg.Server.Linger.String(),
		"--log-level", cfg.Logging.Level.String(),
		"--log-format", cfg.Logging.Format,
		"--otel-service-name", cfg.OTel.ServiceName,
		"--otel-trace-exporter", cfg.OTel.Trace.Exporter,
		"--otel-trace-target", cfg.OTel.Trace.Target,
		"--otel-trace-project-id", cfg.OTel.Trace.ProjectID,
		"--otel-metric-exporter", cfg.OTel.Metric.Exporter,
		"--otel-metric-target", cfg.OTel.Metric.Target,
		"--otel-metric-interval", cfg.OTel.Metric.Interval.String(),
	}
	return args
}

// BuildWorker returns an app which serves the single connection
// inherited on the configured descriptor and then returns.
func BuildWorker(ctx context.Context, cfg WorkerConfig) (forkserve.App, error) {
	log, err := cfg.Logging.Logger()
	if err != nil {
		return nil, err
	}
	log = log.With(slogfield.PID(os.Getpid()))

	application, err := lookup(cfg.Worker.App)
	if err != nil {
		return nil, err
	}

	w := worker.New(
		worker.Application(application),
		worker.Server(gateway.ServerInfo{Name: cfg.Worker.ServerName, Port: cfg.Worker.ServerPort}),
		worker.RecvSize(cfg.Worker.RecvSize),
		worker.Linger(cfg.Worker.Linger),
		worker.Logger(log),
	)

	fd := cfg.Worker.FD
	if fd <= 0 {
		fd = worker.InheritedConnFD
	}

	serve := forkserve.AppFunc(func(ctx context.Context) error {
		conn, err := worker.FileConn(fd)
		if err != nil {
			return err
		}

		err = w.Serve(ctx, conn)
		if err != nil {
			log.ErrorContext(ctx, "failed to serve request", slogfield.Error(err))
			return err
		}
		return nil
	})
	return serve, nil
}

// lookup resolves ref, an empty ref means no application.
func lookup(ref string) (gateway.Application, error) {
	if ref == "" {
		return nil, nil
	}
	return gateway.Lookup(ref)
}
