// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"

	"github.com/z5labs/forkserve/pkg/noop"
	"github.com/z5labs/forkserve/pkg/slogfield"
	"github.com/z5labs/forkserve/worker"
)

// SpawnError is returned when a worker could not be started.
type SpawnError struct {
	Cause error
}

// Error implements the error interface.
func (e SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn worker: %s", e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e SpawnError) Unwrap() error {
	return e.Cause
}

// ProcessSpawner serves every connection in a new process. The child
// runs Path with Args and finds the connection on [worker.InheritedConnFD].
// Its exit status is left for a reaper to collect.
type ProcessSpawner struct {
	Path string
	Args []string

	// Env defaults to the environment of the current process.
	Env []string

	Log *slog.Logger
}

// Spawn implements the [Spawner] interface.
func (s *ProcessSpawner) Spawn(ctx context.Context, conn *net.TCPConn) error {
	f, err := conn.File()
	conn.Close()
	if err != nil {
		return SpawnError{Cause: err}
	}

	// the child holds its own copy once started
	defer f.Close()

	cmd := exec.Command(s.Path, s.Args...)
	cmd.Env = s.Env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// ExtraFiles start at descriptor 3, i.e. worker.InheritedConnFD
	cmd.ExtraFiles = []*os.File{f}

	err = cmd.Start()
	if err != nil {
		return SpawnError{Cause: err}
	}

	s.logger().DebugContext(ctx, "spawned worker", slogfield.PID(cmd.Process.Pid))
	return cmd.Process.Release()
}

func (s *ProcessSpawner) logger() *slog.Logger {
	if s.Log == nil {
		return noop.Logger()
	}
	return s.Log
}

// GoroutineSpawner serves every connection in its own goroutine with
// the same single use [worker.Worker] semantics. Workers share no
// mutable state.
type GoroutineSpawner struct {
	Worker *worker.Worker
	Log    *slog.Logger

	wg sync.WaitGroup
}

// Spawn implements the [Spawner] interface.
func (s *GoroutineSpawner) Spawn(ctx context.Context, conn *net.TCPConn) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := s.Worker.Serve(ctx, conn)
		if err != nil && s.Log != nil {
			s.Log.WarnContext(ctx, "worker failed", slogfield.RemoteAddr(conn.RemoteAddr()), slogfield.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every spawned worker has returned.
func (s *GoroutineSpawner) Wait() {
	s.wg.Wait()
}
