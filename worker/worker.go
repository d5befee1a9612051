// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package worker handles exactly one request on one connection.
//
// A worker either answers with a fixed greeting or, when given a
// [gateway.Application], parses the request, builds its environment,
// invokes the application and writes the declared response. The
// connection is closed on every path, after which the worker is done.
package worker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/z5labs/forkserve/gateway"
	"github.com/z5labs/forkserve/internal/try"
	"github.com/z5labs/forkserve/pkg/noop"
	"github.com/z5labs/forkserve/pkg/slogfield"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InheritedConnFD is the descriptor a worker process finds its
// client connection on.
const InheritedConnFD = 3

// DefaultRecvSize is the size of the single read a worker performs.
const DefaultRecvSize = 1024

// CannedResponse is written verbatim when no application is configured.
var CannedResponse = []byte("HTTP/1.1 200 OK\n\nHello, World!\n")

const instrumentationName = "github.com/z5labs/forkserve/worker"

// Option configures a [Worker].
type Option func(*Worker)

// Application sets the application requests are bridged to. Without
// one the worker answers with [CannedResponse].
func Application(app gateway.Application) Option {
	return func(w *Worker) {
		w.app = app
	}
}

// Server sets the endpoint reported to the application.
func Server(info gateway.ServerInfo) Option {
	return func(w *Worker) {
		w.server = info
	}
}

// RecvSize bounds the single read of the request.
func RecvSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.recvSize = n
		}
	}
}

// Linger sets how long the connection is held open after responding.
func Linger(d time.Duration) Option {
	return func(w *Worker) {
		w.linger = d
	}
}

// ServerHeaders replaces [gateway.DefaultServerHeaders].
func ServerHeaders(headers ...gateway.Header) Option {
	return func(w *Worker) {
		w.serverHeaders = headers
	}
}

// Logger sets the logger the request and response are echoed to.
func Logger(log *slog.Logger) Option {
	return func(w *Worker) {
		w.log = log
	}
}

// Errors sets the error sink handed to the application.
func Errors(wr io.Writer) Option {
	return func(w *Worker) {
		w.errors = wr
	}
}

// Worker serves a single request.
type Worker struct {
	app           gateway.Application
	server        gateway.ServerInfo
	recvSize      int
	linger        time.Duration
	serverHeaders []gateway.Header
	log           *slog.Logger
	errors        io.Writer
	tracer        trace.Tracer
}

// New returns a Worker in canned response mode unless an
// [Application] option is given.
func New(opts ...Option) *Worker {
	w := &Worker{
		recvSize:      DefaultRecvSize,
		linger:        gateway.DefaultLinger,
		serverHeaders: gateway.DefaultServerHeaders,
		log:           noop.Logger(),
		errors:        os.Stderr,
		tracer:        otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ReadError is returned when the request could not be read.
type ReadError struct {
	Cause error
}

// Error implements the error interface.
func (e ReadError) Error() string {
	return fmt.Sprintf("failed to read request: %s", e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e ReadError) Unwrap() error {
	return e.Cause
}

// ApplicationError is returned when the application fails or panics.
type ApplicationError struct {
	Cause error
}

// Error implements the error interface.
func (e ApplicationError) Error() string {
	return fmt.Sprintf("application failed: %s", e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e ApplicationError) Unwrap() error {
	return e.Cause
}

// Serve reads one request from conn and responds to it. Any error is
// fatal for this request only. conn is always closed when Serve returns.
func (w *Worker) Serve(ctx context.Context, conn net.Conn) (err error) {
	c := &onceCloser{Conn: conn}
	defer try.Close(&err, c)

	spanCtx, span := w.tracer.Start(ctx, "Worker.Serve", trace.WithAttributes(
		attribute.String("net.peer.addr", addrString(conn.RemoteAddr())),
		attribute.Bool("forkserve.canned", w.app == nil),
	))
	defer span.End()
	defer func() {
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}()

	data, err := w.read(c)
	if err != nil {
		return err
	}
	w.echo(spanCtx, "<", data)

	if w.app == nil {
		return w.serveCanned(spanCtx, c)
	}
	return w.serveApp(spanCtx, c, data)
}

func (w *Worker) read(r io.Reader) ([]byte, error) {
	buf := make([]byte, w.recvSize)
	n, err := r.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, ReadError{Cause: err}
	}
	return buf[:n], nil
}

func (w *Worker) serveCanned(ctx context.Context, conn net.Conn) error {
	w.echo(ctx, ">", CannedResponse)

	_, err := conn.Write(CannedResponse)
	if err != nil {
		return err
	}
	gateway.Sleep(ctx, w.linger)
	return nil
}

func (w *Worker) serveApp(ctx context.Context, conn net.Conn, data []byte) error {
	req, err := gateway.ParseRequest(data)
	if err != nil {
		return err
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.target", req.Path),
	)

	env := gateway.NewEnviron(req, data, w.server, w.errors)
	resp := gateway.NewResponse(
		gateway.ServerHeaders(w.serverHeaders...),
		gateway.Linger(w.linger),
	)

	body, err := invoke(w.app, env, resp.Declare)
	if err != nil {
		return ApplicationError{Cause: err}
	}

	if w.log.Enabled(ctx, slog.LevelDebug) {
		if b, err := resp.Serialize(body); err == nil {
			w.echo(ctx, ">", b)
		}
	}
	return resp.Finish(ctx, conn, body)
}

func invoke(app gateway.Application, env *gateway.Environ, start gateway.StartResponse) (_ [][]byte, err error) {
	defer try.Recover(&err)

	return app.Serve(env, start)
}

// echo logs every line of b prefixed with dir, the way curl -v prints
// a conversation.
func (w *Worker) echo(ctx context.Context, dir string, b []byte) {
	if !w.log.Enabled(ctx, slog.LevelDebug) {
		return
	}

	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		w.log.DebugContext(ctx, dir+" "+s.Text(), slogfield.String("direction", dir))
	}
}

// FileConn turns an inherited descriptor back into a connection.
func FileConn(fd int) (net.Conn, error) {
	f := os.NewFile(uintptr(fd), "forkserve-conn")
	if f == nil {
		return nil, fmt.Errorf("invalid connection descriptor: %d", fd)
	}

	// net.FileConn dups the descriptor so the original is no longer needed
	defer f.Close()

	return net.FileConn(f)
}

// onceCloser lets the response adapter and the worker both close the
// connection while only the first close reaches the socket.
type onceCloser struct {
	net.Conn
	once sync.Once
}

func (c *onceCloser) Close() error {
	var err error
	c.once.Do(func() {
		err = c.Conn.Close()
	})
	return err
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
