// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/z5labs/forkserve/config"
	"github.com/z5labs/forkserve/dispatcher"
	"github.com/z5labs/forkserve/gateway"
	_ "github.com/z5labs/forkserve/internal/demoapp"
	"github.com/z5labs/forkserve/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readBaseConfig(t *testing.T, srcs ...config.Source) Config {
	t.Helper()

	m, err := config.Read(append([]config.Source{BaseConfig()}, srcs...)...)
	require.NoError(t, err)

	var cfg Config
	err = m.Unmarshal(&cfg)
	require.NoError(t, err)
	return cfg
}

func TestBaseConfig(t *testing.T) {
	t.Run("will provide the defaults", func(t *testing.T) {
		t.Setenv("OTEL_SERVICE_NAME", "")
		t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

		cfg := readBaseConfig(t)

		if !assert.Equal(t, slog.LevelInfo, cfg.Logging.Level) {
			return
		}
		if !assert.Equal(t, "json", cfg.Logging.Format) {
			return
		}
		if !assert.Equal(t, "forkserve", cfg.OTel.ServiceName) {
			return
		}
		if !assert.Equal(t, "none", cfg.OTel.Trace.Exporter) {
			return
		}
		if !assert.Equal(t, "localhost:4317", cfg.OTel.Trace.Target) {
			return
		}
		if !assert.Equal(t, "", cfg.Server.Host) {
			return
		}
		if !assert.Equal(t, 8888, cfg.Server.Port) {
			return
		}
		if !assert.Equal(t, 1024, cfg.Server.Backlog) {
			return
		}
		if !assert.Equal(t, 1024, cfg.Server.RecvSize) {
			return
		}
		if !assert.Equal(t, 30*time.Second, cfg.Server.Linger) {
			return
		}
		if !assert.Equal(t, IsolationProcess, cfg.Server.Isolation) {
			return
		}
		if !assert.Equal(t, "", cfg.Server.App) {
			return
		}
	})

	t.Run("will use the standard otel environment variables", func(t *testing.T) {
		t.Setenv("OTEL_SERVICE_NAME", "edge")
		t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

		cfg := readBaseConfig(t)

		if !assert.Equal(t, "edge", cfg.OTel.ServiceName) {
			return
		}
		if !assert.Equal(t, "collector:4317", cfg.OTel.Metric.Target) {
			return
		}
	})
}

func TestLoggingConfig_Logger(t *testing.T) {
	t.Run("will write json records", func(t *testing.T) {
		var buf bytes.Buffer
		log, err := LoggingConfig{Level: slog.LevelWarn, Format: "json", Out: &buf}.Logger()
		if !assert.Nil(t, err) {
			return
		}

		log.Info("dropped")
		log.Warn("kept")

		if !assert.NotContains(t, buf.String(), "dropped") {
			return
		}
		if !assert.Contains(t, buf.String(), `"msg":"kept"`) {
			return
		}
	})

	t.Run("will return an UnknownLogFormatError", func(t *testing.T) {
		t.Run("if the format is not supported", func(t *testing.T) {
			_, err := LoggingConfig{Format: "xml"}.Logger()

			var ferr UnknownLogFormatError
			if !assert.ErrorAs(t, err, &ferr) {
				return
			}
		})
	})
}

// startupPort finds the bound port in the startup log record.
func startupPort(t *testing.T, logs []byte) int {
	t.Helper()

	var record struct {
		Port int `json:"port"`
	}
	line, _, _ := bytes.Cut(logs, []byte("\n"))
	err := json.Unmarshal(line, &record)
	require.NoError(t, err)
	require.NotZero(t, record.Port)
	return record.Port
}

func get(addr, path string) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	err = conn.SetDeadline(time.Now().Add(10 * time.Second))
	if err != nil {
		return nil, err
	}
	_, err = io.WriteString(conn, "GET "+path+" HTTP/1.1\r\nHost: localhost\r\n\r\n")
	if err != nil {
		return nil, err
	}
	return io.ReadAll(conn)
}

func TestBuild(t *testing.T) {
	t.Run("will serve the configured application", func(t *testing.T) {
		cfg := readBaseConfig(t, config.Map{
			"server": map[string]any{
				"host":      "127.0.0.1",
				"port":      0,
				"linger":    "0s",
				"isolation": IsolationGoroutine,
				"app":       "demo:hello",
			},
		})
		var logs bytes.Buffer
		cfg.Logging.Out = &logs

		app, err := Build(context.Background(), cfg)
		if !assert.Nil(t, err) {
			return
		}
		port := startupPort(t, logs.Bytes())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- app.Run(ctx)
		}()

		resp, err := get(net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), "/hello")
		if !assert.Nil(t, err) {
			cancel()
			return
		}

		expected := "HTTP/1.1 200 OK\r\n" +
			"Content-Type: text/plain\r\n" +
			"Date: Tue, 31 Mar 2015 12:54:48 GMT\r\n" +
			"Server: WSGIServer 0.2\r\n" +
			"\r\n" +
			"Hello world from a simple WSGI application!\n"
		if !assert.Equal(t, expected, string(resp)) {
			cancel()
			return
		}

		cancel()
		if !assert.Nil(t, <-done) {
			return
		}
	})

	t.Run("will serve the canned response", func(t *testing.T) {
		t.Run("if no application is configured", func(t *testing.T) {
			cfg := readBaseConfig(t, config.Map{
				"server": map[string]any{
					"host":      "127.0.0.1",
					"port":      0,
					"linger":    "0s",
					"isolation": IsolationGoroutine,
				},
			})
			var logs bytes.Buffer
			cfg.Logging.Out = &logs

			app, err := Build(context.Background(), cfg)
			if !assert.Nil(t, err) {
				return
			}
			port := startupPort(t, logs.Bytes())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() {
				done <- app.Run(ctx)
			}()

			resp, err := get(net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), "/")
			cancel()
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, string(worker.CannedResponse), string(resp)) {
				return
			}
			if !assert.Nil(t, <-done) {
				return
			}
		})
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the application is not registered", func(t *testing.T) {
			cfg := readBaseConfig(t, config.Map{
				"server": map[string]any{"app": "missing:app"},
			})
			cfg.Logging.Out = io.Discard

			_, err := Build(context.Background(), cfg)

			var uerr gateway.UnknownApplicationError
			if !assert.ErrorAs(t, err, &uerr) {
				return
			}
		})

		t.Run("if the isolation mode is unknown", func(t *testing.T) {
			cfg := readBaseConfig(t, config.Map{
				"server": map[string]any{"isolation": "thread"},
			})
			cfg.Logging.Out = io.Discard

			_, err := Build(context.Background(), cfg)

			var ierr UnknownIsolationError
			if !assert.ErrorAs(t, err, &ierr) {
				return
			}
		})

		t.Run("if the port is already in use", func(t *testing.T) {
			ep, err := dispatcher.Listen(context.Background(), "127.0.0.1", 0, dispatcher.DefaultBacklog)
			if !assert.Nil(t, err) {
				return
			}
			defer ep.Close()

			cfg := readBaseConfig(t, config.Map{
				"server": map[string]any{
					"host": "127.0.0.1",
					"port": ep.Port,
				},
			})
			cfg.Logging.Out = io.Discard

			_, err = Build(context.Background(), cfg)

			var lerr dispatcher.ListenError
			if !assert.ErrorAs(t, err, &lerr) {
				return
			}
		})
	})
}

func TestWorkerArgs(t *testing.T) {
	t.Run("will start with the worker subcommand", func(t *testing.T) {
		cfg := readBaseConfig(t, config.Map{
			"server": map[string]any{"app": "demo:environ", "linger": "5s"},
		})

		args := WorkerArgs(cfg, gateway.ServerInfo{Name: "localhost", Port: 8888})
		if !assert.Equal(t, "worker", args[0]) {
			return
		}

		flags := make(map[string]string)
		for i := 1; i+1 < len(args); i += 2 {
			flags[args[i]] = args[i+1]
		}
		if !assert.Equal(t, "demo:environ", flags["--app"]) {
			return
		}
		if !assert.Equal(t, "localhost", flags["--server-name"]) {
			return
		}
		if !assert.Equal(t, "8888", flags["--server-port"]) {
			return
		}
		if !assert.Equal(t, "3", flags["--fd"]) {
			return
		}
		if !assert.Equal(t, "5s", flags["--linger"]) {
			return
		}
		if !assert.Equal(t, "INFO", flags["--log-level"]) {
			return
		}
	})
}

func TestBuildWorker(t *testing.T) {
	t.Run("will serve the inherited connection", func(t *testing.T) {
		ls, err := net.Listen("tcp", "127.0.0.1:0")
		if !assert.Nil(t, err) {
			return
		}
		defer ls.Close()

		client, err := net.Dial("tcp", ls.Addr().String())
		if !assert.Nil(t, err) {
			return
		}
		defer client.Close()

		accepted, err := ls.Accept()
		if !assert.Nil(t, err) {
			return
		}
		f, err := accepted.(*net.TCPConn).File()
		accepted.Close()
		if !assert.Nil(t, err) {
			return
		}
		fd, err := syscall.Dup(int(f.Fd()))
		f.Close()
		if !assert.Nil(t, err) {
			return
		}

		app, err := BuildWorker(context.Background(), WorkerConfig{
			Logging: LoggingConfig{Out: io.Discard},
			Worker: WorkerSettings{
				FD:         fd,
				App:        "demo:environ",
				ServerName: "localhost",
				ServerPort: 8888,
				RecvSize:   1024,
			},
		})
		if !assert.Nil(t, err) {
			return
		}

		done := make(chan error, 1)
		go func() {
			done <- app.Run(context.Background())
		}()

		_, err = io.WriteString(client, "GET /env HTTP/1.1\r\n\r\n")
		if !assert.Nil(t, err) {
			return
		}
		resp, err := io.ReadAll(client)
		if !assert.Nil(t, err) {
			return
		}
		if !assert.Contains(t, string(resp), "PATH_INFO=/env\n") {
			return
		}
		if !assert.Contains(t, string(resp), "SERVER_NAME=localhost\n") {
			return
		}
		if !assert.Nil(t, <-done) {
			return
		}
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the descriptor is not a connection", func(t *testing.T) {
			app, err := BuildWorker(context.Background(), WorkerConfig{
				Logging: LoggingConfig{Out: io.Discard},
				Worker:  WorkerSettings{FD: 1 << 20},
			})
			if !assert.Nil(t, err) {
				return
			}

			err = app.Run(context.Background())
			if !assert.Error(t, err) {
				return
			}
		})
	})
}
