// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/z5labs/forkserve/config"
	"github.com/z5labs/forkserve/pkg/otelconfig"
	"github.com/z5labs/forkserve/pkg/otelslog"
)

//go:embed base_config.yaml
var baseConfig []byte

// BaseConfig returns the defaults every other source overrides.
// The OTel service name and collector target honour OTEL_SERVICE_NAME
// and OTEL_EXPORTER_OTLP_ENDPOINT.
func BaseConfig() config.Source {
	return config.FromYaml(
		config.RenderTextTemplate(
			bytes.NewReader(baseConfig),
			config.EnvFuncs(),
		),
	)
}

// Isolation modes.
const (
	IsolationProcess   = "process"
	IsolationGoroutine = "goroutine"
)

// LoggingConfig
type LoggingConfig struct {
	Level  slog.Level `config:"level"`
	Format string     `config:"format"`

	// Out receives log records, os.Stderr if nil.
	Out io.Writer `config:"-"`
}

// UnknownLogFormatError is returned for log formats other than json and text.
type UnknownLogFormatError struct {
	Format string
}

// Error implements the error interface.
func (e UnknownLogFormatError) Error() string {
	return fmt.Sprintf("unknown log format: %s", e.Format)
}

// Logger builds the structured logger described by the config.
func (c LoggingConfig) Logger() (*slog.Logger, error) {
	out := c.Out
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: c.Level}

	switch c.Format {
	case "", "json":
		return otelslog.New(slog.NewJSONHandler(out, opts)), nil
	case "text":
		return otelslog.New(slog.NewTextHandler(out, opts)), nil
	default:
		return nil, UnknownLogFormatError{Format: c.Format}
	}
}

// ServerConfig
type ServerConfig struct {
	Host      string        `config:"host"`
	Port      int           `config:"port"`
	Backlog   int           `config:"backlog"`
	RecvSize  int           `config:"recvSize"`
	Linger    time.Duration `config:"linger"`
	Isolation string        `config:"isolation"`

	// App is a "module:callable" reference. Empty means every request
	// is answered with the canned greeting.
	App string `config:"app"`
}

// Config configures the listening server.
type Config struct {
	Logging LoggingConfig     `config:"logging"`
	OTel    otelconfig.Config `config:"otel"`
	Server  ServerConfig      `config:"server"`
}

// InitializeOTel implements the [appbuilder.OTelInitializer] interface.
func (c Config) InitializeOTel(ctx context.Context) error {
	return c.OTel.InitializeOTel(ctx)
}

// WorkerSettings
type WorkerSettings struct {
	// FD is the descriptor the client connection was inherited on.
	FD         int           `config:"fd"`
	App        string        `config:"app"`
	ServerName string        `config:"serverName"`
	ServerPort int           `config:"serverPort"`
	RecvSize   int           `config:"recvSize"`
	Linger     time.Duration `config:"linger"`
}

// WorkerConfig configures a single worker process.
type WorkerConfig struct {
	Logging LoggingConfig     `config:"logging"`
	OTel    otelconfig.Config `config:"otel"`
	Worker  WorkerSettings    `config:"worker"`
}

// InitializeOTel implements the [appbuilder.OTelInitializer] interface.
func (c WorkerConfig) InitializeOTel(ctx context.Context) error {
	return c.OTel.InitializeOTel(ctx)
}
