// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/z5labs/forkserve"
	"github.com/z5labs/forkserve/app"
	"github.com/z5labs/forkserve/appbuilder"
	"github.com/z5labs/forkserve/config"
	"github.com/z5labs/forkserve/config/key"
	"github.com/z5labs/forkserve/gateway"
	"github.com/z5labs/forkserve/server"
	"github.com/z5labs/forkserve/worker"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// envPrefix prefixes every environment variable read as config,
// e.g. FORKSERVE_SERVER_PORT.
const envPrefix = "FORKSERVE"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "forkserve",
		Short:        "Process per connection HTTP server",
		SilenceUsage: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.AddCommand(newServeCmd(), newWorkerCmd())
	return cmd
}

var serveFlagKeys = map[string]string{
	"host":       "server.host",
	"port":       "server.port",
	"backlog":    "server.backlog",
	"recv-size":  "server.recvSize",
	"linger":     "server.linger",
	"isolation":  "server.isolation",
	"log-level":  "logging.level",
	"log-format": "logging.format",
}

func newServeCmd() *cobra.Command {
	var configPath, envFile string

	cmd := &cobra.Command{
		Use:   "serve [module:callable]",
		Short: "Listen for connections and serve each one in a new worker",
		Long: `Listen for connections and serve each one in a new worker.

Without an application every request is answered with a canned greeting.
Config is merged from, in increasing precedence, the built in defaults,
--config, --env-file, FORKSERVE_* environment variables and flags.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srcs := serveSources(cmd.Flags(), configPath, envFile, args)
			return forkserve.Run(cmd.Context(), buildServer(), srcs...)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&configPath, "config", "", "yaml config file")
	fs.StringVar(&envFile, "env-file", "", "dotenv file of "+envPrefix+"_* variables")
	fs.String("host", "", "interface to listen on, all interfaces if empty")
	fs.Int("port", 8888, "port to listen on")
	fs.Int("backlog", 1024, "listen backlog")
	fs.Int("recv-size", worker.DefaultRecvSize, "bytes read from each connection")
	fs.Duration("linger", gateway.DefaultLinger, "time a worker waits before closing the connection")
	fs.String("isolation", server.IsolationProcess, "process or goroutine")
	fs.String("log-level", "INFO", "minimum log level")
	fs.String("log-format", "json", "json or text")
	return cmd
}

func serveSources(fs *pflag.FlagSet, configPath, envFile string, args []string) []config.Source {
	srcs := []config.Source{server.BaseConfig()}
	if configPath != "" {
		srcs = append(srcs, config.FromYaml(
			config.RenderTextTemplate(openFile(configPath), config.EnvFuncs()),
		))
	}
	if envFile != "" {
		srcs = append(srcs, config.FromDotEnv(envPrefix, openFile(envFile)))
	}
	srcs = append(srcs, config.FromEnv(envPrefix))
	if len(args) > 0 {
		srcs = append(srcs, config.Map{
			"server": map[string]any{"app": args[0]},
		})
	}
	return append(srcs, flagSource(fs, serveFlagKeys))
}

func buildServer() forkserve.AppBuilder[server.Config] {
	build := forkserve.AppBuilderFunc[server.Config](func(ctx context.Context, cfg server.Config) (forkserve.App, error) {
		a, err := server.Build(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return app.Recover(a), nil
	})
	return appbuilder.Recover(appbuilder.OTel(build))
}

var workerFlagKeys = map[string]string{
	"app":                   "worker.app",
	"server-name":           "worker.serverName",
	"server-port":           "worker.serverPort",
	"fd":                    "worker.fd",
	"recv-size":             "worker.recvSize",
	"linger":                "worker.linger",
	"log-level":             "logging.level",
	"log-format":            "logging.format",
	"otel-service-name":     "otel.serviceName",
	"otel-trace-exporter":   "otel.trace.exporter",
	"otel-trace-target":     "otel.trace.target",
	"otel-trace-project-id": "otel.trace.projectId",
	"otel-metric-exporter":  "otel.metric.exporter",
	"otel-metric-target":    "otel.metric.target",
	"otel-metric-interval":  "otel.metric.interval",
}

// newWorkerCmd is started by the server for every connection with the
// arguments built by server.WorkerArgs.
func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Serve a single inherited connection",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return forkserve.Run(cmd.Context(), buildWorker(), workerSources(cmd.Flags())...)
		},
	}

	fs := cmd.Flags()
	for _, name := range []string{
		"app",
		"server-name",
		"log-level",
		"log-format",
		"otel-service-name",
		"otel-trace-exporter",
		"otel-trace-target",
		"otel-trace-project-id",
		"otel-metric-exporter",
		"otel-metric-target",
	} {
		fs.String(name, "", "")
	}
	fs.Int("server-port", 0, "")
	fs.Int("fd", worker.InheritedConnFD, "descriptor of the inherited connection")
	fs.Int("recv-size", worker.DefaultRecvSize, "")
	fs.Duration("linger", 0, "")
	fs.Duration("otel-metric-interval", 0, "")
	return cmd
}

func workerSources(fs *pflag.FlagSet) []config.Source {
	return []config.Source{
		server.BaseConfig(),
		flagSource(fs, workerFlagKeys),
	}
}

func buildWorker() forkserve.AppBuilder[server.WorkerConfig] {
	build := forkserve.AppBuilderFunc[server.WorkerConfig](func(ctx context.Context, cfg server.WorkerConfig) (forkserve.App, error) {
		a, err := server.BuildWorker(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return app.Recover(a), nil
	})
	return appbuilder.Recover(appbuilder.OTel(build))
}

// flagSource applies only the flags set on the command line so that
// flag defaults never mask the other sources.
func flagSource(fs *pflag.FlagSet, keys map[string]string) config.Source {
	return config.SourceFunc(func(store config.Store) error {
		var err error
		fs.Visit(func(f *pflag.Flag) {
			path, ok := keys[f.Name]
			if !ok || err != nil {
				return
			}
			err = store.Set(key.Split(path, "."), flagValue(f))
		})
		return err
	})
}

func flagValue(f *pflag.Flag) any {
	if f.Value.Type() == "int" {
		n, err := strconv.Atoi(f.Value.String())
		if err == nil {
			return n
		}
	}
	return f.Value.String()
}

func openFile(path string) *config.FileReader {
	return config.NewFileReader(os.DirFS(filepath.Dir(path)), filepath.Base(path))
}
