// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package otelconfig

import (
	"context"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

func (cfg Config) meterProvider(ctx context.Context, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	var (
		exporter sdkmetric.Exporter
		err      error
	)
	switch cfg.Metric.Exporter {
	case "", None:
		return nil, nil
	case Stdout:
		exporter, err = stdoutmetric.New(stdoutmetric.WithWriter(cfg.out()))
	case OTLP:
		exporter, err = otlpMetricExporter(ctx, cfg.Metric.Target)
	default:
		return nil, UnknownExporterError{Signal: "metric", Name: cfg.Metric.Exporter}
	}
	if err != nil {
		return nil, err
	}

	var opts []sdkmetric.PeriodicReaderOption
	if cfg.Metric.Interval > 0 {
		opts = append(opts, sdkmetric.WithInterval(cfg.Metric.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, opts...)),
		sdkmetric.WithResource(res),
	)
	return mp, nil
}

func otlpMetricExporter(ctx context.Context, target string) (sdkmetric.Exporter, error) {
	conn, err := dial(ctx, target)
	if err != nil {
		return nil, err
	}
	return otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
}
