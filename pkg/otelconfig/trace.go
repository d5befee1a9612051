// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package otelconfig

import (
	"context"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/contrib/detectors/gcp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/api/option"
)

func (cfg Config) tracerProvider(ctx context.Context, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Trace.Exporter {
	case "", None:
		return nil, nil
	case Stdout:
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(cfg.out()))
	case OTLP:
		exporter, err = otlpTraceExporter(ctx, cfg.Trace.Target)
	case GCP:
		exporter, err = texporter.New(
			texporter.WithProjectID(cfg.Trace.ProjectID),
			texporter.WithTraceClientOptions([]option.ClientOption{option.WithTelemetryDisabled()}),
		)
		if err != nil {
			return nil, err
		}
		res = cfg.gcpResource(ctx, res)
	default:
		return nil, UnknownExporterError{Signal: "trace", Name: cfg.Trace.Exporter}
	}
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return tp, nil
}

func otlpTraceExporter(ctx context.Context, target string) (sdktrace.SpanExporter, error) {
	conn, err := dial(ctx, target)
	if err != nil {
		return nil, err
	}
	return otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
}

// gcpResource describes the Google Cloud environment. Detection
// failures, e.g. outside of Google Cloud, fall back to res.
func (cfg Config) gcpResource(ctx context.Context, res *resource.Resource) *resource.Resource {
	detected, err := resource.New(
		ctx,
		resource.WithDetectors(gcp.NewDetector()),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return res
	}
	return detected
}
