// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package appbuilder

import (
	"context"
	"errors"

	"github.com/z5labs/forkserve"
	"github.com/z5labs/forkserve/app"
	"github.com/z5labs/forkserve/lifecycle"

	"go.opentelemetry.io/otel"
)

// OTelInitializer is implemented by configs which know how to set up
// the global OTel providers.
type OTelInitializer interface {
	InitializeOTel(context.Context) error
}

// OTel initializes the OTel SDK from the config before building and
// shuts the global providers down once the built app stops running.
func OTel[T OTelInitializer](builder forkserve.AppBuilder[T]) forkserve.AppBuilder[T] {
	return forkserve.AppBuilderFunc[T](func(ctx context.Context, cfg T) (forkserve.App, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := cfg.InitializeOTel(ctx)
		if err != nil {
			return nil, err
		}

		shutdown := lifecycle.MultiHook(
			tryShutdown(otel.GetTracerProvider()),
			tryShutdown(otel.GetMeterProvider()),
		)

		a, err := builder.Build(ctx, cfg)
		if err != nil {
			return nil, errors.Join(err, shutdown.Run(ctx))
		}

		lc, ok := lifecycle.FromContext(ctx)
		if !ok {
			return app.PostRun(a, shutdown), nil
		}
		lc.OnPostRun(shutdown)
		return a, nil
	})
}

type shutdowner interface {
	Shutdown(context.Context) error
}

func tryShutdown(v any) lifecycle.HookFunc {
	return func(ctx context.Context) error {
		s, ok := v.(shutdowner)
		if !ok {
			return nil
		}
		return s.Shutdown(ctx)
	}
}
