// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package app provides middleware for [forkserve.App] implementations.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/z5labs/forkserve"
	"github.com/z5labs/forkserve/internal/try"
	"github.com/z5labs/forkserve/lifecycle"
)

// Recover converts a panic inside app into a [try.PanicError].
func Recover(app forkserve.App) forkserve.App {
	return forkserve.AppFunc(func(ctx context.Context) (err error) {
		defer try.Recover(&err)

		return app.Run(ctx)
	})
}

// WithSignalNotifications cancels the context handed to app once any
// of the given signals is received.
func WithSignalNotifications(app forkserve.App, signals ...os.Signal) forkserve.App {
	return forkserve.AppFunc(func(ctx context.Context) error {
		sigCtx, stop := signal.NotifyContext(ctx, signals...)
		defer stop()

		return app.Run(sigCtx)
	})
}

// PostRun runs hook after app returns, whether it failed, succeeded or
// panicked. The hook's error is joined with the app's.
func PostRun(app forkserve.App, hook lifecycle.Hook) forkserve.App {
	return forkserve.AppFunc(func(ctx context.Context) (err error) {
		defer func() {
			r := recover()
			hookErr := hook.Run(context.WithoutCancel(ctx))
			err = errors.Join(err, hookErr)
			if r != nil {
				panic(r)
			}
		}()

		return app.Run(ctx)
	})
}
