// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package appbuilder provides middleware for [forkserve.AppBuilder] implementations.
package appbuilder

import (
	"context"

	"github.com/z5labs/forkserve"
	"github.com/z5labs/forkserve/internal/try"
)

// Recover converts a panic during Build into a [try.PanicError].
func Recover[T any](builder forkserve.AppBuilder[T]) forkserve.AppBuilder[T] {
	return forkserve.AppBuilderFunc[T](func(ctx context.Context, cfg T) (_ forkserve.App, err error) {
		defer try.Recover(&err)

		return builder.Build(ctx, cfg)
	})
}
