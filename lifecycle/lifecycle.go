// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package lifecycle lets builders register work which must happen once
// a [forkserve.App] stops running, e.g. flushing telemetry exporters.
package lifecycle

import (
	"context"
	"errors"
	"sync"
)

// Hook is an action run relative to an app's execution.
type Hook interface {
	Run(context.Context) error
}

// HookFunc is a func variant of the [Hook] interface.
type HookFunc func(context.Context) error

// Run implements the [Hook] interface.
func (f HookFunc) Run(ctx context.Context) error {
	return f(ctx)
}

type multiHook []Hook

func (mh multiHook) Run(ctx context.Context) error {
	var errs []error
	for _, h := range mh {
		if h == nil {
			continue
		}
		err := h.Run(ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiHook runs every hook in order. A failing hook does not stop the
// ones after it and all failures are joined.
func MultiHook(hooks ...Hook) Hook {
	return multiHook(hooks)
}

// Context collects the hooks registered while an app is being built.
type Context struct {
	mu       sync.Mutex
	postRuns []Hook
}

// OnPostRun registers hook to run after the app returns. Hooks run in
// the reverse order of registration, like deferred calls.
func (c *Context) OnPostRun(hook Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.postRuns = append(c.postRuns, hook)
}

// PostRun returns a single [Hook] running every registered post run hook.
func (c *Context) PostRun() Hook {
	c.mu.Lock()
	defer c.mu.Unlock()

	hooks := make(multiHook, 0, len(c.postRuns))
	for i := len(c.postRuns) - 1; i >= 0; i-- {
		hooks = append(hooks, c.postRuns[i])
	}
	return hooks
}

type contextKey struct{}

// NewContext returns a copy of parent carrying c.
func NewContext(parent context.Context, c *Context) context.Context {
	return context.WithValue(parent, contextKey{}, c)
}

// FromContext returns the [Context] stored in ctx, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(contextKey{}).(*Context)
	return c, ok && c != nil
}
