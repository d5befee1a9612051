// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMultiHook(t *testing.T) {
	t.Run("will run every hook", func(t *testing.T) {
		t.Run("even if a previous hook fails", func(t *testing.T) {
			firstErr := errors.New("first")
			secondErr := errors.New("second")

			var calls []string
			h := MultiHook(
				HookFunc(func(ctx context.Context) error {
					calls = append(calls, "first")
					return firstErr
				}),
				nil,
				HookFunc(func(ctx context.Context) error {
					calls = append(calls, "second")
					return secondErr
				}),
			)

			err := h.Run(context.Background())
			if !assert.ErrorIs(t, err, firstErr) {
				return
			}
			if !assert.ErrorIs(t, err, secondErr) {
				return
			}
			if !assert.Equal(t, []string{"first", "second"}, calls) {
				return
			}
		})
	})

	t.Run("will return nil", func(t *testing.T) {
		t.Run("if no hooks are given", func(t *testing.T) {
			err := MultiHook().Run(context.Background())
			if !assert.Nil(t, err) {
				return
			}
		})
	})
}

func TestContext_PostRun(t *testing.T) {
	t.Run("will run hooks in reverse registration order", func(t *testing.T) {
		var lc Context
		var calls []int
		for i := 0; i < 3; i++ {
			i := i
			lc.OnPostRun(HookFunc(func(ctx context.Context) error {
				calls = append(calls, i)
				return nil
			}))
		}

		err := lc.PostRun().Run(context.Background())
		if !assert.Nil(t, err) {
			return
		}
		if !assert.Equal(t, []int{2, 1, 0}, calls) {
			return
		}
	})
}

func TestFromContext(t *testing.T) {
	t.Run("will find the lifecycle context", func(t *testing.T) {
		t.Run("if it was stored with NewContext", func(t *testing.T) {
			lc := &Context{}
			ctx := NewContext(context.Background(), lc)

			found, ok := FromContext(ctx)
			if !assert.True(t, ok) {
				return
			}
			if !assert.Same(t, lc, found) {
				return
			}
		})
	})

	t.Run("will not find a lifecycle context", func(t *testing.T) {
		t.Run("if none was stored", func(t *testing.T) {
			_, ok := FromContext(context.Background())
			if !assert.False(t, ok) {
				return
			}
		})
	})
}
