// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gateway

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseReference(t *testing.T) {
	testCases := []struct {
		name      string
		ref       string
		expected  Reference
		expectErr bool
	}{
		{name: "module and callable", ref: "demo:hello", expected: Reference{Module: "demo", Callable: "hello"}},
		{name: "missing separator", ref: "demo", expectErr: true},
		{name: "empty module", ref: ":hello", expectErr: true},
		{name: "empty callable", ref: "demo:", expectErr: true},
		{name: "too many separators", ref: "a:b:c", expectErr: true},
		{name: "empty", ref: "", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ref, err := ParseReference(tc.ref)
			if tc.expectErr {
				var rerr InvalidReferenceError
				require.ErrorAs(t, err, &rerr)
				require.Equal(t, tc.ref, rerr.Ref)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.expected, ref)
			require.Equal(t, tc.ref, ref.String())
		})
	}
}

func TestRegister(t *testing.T) {
	app := ApplicationFunc(func(env *Environ, start StartResponse) ([][]byte, error) {
		start("200 OK", []Header{{Name: "Content-Type", Value: "text/plain"}})
		return [][]byte{[]byte(env.String(KeyPathInfo))}, nil
	})

	Register("registrytest:echo", app)

	t.Run("lookup resolves registered applications", func(t *testing.T) {
		found, err := Lookup("registrytest:echo")
		require.NoError(t, err)

		resp := NewResponse(ServerHeaders())
		env := NewEnviron(Request{Method: "GET", Path: "/echo", Version: "HTTP/1.1"}, nil, ServerInfo{}, io.Discard)
		body, err := found.Serve(env, resp.Declare)
		require.NoError(t, err)

		b, err := resp.Serialize(body)
		require.NoError(t, err)
		require.Equal(t, "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\n/echo", string(b))
	})

	t.Run("lookup fails for unknown applications", func(t *testing.T) {
		_, err := Lookup("registrytest:missing")

		var uerr UnknownApplicationError
		require.ErrorAs(t, err, &uerr)
		require.Equal(t, Reference{Module: "registrytest", Callable: "missing"}, uerr.Ref)
	})

	t.Run("lookup fails for invalid references", func(t *testing.T) {
		_, err := Lookup("registrytest")

		var rerr InvalidReferenceError
		require.ErrorAs(t, err, &rerr)
	})

	t.Run("registered lists the reference", func(t *testing.T) {
		require.Contains(t, Registered(), "registrytest:echo")
	})

	t.Run("duplicate registration panics", func(t *testing.T) {
		require.Panics(t, func() {
			Register("registrytest:echo", app)
		})
	})

	t.Run("nil application panics", func(t *testing.T) {
		require.Panics(t, func() {
			Register("registrytest:nil", nil)
		})
	})

	t.Run("invalid reference panics", func(t *testing.T) {
		require.Panics(t, func() {
			Register("registrytest", app)
		})
	})
}
