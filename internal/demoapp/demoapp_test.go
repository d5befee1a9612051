// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package demoapp

import (
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/z5labs/forkserve/gateway"

	"github.com/stretchr/testify/assert"
)

func serve(t *testing.T, ref, path string) string {
	t.Helper()

	app, err := gateway.Lookup(ref)
	if !assert.Nil(t, err) {
		t.FailNow()
	}

	req := gateway.Request{Method: "GET", Path: path, Version: "HTTP/1.1"}
	env := gateway.NewEnviron(req, nil, gateway.ServerInfo{Name: "localhost", Port: 8888}, io.Discard)
	resp := gateway.NewResponse(gateway.ServerHeaders())

	body, err := app.Serve(env, resp.Declare)
	if !assert.Nil(t, err) {
		t.FailNow()
	}

	b, err := resp.Serialize(body)
	if !assert.Nil(t, err) {
		t.FailNow()
	}
	return string(b)
}

func TestHello(t *testing.T) {
	t.Run("will respond with a plain text greeting", func(t *testing.T) {
		resp := serve(t, "demo:hello", "/hello")

		expected := "HTTP/1.1 200 OK\r\n" +
			"Content-Type: text/plain\r\n" +
			"\r\n" +
			"Hello world from a simple WSGI application!\n"
		if !assert.Equal(t, expected, resp) {
			return
		}
	})
}

func TestEnviron(t *testing.T) {
	t.Run("will echo the environment in order", func(t *testing.T) {
		resp := serve(t, "demo:environ", "/env")

		_, body, found := strings.Cut(resp, "\r\n\r\n")
		if !assert.True(t, found) {
			return
		}

		lines := strings.Split(strings.TrimSuffix(body, "\n"), "\n")
		if !assert.Len(t, lines, 11) {
			return
		}
		if !assert.Equal(t, "wsgi.version=(1, 0)", lines[0]) {
			return
		}
		if !assert.Equal(t, "wsgi.multithread=false", lines[4]) {
			return
		}
		if !assert.Equal(t, "PATH_INFO=/env", lines[8]) {
			return
		}
		if !assert.Equal(t, "SERVER_PORT=8888", lines[10]) {
			return
		}
	})

	t.Run("will set an accurate content length", func(t *testing.T) {
		resp := serve(t, "demo:environ", "/env")

		head, body, _ := strings.Cut(resp, "\r\n\r\n")
		if !assert.Contains(t, head, "Content-Length: "+strconv.Itoa(len(body))) {
			return
		}
	})
}
