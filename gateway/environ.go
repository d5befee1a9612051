// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gateway

import (
	"bytes"
	"io"
	"strconv"
)

// Environment keys set for every request.
const (
	KeyVersion       = "wsgi.version"
	KeyURLScheme     = "wsgi.url_scheme"
	KeyInput         = "wsgi.input"
	KeyErrors        = "wsgi.errors"
	KeyMultithread   = "wsgi.multithread"
	KeyMultiprocess  = "wsgi.multiprocess"
	KeyRunOnce       = "wsgi.run_once"
	KeyRequestMethod = "REQUEST_METHOD"
	KeyPathInfo      = "PATH_INFO"
	KeyServerName    = "SERVER_NAME"
	KeyServerPort    = "SERVER_PORT"
)

// Version is the value stored under [KeyVersion].
var Version = [2]int{1, 0}

// ServerInfo describes the listening endpoint a request arrived on.
type ServerInfo struct {
	Name string
	Port int
}

// Environ is an insertion ordered mapping handed to an [Application].
// It is built fresh for every request and must not be retained by
// the application once it returns.
type Environ struct {
	keys   []string
	values map[string]any
}

// NewEnviron builds the environment for a single request. The raw
// request bytes become the input stream and stderr becomes the error sink.
func NewEnviron(req Request, raw []byte, srv ServerInfo, stderr io.Writer) *Environ {
	env := &Environ{
		keys:   make([]string, 0, 11),
		values: make(map[string]any, 11),
	}
	env.Set(KeyVersion, Version)
	env.Set(KeyURLScheme, "http")
	env.Set(KeyInput, io.Reader(bytes.NewReader(raw)))
	env.Set(KeyErrors, stderr)

	// every worker serves exactly one request in isolation
	env.Set(KeyMultithread, false)
	env.Set(KeyMultiprocess, false)
	env.Set(KeyRunOnce, false)

	env.Set(KeyRequestMethod, req.Method)
	env.Set(KeyPathInfo, req.Path)
	env.Set(KeyServerName, srv.Name)
	env.Set(KeyServerPort, strconv.Itoa(srv.Port))
	return env
}

// Set stores v under k. Setting an existing key keeps its original position.
func (e *Environ) Set(k string, v any) {
	if _, exists := e.values[k]; !exists {
		e.keys = append(e.keys, k)
	}
	e.values[k] = v
}

// Get returns the value stored under k.
func (e *Environ) Get(k string) (any, bool) {
	v, ok := e.values[k]
	return v, ok
}

// String returns the value stored under k if it is a string.
func (e *Environ) String(k string) string {
	s, _ := e.values[k].(string)
	return s
}

// Keys returns the keys in insertion order.
func (e *Environ) Keys() []string {
	keys := make([]string, len(e.keys))
	copy(keys, e.keys)
	return keys
}

// Len returns the number of keys.
func (e *Environ) Len() int {
	return len(e.keys)
}

// Input returns the request input stream.
func (e *Environ) Input() io.Reader {
	r, _ := e.values[KeyInput].(io.Reader)
	return r
}

// Errors returns the error output sink.
func (e *Environ) Errors() io.Writer {
	w, _ := e.values[KeyErrors].(io.Writer)
	return w
}
