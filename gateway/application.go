// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package gateway bridges raw request bytes to an [Application] and its
// declared response back to wire bytes.
//
// An application is called once per request:
//
//	body, err := app.Serve(env, resp.Declare)
//
// It must call the provided [StartResponse] before returning, otherwise
// finishing the response fails.
package gateway

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Application is the calling contract between the server and user code.
type Application interface {
	Serve(env *Environ, start StartResponse) ([][]byte, error)
}

// ApplicationFunc is a func variant of the [Application] interface.
type ApplicationFunc func(*Environ, StartResponse) ([][]byte, error)

// Serve implements the [Application] interface.
func (f ApplicationFunc) Serve(env *Environ, start StartResponse) ([][]byte, error) {
	return f(env, start)
}

// Reference names a registered application as "module:callable".
type Reference struct {
	Module   string
	Callable string
}

// String implements the [fmt.Stringer] interface.
func (r Reference) String() string {
	return r.Module + ":" + r.Callable
}

// InvalidReferenceError is returned when a reference is not of the
// form "module:callable".
type InvalidReferenceError struct {
	Ref string
}

// Error implements the error interface.
func (e InvalidReferenceError) Error() string {
	return fmt.Sprintf("gateway: invalid application reference %q: expected module:callable", e.Ref)
}

// UnknownApplicationError is returned by [Lookup] for references
// nobody registered.
type UnknownApplicationError struct {
	Ref Reference
}

// Error implements the error interface.
func (e UnknownApplicationError) Error() string {
	return fmt.Sprintf("gateway: no application registered as %s", e.Ref)
}

// ParseReference splits ref into its module and callable parts.
func ParseReference(ref string) (Reference, error) {
	parts := strings.Split(ref, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Reference{}, InvalidReferenceError{Ref: ref}
	}
	return Reference{Module: parts[0], Callable: parts[1]}, nil
}

var (
	registryMu sync.RWMutex
	registry   = make(map[Reference]Application)
)

// Register makes app resolvable by ref. It panics if ref is invalid,
// app is nil or ref is registered twice. It is meant to be called from
// an init function.
func Register(ref string, app Application) {
	r, err := ParseReference(ref)
	if err != nil {
		panic(err)
	}
	if app == nil {
		panic("gateway: Register application is nil")
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[r]; dup {
		panic("gateway: Register called twice for " + r.String())
	}
	registry[r] = app
}

// Lookup resolves a "module:callable" reference to a registered application.
func Lookup(ref string) (Application, error) {
	r, err := ParseReference(ref)
	if err != nil {
		return nil, err
	}

	registryMu.RLock()
	defer registryMu.RUnlock()
	app, ok := registry[r]
	if !ok {
		return nil, UnknownApplicationError{Ref: r}
	}
	return app, nil
}

// Registered returns the sorted references of all registered applications.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	refs := make([]string, 0, len(registry))
	for r := range registry {
		refs = append(refs, r.String())
	}
	sort.Strings(refs)
	return refs
}
