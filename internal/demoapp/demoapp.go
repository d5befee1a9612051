// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package demoapp registers the built in applications "demo:hello"
// and "demo:environ". Import it for its side effects.
package demoapp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/z5labs/forkserve/gateway"
)

func init() {
	gateway.Register("demo:hello", gateway.ApplicationFunc(Hello))
	gateway.Register("demo:environ", gateway.ApplicationFunc(Environ))
}

// Hello greets the client with plain text.
func Hello(env *gateway.Environ, start gateway.StartResponse) ([][]byte, error) {
	start("200 OK", []gateway.Header{
		{Name: "Content-Type", Value: "text/plain"},
	})
	return [][]byte{[]byte("Hello world from a simple WSGI application!\n")}, nil
}

// Environ echoes every environment entry back, one per line, in the
// order they were set.
func Environ(env *gateway.Environ, start gateway.StartResponse) ([][]byte, error) {
	body := make([][]byte, 0, env.Len())
	size := 0
	for _, k := range env.Keys() {
		v, _ := env.Get(k)
		line := []byte(k + "=" + format(v) + "\n")
		size += len(line)
		body = append(body, line)
	}

	start("200 OK", []gateway.Header{
		{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		{Name: "Content-Length", Value: strconv.Itoa(size)},
	})
	return body, nil
}

func format(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case [2]int:
		return fmt.Sprintf("(%d, %d)", x[0], x[1])
	default:
		return strings.TrimPrefix(fmt.Sprintf("%T", v), "*")
	}
}
