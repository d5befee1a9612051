// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Request is the parsed request line of a single request.
type Request struct {
	Method  string
	Path    string
	Version string
}

// ErrEmptyRequest is returned by [ParseRequest] when no bytes were read.
var ErrEmptyRequest = errors.New("gateway: empty request")

// MalformedRequestLineError is returned by [ParseRequest] when the first
// line does not split into exactly three whitespace separated tokens.
type MalformedRequestLineError struct {
	Line   string
	Tokens int
}

// Error implements the error interface.
func (e MalformedRequestLineError) Error() string {
	return fmt.Sprintf("gateway: malformed request line %q: expected 3 tokens but found %d", e.Line, e.Tokens)
}

// InvalidEncodingError is returned by [ParseRequest] when the request
// line is not valid UTF-8.
type InvalidEncodingError struct {
	Line []byte
}

// Error implements the error interface.
func (e InvalidEncodingError) Error() string {
	return fmt.Sprintf("gateway: request line is not valid utf-8: %q", e.Line)
}

// ParseRequest extracts the method, path and protocol version from the
// first line of data. Everything after the first line terminator, i.e.
// headers and body, is ignored.
func ParseRequest(data []byte) (Request, error) {
	if len(data) == 0 {
		return Request{}, ErrEmptyRequest
	}

	line := data
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		line = data[:i]
	}
	if !utf8.Valid(line) {
		return Request{}, InvalidEncodingError{Line: line}
	}

	fields := strings.Fields(string(line))
	if len(fields) != 3 {
		return Request{}, MalformedRequestLineError{
			Line:   string(line),
			Tokens: len(fields),
		}
	}

	req := Request{
		Method:  fields[0],
		Path:    fields[1],
		Version: fields[2],
	}
	return req, nil
}
