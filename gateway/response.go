// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/z5labs/forkserve/internal/try"
)

// Header is a single response header line.
type Header struct {
	Name  string
	Value string
}

// StartResponse is handed to an [Application] so it can declare the
// response status line and headers before returning the body.
type StartResponse func(status string, headers []Header)

// DefaultServerHeaders are appended after the application's headers.
// The date is a fixed value, not the current time, so responses are
// byte for byte reproducible.
var DefaultServerHeaders = []Header{
	{Name: "Date", Value: "Tue, 31 Mar 2015 12:54:48 GMT"},
	{Name: "Server", Value: "WSGIServer 0.2"},
}

// DefaultLinger is how long [Response.Finish] holds the connection open
// after writing the response.
const DefaultLinger = 30 * time.Second

// ErrResponseNotDeclared is returned when a response is finished
// without the application ever calling its [StartResponse].
var ErrResponseNotDeclared = errors.New("gateway: response finished before it was declared")

// ResponseOption configures a [Response].
type ResponseOption func(*Response)

// ServerHeaders replaces [DefaultServerHeaders].
func ServerHeaders(headers ...Header) ResponseOption {
	return func(r *Response) {
		r.serverHeaders = headers
	}
}

// Linger sets how long the connection stays open after the response
// is written. A non-positive duration closes it immediately.
func Linger(d time.Duration) ResponseOption {
	return func(r *Response) {
		r.linger = d
	}
}

// Response captures an application's status and headers and turns them,
// together with the body, into wire bytes.
type Response struct {
	serverHeaders []Header
	linger        time.Duration

	declared bool
	status   string
	headers  []Header
}

// NewResponse returns a Response which has not been declared yet.
func NewResponse(opts ...ResponseOption) *Response {
	r := &Response{
		serverHeaders: DefaultServerHeaders,
		linger:        DefaultLinger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Declare records the status and headers of the response. It implements
// [StartResponse]. Calling it again replaces the previous declaration.
func (r *Response) Declare(status string, headers []Header) {
	hs := make([]Header, 0, len(headers)+len(r.serverHeaders))
	hs = append(hs, headers...)
	hs = append(hs, r.serverHeaders...)

	r.declared = true
	r.status = status
	r.headers = hs
}

// Declared reports whether [Response.Declare] has been called.
func (r *Response) Declared() bool {
	return r.declared
}

// InvalidBodyEncodingError is returned when a body chunk is not valid
// UTF-8. Nothing is written for such a response.
type InvalidBodyEncodingError struct {
	Chunk int
}

// Error implements the error interface.
func (e InvalidBodyEncodingError) Error() string {
	return fmt.Sprintf("gateway: response body chunk %d is not valid utf-8", e.Chunk)
}

// Serialize renders the status line, headers, blank line and the body
// chunks in order.
func (r *Response) Serialize(body [][]byte) ([]byte, error) {
	if !r.declared {
		return nil, ErrResponseNotDeclared
	}

	for i, chunk := range body {
		if !utf8.Valid(chunk) {
			return nil, InvalidBodyEncodingError{Chunk: i}
		}
	}

	var buf bytes.Buffer
	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(r.status)
	buf.WriteString("\r\n")
	for _, h := range r.headers {
		buf.WriteString(h.Name)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	for _, chunk := range body {
		buf.Write(chunk)
	}
	return buf.Bytes(), nil
}

// Finish serializes the response, writes it to conn in a single call and
// then lingers before closing conn. conn is closed on every return path.
func (r *Response) Finish(ctx context.Context, conn io.WriteCloser, body [][]byte) (err error) {
	defer try.Close(&err, conn)

	b, err := r.Serialize(body)
	if err != nil {
		return err
	}

	_, err = conn.Write(b)
	if err != nil {
		return err
	}
	Sleep(ctx, r.linger)
	return nil
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
