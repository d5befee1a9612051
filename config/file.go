// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"fmt"
	"io"
	"io/fs"
	"sync"
)

// FileReader is an io.Reader that opens the named file lazily, on first Read.
type FileReader struct {
	path string

	openOnce sync.Once
	openErr  error
	fs       fs.FS
	file     io.ReadCloser
}

// NewFileReader configures a FileReader.
func NewFileReader(fs fs.FS, path string) *FileReader {
	return &FileReader{
		path: path,
		fs:   fs,
	}
}

// FileOpenError is returned by [FileReader.Read] when the file could not be opened.
type FileOpenError struct {
	Path  string
	Cause error
}

// Error implements the error interface.
func (e FileOpenError) Error() string {
	return fmt.Sprintf("failed to open config file %s: %s", e.Path, e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e FileOpenError) Unwrap() error {
	return e.Cause
}

// Read implements the io.Reader interface.
func (r *FileReader) Read(b []byte) (int, error) {
	r.openOnce.Do(func() {
		f, err := r.fs.Open(r.path)
		if err != nil {
			r.openErr = FileOpenError{Path: r.path, Cause: err}
			return
		}
		r.file = f
	})
	if r.openErr != nil {
		return 0, r.openErr
	}
	return r.file.Read(b)
}

// Close implements the io.Closer interface.
func (r *FileReader) Close() error {
	if r.file == nil {
		return nil
	}

	err := r.file.Close()
	r.file = nil
	return err
}
