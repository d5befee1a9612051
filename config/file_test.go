// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"errors"
	"io"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
)

type fsFunc func(string) (fs.File, error)

func (f fsFunc) Open(path string) (fs.File, error) {
	return f(path)
}

func TestFileReader_Read(t *testing.T) {
	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the fs.FS fails to open the file", func(t *testing.T) {
			openErr := errors.New("failed to open")
			fs := fsFunc(func(s string) (fs.File, error) {
				return nil, openErr
			})

			r := NewFileReader(fs, "config.yaml")
			_, err := io.ReadAll(r)
			if !assert.ErrorIs(t, err, openErr) {
				return
			}

			var ferr FileOpenError
			if !assert.ErrorAs(t, err, &ferr) {
				return
			}
			if !assert.Equal(t, "config.yaml", ferr.Path) {
				return
			}
		})
	})

	t.Run("will read the file contents", func(t *testing.T) {
		t.Run("if the file exists", func(t *testing.T) {
			fsys := fstest.MapFS{
				"forkserve.yaml": &fstest.MapFile{Data: []byte("server:\n  port: 9000\n")},
			}

			r := NewFileReader(fsys, "forkserve.yaml")
			b, err := io.ReadAll(r)
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, "server:\n  port: 9000\n", string(b)) {
				return
			}
			if !assert.Nil(t, r.Close()) {
				return
			}
		})
	})
}

func TestFileReader_Close(t *testing.T) {
	t.Run("will not return an error", func(t *testing.T) {
		t.Run("if Close is called before the underlying file has been opened", func(t *testing.T) {
			fs := fsFunc(func(s string) (fs.File, error) {
				return nil, nil
			})

			r := NewFileReader(fs, "config.yaml")
			err := r.Close()
			if !assert.Nil(t, err) {
				return
			}
		})
	})
}
