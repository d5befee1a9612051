// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"fmt"
	"io"

	"github.com/z5labs/forkserve/internal/try"

	"github.com/joho/godotenv"
)

// DotEnv is a [Source] reading KEY=value pairs in the .env file format.
// Only keys with the configured prefix are applied, exactly like [Env].
type DotEnv struct {
	prefix string
	r      io.Reader
}

// FromDotEnv returns a [Source] which parses r as a .env file.
func FromDotEnv(prefix string, r io.Reader) DotEnv {
	return DotEnv{prefix: prefix, r: r}
}

// InvalidDotEnvError occurs if the underlying io.Reader is not a valid .env file.
type InvalidDotEnvError struct {
	Cause error
}

// Error implements the error interface.
func (e InvalidDotEnvError) Error() string {
	return fmt.Sprintf("invalid .env file: %s", e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e InvalidDotEnvError) Unwrap() error {
	return e.Cause
}

// Apply implements the Source interface.
func (src DotEnv) Apply(store Store) (err error) {
	defer try.Close(&err, src.r)

	vars, err := godotenv.Parse(src.r)
	if err != nil {
		return InvalidDotEnvError{Cause: err}
	}
	for k, v := range vars {
		err = setEnv(store, src.prefix, k, v)
		if err != nil {
			return err
		}
	}
	return nil
}
