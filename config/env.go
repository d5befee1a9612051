// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"os"
	"strings"

	"github.com/z5labs/forkserve/config/key"
)

// Env represents a Source where its underlying values
// are extracted from environment variables.
type Env struct {
	prefix  string
	environ func() []string
}

// FromEnv returns a Source which applies every environment variable
// starting with prefix followed by an underscore. The remainder of the
// name is lower cased and split on underscores into a key chain, e.g.
// FORKSERVE_SERVER_PORT becomes server.port.
func FromEnv(prefix string) Env {
	return Env{
		prefix:  prefix,
		environ: os.Environ,
	}
}

// Apply implements the Source interface.
func (src Env) Apply(store Store) error {
	for _, pair := range src.environ() {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		err := setEnv(store, src.prefix, k, v)
		if err != nil {
			return err
		}
	}
	return nil
}

func setEnv(store Store, prefix, name, value string) error {
	name, ok := strings.CutPrefix(name, prefix+"_")
	if !ok || name == "" {
		return nil
	}

	chain := key.Split(strings.ToLower(name), "_")
	if len(chain) == 0 {
		return nil
	}
	return store.Set(chain, value)
}
