// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command forkserve serves HTTP by handing every accepted connection to
// its own worker process.
package main

import (
	"context"
	"os"

	_ "github.com/z5labs/forkserve/internal/demoapp"
)

func main() {
	err := newRootCmd().ExecuteContext(context.Background())
	if err != nil {
		os.Exit(1)
	}
}
