// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package utils

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
)

// Go runs fn in a new goroutine, recovering any panic so a single misbehaving
// background task cannot take down the process. ctx is accepted for call-site
// symmetry with cancellable workers; Go itself does not watch it.
func Go(ctx context.Context, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(os.Stderr, "recovered panic in utils.Go: %v\n%s\n", r, debug.Stack())
			}
		}()
		fn()
	}()
}
