// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package commons

import "errors"

// Sentinel errors shared across packages so callers can use errors.Is
// instead of matching on message strings.
var (
	ErrNotFound       = errors.New("commons: resource not found")
	ErrAlreadyExists  = errors.New("commons: resource already exists")
	ErrInvalidInput   = errors.New("commons: invalid input")
	ErrUnauthorized   = errors.New("commons: unauthorized")
	ErrClosed         = errors.New("commons: resource closed")
	ErrTimeout        = errors.New("commons: operation timed out")
	ErrUnavailable    = errors.New("commons: dependency unavailable")
	ErrNotImplemented = errors.New("commons: not implemented")
)
