// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package utils

import "strings"

// RapidaEnvironment identifies the deployment tier a process is running in.
type RapidaEnvironment int

const (
	DEVELOPMENT RapidaEnvironment = iota
	PRODUCTION
)

// Get returns the lowercase string form used in logs and config keys.
func (e RapidaEnvironment) Get() string {
	switch e {
	case PRODUCTION:
		return "production"
	default:
		return "development"
	}
}

// FromEnvironmentStr parses an environment name, defaulting to DEVELOPMENT
// for anything unrecognized.
func FromEnvironmentStr(s string) RapidaEnvironment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "production":
		return PRODUCTION
	default:
		return DEVELOPMENT
	}
}
