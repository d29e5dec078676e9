// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package utils

import "strconv"

const versionPrefix = "vrsn_"

// GetVersionDefinition extracts the numeric id from a "vrsn_<id>" reference,
// returning nil when the reference is empty, unprefixed (e.g. "latest"), or
// malformed.
func GetVersionDefinition(ref string) *uint64 {
	if len(ref) <= len(versionPrefix) || ref[:len(versionPrefix)] != versionPrefix {
		return nil
	}
	id, err := strconv.ParseUint(ref[len(versionPrefix):], 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

// GetVersionString renders a version id back into its "vrsn_<id>" reference.
func GetVersionString(id uint64) string {
	return versionPrefix + strconv.FormatUint(id, 10)
}
