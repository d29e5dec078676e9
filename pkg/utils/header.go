// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package utils

// Header keys accepted on inbound ingest and outbound forwarding requests.
const (
	HEADER_API_KEY         = "x-rapida-api-key"
	HEADER_AUTH_KEY        = "x-rapida-authorization"
	HEADER_SOURCE_KEY      = "x-rapida-source"
	HEADER_ENVIRONMENT_KEY = "x-rapida-environment"
	HEADER_REGION_KEY      = "x-rapida-region"
)
