// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package utils

import (
	"fmt"
	"strconv"
)

// Option is the generic key/value bag used for per-provider, per-assistant
// configuration (aggregator overrides, normalizer boundaries, VAD thresholds).
// Values are stored as strings and coerced on read.
type Option interface {
	GetString(key string) (string, error)
	GetUint64(key string) (uint64, error)
	GetBool(key string) (bool, error)
	GetFloat64(key string) (float64, error)
}

// MapOption is the map-backed Option implementation populated from config
// files, GORM JSON columns, or request payloads.
type MapOption map[string]string

func (m MapOption) GetString(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("option %q not set", key)
	}
	return v, nil
}

func (m MapOption) GetUint64(key string) (uint64, error) {
	v, err := m.GetString(key)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}

func (m MapOption) GetBool(key string) (bool, error) {
	v, err := m.GetString(key)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(v)
}

func (m MapOption) GetFloat64(key string) (float64, error) {
	v, err := m.GetString(key)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(v, 64)
}
