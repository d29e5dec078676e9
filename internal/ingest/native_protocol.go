// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package ingest

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// NativeAuthenticator verifies the bearer JWT accompanying a native-protocol
// connection against a configured RSA public key.
type NativeAuthenticator struct {
	publicKey *rsa.PublicKey
}

// NewNativeAuthenticator parses a PEM-encoded RSA public key.
func NewNativeAuthenticator(pemBytes []byte) (*NativeAuthenticator, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("ingest: parsing native JWT public key: %w", err)
	}
	return &NativeAuthenticator{publicKey: key}, nil
}

// Verify checks tokenString's signature and standard claims, returning the
// claim set on success.
func (a *NativeAuthenticator) Verify(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("ingest: unexpected signing method %v", t.Header["alg"])
		}
		return a.publicKey, nil
	}, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))
	if err != nil {
		return nil, fmt.Errorf("ingest: verifying native jwt: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("ingest: native jwt claims invalid")
	}
	return claims, nil
}

// parseNativeFrame decodes the native protocol's JSON control frame.
func parseNativeFrame(raw []byte) (*nativeFrame, error) {
	var f nativeFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("ingest: malformed native frame: %w", err)
	}
	return &f, nil
}
