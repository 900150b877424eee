// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package gateway is the HTTP/WebSocket bootstrap: a gin engine exposing
// the duplex upgrade route, a healthcheck, and the Prometheus scrape
// route, matching the teacher's own router.go shape (gin engine, route
// groups, CORS and recovery middleware) generalized from telephony
// webhook callbacks to a single streaming endpoint.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the bearer token payload the gateway accepts. tenant_id is the
// only claim the rest of the system depends on.
type Claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// ErrMissingToken is returned when neither the Authorization header nor
// the token query parameter carries a bearer token.
var ErrMissingToken = errors.New("missing bearer token")

func extractToken(r *http.Request) (string, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer "), nil
		}
		return "", fmt.Errorf("malformed Authorization header")
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, nil
	}
	return "", ErrMissingToken
}

// authenticate validates the bearer token from r against secret/issuer and
// returns the tenant id carried in its claims.
func authenticate(r *http.Request, secret, issuer string) (string, error) {
	raw, err := extractToken(r)
	if err != nil {
		return "", err
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	if claims.TenantID == "" {
		return "", fmt.Errorf("token missing tenant_id claim")
	}
	return claims.TenantID, nil
}
