// Copyright 2025 The BRRTRouter Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package security

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// BearerJWTProvider validates an `Authorization: Bearer <token>` header as a
// signed JWT, extracting granted scopes from a configurable claim (default
// "scope", space-delimited, matching the OAuth2 convention).
type BearerJWTProvider struct {
	Keyfunc    jwt.Keyfunc
	ScopeClaim string
}

// NewBearerJWTProvider builds a provider that verifies tokens with keyfunc.
func NewBearerJWTProvider(keyfunc jwt.Keyfunc) *BearerJWTProvider {
	return &BearerJWTProvider{Keyfunc: keyfunc, ScopeClaim: "scope"}
}

func (p *BearerJWTProvider) Validate(_ context.Context, req Request) Outcome {
	authz := req.Header.Get("Authorization")
	if authz == "" {
		return Outcome{Kind: OutcomeMissingCredential}
	}
	token, ok := extractBearer(authz)
	if !ok {
		return Outcome{Kind: OutcomeMissingCredential}
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, p.Keyfunc)
	if err != nil || !parsed.Valid {
		return Outcome{Kind: OutcomeDeny, DenyReason: "invalid or expired bearer token"}
	}

	claim := p.ScopeClaim
	if claim == "" {
		claim = "scope"
	}
	var scopes []string
	if raw, ok := claims[claim].(string); ok {
		scopes = strings.Fields(raw)
	}
	return Outcome{Kind: OutcomeAllow, GrantedScopes: scopes}
}

func extractBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
