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
	"crypto/subtle"
)

// APIKeyProvider validates a static API key presented in a configurable
// header (default X-API-Key), using a constant-time comparison so the
// check's timing doesn't leak how many leading bytes matched.
type APIKeyProvider struct {
	Header string
	Key    string
}

// NewAPIKeyProvider builds a provider checking header against key.
func NewAPIKeyProvider(header, key string) *APIKeyProvider {
	if header == "" {
		header = "X-API-Key"
	}
	return &APIKeyProvider{Header: header, Key: key}
}

func (p *APIKeyProvider) Validate(_ context.Context, req Request) Outcome {
	presented := req.Header.Get(p.Header)
	if presented == "" {
		return Outcome{Kind: OutcomeMissingCredential}
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(p.Key)) != 1 {
		return Outcome{Kind: OutcomeDeny, DenyReason: "invalid API key"}
	}
	return Outcome{Kind: OutcomeAllow}
}
