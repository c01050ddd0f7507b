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

// Package security implements the scheme-name -> provider registry and the
// OR-of-AND requirement evaluation algorithm.
package security

import (
	"context"
	"net/http"

	"github.com/microscaler/BRRTRouter-sub002/route"
)

// OutcomeKind classifies the result of one SecurityProvider.Validate call.
type OutcomeKind uint8

const (
	OutcomeAllow OutcomeKind = iota
	OutcomeDeny
	OutcomeMissingCredential
)

// Outcome is the result of evaluating a single security requirement.
type Outcome struct {
	Kind          OutcomeKind
	GrantedScopes []string
	DenyReason    string
}

// Request is the subset of an inbound request a SecurityProvider needs.
// It is intentionally narrow so providers never see the body.
type Request struct {
	Header http.Header
	Method string
	Path   string
}

// Provider validates one named security scheme against a request. Providers
// are shared across requests and must be safe for concurrent invocation.
type Provider interface {
	Validate(ctx context.Context, req Request) Outcome
}

// Registry maps scheme name to Provider.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a Registry from a scheme-name -> Provider map.
func NewRegistry(providers map[string]Provider) *Registry {
	cp := make(map[string]Provider, len(providers))
	for k, v := range providers {
		cp[k] = v
	}
	return &Registry{providers: cp}
}

// GroupFailure records why one AND-group in a requirement matrix failed.
type GroupFailure struct {
	Scheme     string
	Outcome    OutcomeKind
	Missing    []string
	DenyReason string
}

// Decision is the overall result of Evaluate.
type Decision struct {
	Allowed       bool
	GrantedScopes []string
	Failures      []GroupFailure // one entry per AND-group that failed, in order
	AnyCredential bool           // true if at least one scheme validated a credential successfully
}

// Evaluate runs the OR-of-AND algorithm against req for the given
// security-requirement matrix: the first AND-group whose requirements all
// hold authorizes the request. An empty matrix means "no authentication
// required" and is always Allowed.
func (r *Registry) Evaluate(ctx context.Context, groups []route.SecurityGroup, req Request) Decision {
	if len(groups) == 0 {
		return Decision{Allowed: true}
	}

	var failures []GroupFailure
	anyCredential := false

	for _, group := range groups {
		allOK := true
		var granted []string
		var groupFailure *GroupFailure

		if len(group) == 0 {
			// An empty AND-group means "public": nothing required, allow.
			return Decision{Allowed: true}
		}

		for _, req2 := range group {
			provider, ok := r.providers[req2.Scheme]
			if !ok {
				allOK = false
				groupFailure = &GroupFailure{Scheme: req2.Scheme, Outcome: OutcomeMissingCredential}
				break
			}
			outcome := provider.Validate(ctx, req)
			// Only a credential that actually validated counts toward the
			// 401-vs-403 distinction: a missing or invalid credential is 401,
			// a valid credential lacking scopes is 403.
			if outcome.Kind == OutcomeAllow {
				anyCredential = true
			}
			if outcome.Kind == OutcomeAllow && hasAllScopes(outcome.GrantedScopes, req2.RequiredScopes) {
				granted = append(granted, outcome.GrantedScopes...)
				continue
			}
			allOK = false
			missing := missingScopes(outcome.GrantedScopes, req2.RequiredScopes)
			groupFailure = &GroupFailure{
				Scheme:     req2.Scheme,
				Outcome:    outcome.Kind,
				Missing:    missing,
				DenyReason: outcome.DenyReason,
			}
			break
		}

		if allOK {
			return Decision{Allowed: true, GrantedScopes: granted}
		}
		if groupFailure != nil {
			failures = append(failures, *groupFailure)
		}
	}

	return Decision{Allowed: false, Failures: failures, AnyCredential: anyCredential}
}

func hasAllScopes(granted, required []string) bool {
	set := make(map[string]bool, len(granted))
	for _, g := range granted {
		set[g] = true
	}
	for _, req := range required {
		if !set[req] {
			return false
		}
	}
	return true
}

func missingScopes(granted, required []string) []string {
	set := make(map[string]bool, len(granted))
	for _, g := range granted {
		set[g] = true
	}
	var missing []string
	for _, req := range required {
		if !set[req] {
			missing = append(missing, req)
		}
	}
	return missing
}
