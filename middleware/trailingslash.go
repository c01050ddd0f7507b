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

package middleware

import (
	"strings"
	"time"
)

// TrailingSlashPolicy mirrors config.TrailingSlashPolicy.
type TrailingSlashPolicy uint8

const (
	TrailingSlashStrict TrailingSlashPolicy = iota
	TrailingSlashNormalize
)

// TrailingSlashInterceptor rewrites req.Path in place to drop a redundant
// trailing slash when the policy is Normalize; it never short-circuits or
// redirects. Under Strict it is a no-op; the route table itself treats the
// trailing slash as significant.
type TrailingSlashInterceptor struct {
	Policy TrailingSlashPolicy
}

func NewTrailingSlashInterceptor(policy TrailingSlashPolicy) *TrailingSlashInterceptor {
	return &TrailingSlashInterceptor{Policy: policy}
}

func (t *TrailingSlashInterceptor) Name() string { return "trailing_slash" }

func (t *TrailingSlashInterceptor) Before(req *Request) *Response {
	if t.Policy != TrailingSlashNormalize {
		return nil
	}
	if len(req.Path) > 1 && strings.HasSuffix(req.Path, "/") {
		req.Path = strings.TrimSuffix(req.Path, "/")
	}
	return nil
}

func (t *TrailingSlashInterceptor) After(_ *Request, resp *Response, _ time.Duration) *Response {
	return resp
}
