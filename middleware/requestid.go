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
	"time"

	"github.com/microscaler/BRRTRouter-sub002/internal/idgen"
)

// RequestIDKey is the Request.Value key other interceptors use to read the
// correlation ID set by RequestIDInterceptor.
const RequestIDKey = "brrtrouter.request_id"

// RequestIDInterceptor stamps req.RequestID (generating a fresh ULID when
// the inbound value is absent or malformed) and echoes it on the response.
type RequestIDInterceptor struct {
	HeaderName string
}

// NewRequestIDInterceptor builds a RequestIDInterceptor using headerName
// (defaults to "X-Request-Id").
func NewRequestIDInterceptor(headerName string) *RequestIDInterceptor {
	if headerName == "" {
		headerName = "X-Request-Id"
	}
	return &RequestIDInterceptor{HeaderName: headerName}
}

func (r *RequestIDInterceptor) Name() string { return "request_id" }

func (r *RequestIDInterceptor) Before(req *Request) *Response {
	inbound := firstHeader(req.Header, r.HeaderName)
	if inbound == "" {
		inbound = firstHeader(req.Header, "Traceparent")
	}
	id := idgen.ResolveOrGenerate(inbound)
	req.RequestID = id
	req.Set(RequestIDKey, id)
	return nil
}

func (r *RequestIDInterceptor) After(req *Request, resp *Response, _ time.Duration) *Response {
	if resp == nil {
		return resp
	}
	if resp.Header == nil {
		resp.Header = make(map[string][]string)
	}
	resp.Header[r.HeaderName] = []string{req.RequestID}
	return resp
}

func firstHeader(h map[string][]string, name string) string {
	for k, v := range h {
		if equalFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
