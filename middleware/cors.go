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

// CORSInterceptor implements per-route CORS policy resolution. It answers
// preflight OPTIONS requests directly from Before and stamps CORS headers
// on every other response's After, reflecting the specific origin when
// credentials are allowed alongside a wildcard origin list.
type CORSInterceptor struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
}

func NewCORSInterceptor(origins, methods, headers []string, allowCredentials bool) *CORSInterceptor {
	return &CORSInterceptor{
		AllowedOrigins:   origins,
		AllowedMethods:   methods,
		AllowedHeaders:   headers,
		AllowCredentials: allowCredentials,
	}
}

func (c *CORSInterceptor) Name() string { return "cors" }

func (c *CORSInterceptor) Before(req *Request) *Response {
	origin := firstHeader(req.Header, "Origin")
	if origin == "" {
		return nil
	}
	if req.Method != "OPTIONS" {
		req.Set("cors.origin", origin)
		return nil
	}

	// Preflight: answer directly, short-circuiting the rest of the chain.
	resp := &Response{Status: 204, Header: make(map[string][]string)}
	c.applyHeaders(resp, origin)
	resp.Header["Access-Control-Allow-Methods"] = []string{strings.Join(c.AllowedMethods, ", ")}
	resp.Header["Access-Control-Allow-Headers"] = []string{strings.Join(c.AllowedHeaders, ", ")}
	return resp
}

func (c *CORSInterceptor) After(req *Request, resp *Response, _ time.Duration) *Response {
	origin, ok := req.Value("cors.origin")
	if !ok || resp == nil {
		return resp
	}
	if resp.Header == nil {
		resp.Header = make(map[string][]string)
	}
	c.applyHeaders(resp, origin.(string))
	return resp
}

func (c *CORSInterceptor) applyHeaders(resp *Response, origin string) {
	allowed := c.resolveOrigin(origin)
	if allowed == "" {
		return
	}
	resp.Header["Access-Control-Allow-Origin"] = []string{allowed}
	if c.AllowCredentials {
		resp.Header["Access-Control-Allow-Credentials"] = []string{"true"}
	}
	resp.Header["Vary"] = append(resp.Header["Vary"], "Origin")
}

func (c *CORSInterceptor) resolveOrigin(origin string) string {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			if c.AllowCredentials {
				// Credentialed requests cannot use a literal wildcard;
				// reflect the specific origin instead.
				return origin
			}
			return "*"
		}
		if o == origin {
			return origin
		}
	}
	return ""
}
