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
	"fmt"
	"time"
)

// BodyLimitInterceptor rejects requests whose declared body size exceeds
// MaxBytes before the body is ever read or validated.
type BodyLimitInterceptor struct {
	MaxBytes int64
}

func NewBodyLimitInterceptor(maxBytes int64) *BodyLimitInterceptor {
	return &BodyLimitInterceptor{MaxBytes: maxBytes}
}

func (b *BodyLimitInterceptor) Name() string { return "body_limit" }

func (b *BodyLimitInterceptor) Before(req *Request) *Response {
	if b.MaxBytes <= 0 {
		return nil
	}
	cl, ok := req.Value("content_length")
	if !ok {
		return nil
	}
	n, _ := cl.(int64)
	if n > b.MaxBytes {
		body := fmt.Sprintf(`{"title":"Payload Too Large","status":413,"detail":"body of %d bytes exceeds limit of %d bytes"}`, n, b.MaxBytes)
		return &Response{Status: 413, Body: []byte(body)}
	}
	return nil
}

func (b *BodyLimitInterceptor) After(_ *Request, resp *Response, _ time.Duration) *Response {
	return resp
}
