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
	"log/slog"
	"time"
)

// RecoveryInterceptor is a pass-through link: its Before returns nil and its
// After returns the response unchanged. The recover in Before only covers
// Before's own body, so it does not catch panics from other interceptors or
// the handler; those are caught by Chain (safeBefore/safeAfter) and by the
// HandlerRegistry worker's own panic wrapper.
type RecoveryInterceptor struct {
	Logger *slog.Logger
}

// NewRecoveryInterceptor builds a RecoveryInterceptor. A nil logger falls
// back to a discard logger.
func NewRecoveryInterceptor(logger *slog.Logger) *RecoveryInterceptor {
	if logger == nil {
		logger = noopLogger
	}
	return &RecoveryInterceptor{Logger: logger}
}

func (r *RecoveryInterceptor) Name() string { return "recovery" }

func (r *RecoveryInterceptor) Before(req *Request) (resp *Response) {
	defer func() {
		if rec := recover(); rec != nil {
			r.Logger.Error("panic recovered in Before chain", "panic", fmt.Sprint(rec), "request_id", req.RequestID)
			resp = &Response{Status: 500, Body: []byte(`{"title":"Internal Server Error","status":500}`)}
		}
	}()
	return nil
}

func (r *RecoveryInterceptor) After(req *Request, resp *Response, _ time.Duration) *Response {
	return resp
}
