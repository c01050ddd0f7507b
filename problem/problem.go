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

// Package problem formats errors as RFC 7807/9457 Problem Details
// (application/problem+json) responses.
package problem

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	brrtrouter "github.com/microscaler/BRRTRouter-sub002"
)

const ContentType = "application/problem+json; charset=utf-8"

// FieldError is a single per-field validation failure, included in debug mode.
type FieldError struct {
	Location string `json:"location"`
	Name     string `json:"name,omitempty"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
}

// Detail is an RFC 9457 problem detail document.
type Detail struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	ErrorID  string       `json:"error_id,omitempty"`
	Errors   []FieldError `json:"errors,omitempty"`
	Extra    map[string]any `json:"-"`
}

// MarshalJSON merges Extra into the top-level object while protecting
// reserved field names.
func (d Detail) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"type":   d.Type,
		"title":  d.Title,
		"status": d.Status,
	}
	if d.Detail != "" {
		m["detail"] = d.Detail
	}
	if d.Instance != "" {
		m["instance"] = d.Instance
	}
	if d.ErrorID != "" {
		m["error_id"] = d.ErrorID
	}
	if len(d.Errors) > 0 {
		m["errors"] = d.Errors
	}
	for k, v := range d.Extra {
		switch k {
		case "type", "title", "status", "detail", "instance", "error_id", "errors":
			continue
		}
		m[k] = v
	}
	return json.Marshal(m)
}

// Response is the fully-formed HTTP representation of a Detail.
type Response struct {
	Status      int
	ContentType string
	Body        Detail
}

// Formatter converts errors into Problem Details responses.
//
// Debug controls whether Detail/Errors are populated; in non-debug mode only
// type/title/status/instance are emitted, plus error_id unless
// DisableErrorID is set.
type Formatter struct {
	BaseURL        string
	Debug          bool
	TypeResolver   func(err error) string
	StatusResolver func(err error) int
	DisableErrorID bool
}

// Format builds a Problem Details response for err, observed at instancePath.
func (f *Formatter) Format(instancePath string, err error, fieldErrors []FieldError) Response {
	status := f.resolveStatus(err)
	d := Detail{
		Type:     f.resolveType(err),
		Title:    http.StatusText(status),
		Status:   status,
		Instance: instancePath,
	}
	if !f.DisableErrorID {
		d.ErrorID = generateErrorID()
	}
	if f.Debug {
		d.Detail = err.Error()
		d.Errors = fieldErrors
	}
	return Response{Status: status, ContentType: ContentType, Body: d}
}

func (f *Formatter) resolveStatus(err error) int {
	if f.StatusResolver != nil {
		return f.StatusResolver(err)
	}
	var hs brrtrouter.HTTPStatuser
	if errors.As(err, &hs) {
		return hs.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func (f *Formatter) resolveType(err error) string {
	if f.TypeResolver != nil {
		return f.TypeResolver(err)
	}
	return "about:blank"
}

func generateErrorID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("err-%d", time.Now().UnixNano())
	}
	return "err-" + hex.EncodeToString(b)
}
