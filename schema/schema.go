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

// Package schema compiles and caches JSON Schema (2020-12) validators keyed
// by route, direction, and (for responses) status code.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Direction is which side of a handler invocation a validator applies to.
type Direction uint8

const (
	DirectionRequest Direction = iota
	DirectionResponse
)

// Key identifies one cached validator.
type Key struct {
	RouteID    string
	Direction  Direction
	StatusCode int // 0 for request-direction or the "default" response
}

// ErrNoValidator is returned when a lookup finds no compiled validator for
// the given key — callers treat this as "skip validation", not an error.
var ErrNoValidator = fmt.Errorf("schema: no validator registered for key")

// ErrUnparseable marks a body that could not be decoded as JSON at all,
// distinct from a body that decoded but failed its schema.
var ErrUnparseable = fmt.Errorf("schema: body is not parseable JSON")

// Cache holds every compiled validator for one Snapshot. It is built once,
// at snapshot-construction time, and is read-only thereafter, so it is safe
// for concurrent use by any number of request goroutines.
type Cache struct {
	validators map[Key]*jsonschema.Schema
}

// Builder compiles schemas into a Cache. Compilation failures are returned
// immediately so the enclosing snapshot build can abort; a bad schema must
// surface at build time, never as a request-time panic.
type Builder struct {
	compiler   *jsonschema.Compiler
	validators map[Key]*jsonschema.Schema
}

// NewBuilder creates a Builder backed by a fresh jsonschema compiler
// configured for the 2020-12 dialect (the library's default).
func NewBuilder() *Builder {
	return &Builder{
		compiler:   jsonschema.NewCompiler(),
		validators: make(map[Key]*jsonschema.Schema),
	}
}

// AddResource registers a schema document (already decoded into a generic
// JSON value) under id, so later schemas can $ref it.
func (b *Builder) AddResource(id string, doc any) error {
	return b.compiler.AddResource(id, doc)
}

// Compile compiles the schema at schemaID and caches it under key.
func (b *Builder) Compile(key Key, schemaID string) error {
	compiled, err := b.compiler.Compile(schemaID)
	if err != nil {
		return fmt.Errorf("compile schema %q for route %q: %w", schemaID, key.RouteID, err)
	}
	b.validators[key] = compiled
	return nil
}

// Build freezes the Builder into an immutable Cache.
func (b *Builder) Build() *Cache {
	return &Cache{validators: b.validators}
}

// ValidationError carries the JSON pointer to the first failing location,
// plus the underlying jsonschema error tree in Detail (not included in
// Problem Details responses; only Pointer reaches them).
type ValidationError struct {
	Pointer string
	Detail  *jsonschema.ValidationError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema validation failed at %s", e.Pointer)
}

// Validate looks up the validator for key and checks body against it. It
// returns ErrNoValidator (not wrapped) when no validator is registered,
// signalling "nothing to validate" rather than a failure.
func (c *Cache) Validate(key Key, body []byte) error {
	v, ok := c.validators[key]
	if !ok {
		return ErrNoValidator
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	if err := v.Validate(decoded); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return &ValidationError{Pointer: pointer(ve), Detail: ve}
		}
		return &ValidationError{Pointer: "/"}
	}
	return nil
}

// pointer renders the first failing instance location as a JSON pointer,
// descending into causes so the most specific leaf failure is reported.
func pointer(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return "/" + strings.Join(ve.InstanceLocation, "/")
}

// Has reports whether a validator is registered for key, without running it.
func (c *Cache) Has(key Key) bool {
	_, ok := c.validators[key]
	return ok
}
