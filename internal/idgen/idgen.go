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

// Package idgen generates correlation identifiers: a fresh ULID when the
// inbound request carries no usable X-Request-Id/traceparent value, or
// passes through the inbound value when it already looks like a ULID or
// UUID.
package idgen

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// randReader adapts *rand.Rand to io.Reader, since math/rand/v2.Rand no
// longer implements Read directly.
type randReader struct {
	r *rand.Rand
}

func (rr randReader) Read(p []byte) (int, error) {
	n := len(p)
	for i := 0; i < n; {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], rr.r.Uint64())
		i += copy(p[i:], buf[:])
	}
	return n, nil
}

// newEntropy builds a ULID entropy reader. ulid.Monotonic is safe for
// concurrent use only when each call supplies its own *rand.Rand, so each
// call to New below builds a fresh reader, seeded from crypto/rand with a
// wall-clock fallback.
func newEntropy() *ulid.MonotonicEntropy {
	return ulid.Monotonic(randReader{rand.New(rand.NewPCG(seed(), seed()))}, 0)
}

func seed() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	var out uint64
	for _, c := range b {
		out = out<<8 | uint64(c)
	}
	return out
}

// New generates a fresh ULID correlation ID, upper-cased per convention.
func New() string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), newEntropy())
	return id.String()
}

// ResolveOrGenerate returns inbound unchanged if it parses as a valid ULID
// or UUID, otherwise generates a fresh ULID.
func ResolveOrGenerate(inbound string) string {
	if id, ok := valid(inbound); ok {
		return id
	}
	return New()
}

// ResolveCorrelationID applies the correlation header precedence:
// X-Request-Id is preferred when it parses as a ULID or UUID; otherwise
// traceparent is tried on the same terms; otherwise a fresh ULID is minted.
func ResolveCorrelationID(requestIDHeader, traceparentHeader string) string {
	if id, ok := valid(requestIDHeader); ok {
		return id
	}
	if id, ok := valid(traceparentHeader); ok {
		return id
	}
	return New()
}

func valid(inbound string) (string, bool) {
	if inbound == "" {
		return "", false
	}
	if _, err := ulid.ParseStrict(inbound); err == nil {
		return inbound, true
	}
	if _, err := uuid.Parse(inbound); err == nil {
		return inbound, true
	}
	return "", false
}
