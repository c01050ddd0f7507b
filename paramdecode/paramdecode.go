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

// Package paramdecode decodes path/query/header/cookie parameters per the
// OpenAPI 3.1 style/explode rules declared on a route.
package paramdecode

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/microscaler/BRRTRouter-sub002/route"
)

// QueryParamCap and HeaderCap are the expected upper bounds for query
// parameters and headers on the request hot path. Values keeps HeaderCap
// entries inline; anything past that spills to a heap overflow slice.
const (
	QueryParamCap = 16
	HeaderCap     = 32
)

// pair is one decoded name/value entry.
type pair struct {
	name  string
	value string
}

// Values is a fixed-capacity ordered multimap for decoded parameters. The
// zero value is ready to use and holds its first HeaderCap entries inline,
// so a Bundle on the caller's stack decodes without touching the heap.
// Repeated names occupy one entry each, preserving arrival order.
type Values struct {
	arr      [HeaderCap]pair
	n        int
	overflow []pair
}

func (v *Values) add(name, value string) {
	if v.n < len(v.arr) {
		v.arr[v.n] = pair{name, value}
		v.n++
		return
	}
	v.overflow = append(v.overflow, pair{name, value})
}

// Get returns the first value recorded for name.
func (v *Values) Get(name string) (string, bool) {
	for i := 0; i < v.n; i++ {
		if v.arr[i].name == name {
			return v.arr[i].value, true
		}
	}
	for _, e := range v.overflow {
		if e.name == name {
			return e.value, true
		}
	}
	return "", false
}

// All returns every value recorded for name in arrival order. It allocates
// the result slice and is meant for handler code, not the decode path.
func (v *Values) All(name string) ([]string, bool) {
	var out []string
	v.Each(func(n, val string) {
		if n == name {
			out = append(out, val)
		}
	})
	return out, out != nil
}

// Each calls fn for every name/value entry in arrival order.
func (v *Values) Each(fn func(name, value string)) {
	for i := 0; i < v.n; i++ {
		fn(v.arr[i].name, v.arr[i].value)
	}
	for _, e := range v.overflow {
		fn(e.name, e.value)
	}
}

// Len returns the number of entries recorded.
func (v *Values) Len() int { return v.n + len(v.overflow) }

// ToMap flattens Values into a plain map, for callers outside the hot path.
func (v *Values) ToMap() map[string][]string {
	m := make(map[string][]string, v.Len())
	v.Each(func(name, value string) { m[name] = append(m[name], value) })
	return m
}

// Bundle is the decoded parameter set for one request, keyed by location.
// Callers allocate it (typically on their own stack) and hand it to Decode.
type Bundle struct {
	Path    *route.ParamList
	Query   Values
	Headers Values
	Cookies Values
}

// Decode applies r's ParameterDescriptor list to the raw request inputs,
// filling b in place. b must be zeroed by the caller. Decode never panics
// on malformed input; it returns an error describing the first failing
// parameter instead.
func Decode(r *route.Route, pathParams *route.ParamList, rawQuery string, header http.Header, cookieHeader string, b *Bundle) error {
	b.Path = pathParams

	for _, pd := range r.Parameters {
		var err error
		switch pd.Location {
		case route.LocationPath:
			err = decodePathStyle(b, pd)
		case route.LocationQuery:
			err = decodeQuery(b, pd, rawQuery)
		case route.LocationHeader:
			err = decodeHeader(b, pd, header)
		case route.LocationCookie:
			err = decodeCookie(b, pd, cookieHeader)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func decodePathStyle(b *Bundle, pd route.ParameterDescriptor) error {
	raw, ok := b.Path.Get(pd.Name)
	if !ok {
		if pd.Required {
			return fmt.Errorf("%w: path %q", errMissingRequired, pd.Name)
		}
		return nil
	}
	switch pd.Style {
	case route.StyleLabel:
		raw = strings.TrimPrefix(raw, ".")
	case route.StyleMatrix:
		raw = strings.TrimPrefix(raw, ";"+pd.Name+"=")
	}
	if err := checkPrimitive("path", pd.Name, pd.Primitive, raw); err != nil {
		return err
	}
	b.Path.Set(pd.Name, raw)
	return nil
}

// nextSegment returns the sep-delimited segment of s starting at i and the
// index just past its separator. Iteration ends once the returned index
// exceeds len(s).
func nextSegment(s string, i int, sep byte) (string, int) {
	j := strings.IndexByte(s[i:], sep)
	if j < 0 {
		return s[i:], len(s) + 1
	}
	return s[i : i+j], i + j + 1
}

func decodeQuery(b *Bundle, pd route.ParameterDescriptor, rawQuery string) error {
	found := false

	for i := 0; i <= len(rawQuery) && rawQuery != ""; {
		var seg string
		seg, i = nextSegment(rawQuery, i, '&')
		if seg == "" {
			continue
		}
		key, rawVal := seg, ""
		if eq := strings.IndexByte(seg, '='); eq >= 0 {
			key, rawVal = seg[:eq], seg[eq+1:]
		}
		key, err := url.QueryUnescape(key)
		if err != nil {
			return fmt.Errorf("parse query parameter %q: %w", pd.Name, err)
		}
		if key != pd.Name {
			continue
		}
		val, err := url.QueryUnescape(rawVal)
		if err != nil {
			return fmt.Errorf("parse query parameter %q: %w", pd.Name, err)
		}
		found = true

		if pd.Style == route.StyleForm && pd.Explode {
			if err := checkPrimitive("query", pd.Name, pd.Primitive, val); err != nil {
				return err
			}
			b.Query.add(pd.Name, val)
			continue // further occurrences of the key each carry one value
		}

		var delim byte
		switch pd.Style {
		case route.StyleForm:
			delim = ','
		case route.StyleSpaceDelimited:
			delim = ' '
		case route.StylePipeDelimited:
			delim = '|'
		default: // deepObject and unknown styles take the value whole
			if err := checkPrimitive("query", pd.Name, pd.Primitive, val); err != nil {
				return err
			}
			b.Query.add(pd.Name, val)
			return nil
		}
		for j := 0; j <= len(val); {
			var part string
			part, j = nextSegment(val, j, delim)
			if err := checkPrimitive("query", pd.Name, pd.Primitive, part); err != nil {
				return err
			}
			b.Query.add(pd.Name, part)
		}
		return nil // non-exploded styles read the first occurrence only
	}

	if !found && pd.Required {
		return fmt.Errorf("%w: query %q", errMissingRequired, pd.Name)
	}
	return nil
}

func decodeHeader(b *Bundle, pd route.ParameterDescriptor, header http.Header) error {
	raw := header.Get(pd.Name) // http.Header.Get is case-insensitive
	if raw == "" {
		if pd.Required {
			return fmt.Errorf("%w: header %q", errMissingRequired, pd.Name)
		}
		return nil
	}
	if !pd.Explode {
		if err := checkPrimitive("header", pd.Name, pd.Primitive, raw); err != nil {
			return err
		}
		b.Headers.add(pd.Name, raw)
		return nil
	}
	for i := 0; i <= len(raw); {
		var part string
		part, i = nextSegment(raw, i, ',')
		part = strings.TrimSpace(part)
		if err := checkPrimitive("header", pd.Name, pd.Primitive, part); err != nil {
			return err
		}
		b.Headers.add(pd.Name, part)
	}
	return nil
}

func decodeCookie(b *Bundle, pd route.ParameterDescriptor, cookieHeader string) error {
	for i := 0; i <= len(cookieHeader) && cookieHeader != ""; {
		var seg string
		seg, i = nextSegment(cookieHeader, i, ';')
		seg = strings.TrimSpace(seg)
		eq := strings.IndexByte(seg, '=')
		if eq < 0 || seg[:eq] != pd.Name {
			continue
		}
		raw := seg[eq+1:]
		for j := 0; j <= len(raw); {
			var part string
			part, j = nextSegment(raw, j, ',')
			if err := checkPrimitive("cookie", pd.Name, pd.Primitive, part); err != nil {
				return err
			}
			b.Cookies.add(pd.Name, part)
		}
		return nil
	}
	if pd.Required {
		return fmt.Errorf("%w: cookie %q", errMissingRequired, pd.Name)
	}
	return nil
}

// checkPrimitive validates value against the declared PrimitiveKind hint.
// PrimitiveString/PrimitiveArray/PrimitiveObject carry no scalar coercion
// and always pass; Integer/Number/Boolean must parse as their Go
// equivalent, so a bad value is reported with its location and name.
func checkPrimitive(location, name string, kind route.PrimitiveKind, value string) error {
	var ok bool
	switch kind {
	case route.PrimitiveInteger:
		_, err := strconv.ParseInt(value, 10, 64)
		ok = err == nil
	case route.PrimitiveNumber:
		_, err := strconv.ParseFloat(value, 64)
		ok = err == nil
	case route.PrimitiveBoolean:
		_, err := strconv.ParseBool(value)
		ok = err == nil
	default:
		return nil
	}
	if ok {
		return nil
	}
	return &CoercionError{Location: location, Name: name, Value: value}
}

// CoercionError is returned when a decoded parameter value cannot be
// coerced to its declared PrimitiveKind.
type CoercionError struct {
	Location string
	Name     string
	Value    string
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("%s parameter %q: value %q does not match its declared type", e.Location, e.Name, e.Value)
}

type missingRequiredErr struct{}

func (missingRequiredErr) Error() string { return "missing required parameter" }

var errMissingRequired = missingRequiredErr{}
