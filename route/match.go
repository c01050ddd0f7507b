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

package route

// PathParamCap is the number of path parameters kept stack-resident before
// falling back to a heap-allocated overflow slice.
const PathParamCap = 8

// kv is a single name/value pair.
type kv struct {
	Name  string
	Value string
}

// ParamList is a stack-resident ordered name->value collection for path
// parameters. The zero value is ready to use. Entries beyond PathParamCap
// spill into an overflow slice; this only happens for pathologically
// parameter-heavy routes and is not on the documented hot path.
type ParamList struct {
	arr      [PathParamCap]kv
	n        int
	overflow []kv
}

// Set records name=value, overwriting an existing entry for name so
// re-setting a decoded value never leaves the stale one shadowing it.
func (p *ParamList) Set(name, value string) {
	for i := 0; i < p.n; i++ {
		if p.arr[i].Name == name {
			p.arr[i].Value = value
			return
		}
	}
	for i := range p.overflow {
		if p.overflow[i].Name == name {
			p.overflow[i].Value = value
			return
		}
	}
	if p.n < PathParamCap {
		p.arr[p.n] = kv{name, value}
		p.n++
		return
	}
	p.overflow = append(p.overflow, kv{name, value})
}

// Get returns the value for name and whether it was present.
func (p *ParamList) Get(name string) (string, bool) {
	for i := 0; i < p.n; i++ {
		if p.arr[i].Name == name {
			return p.arr[i].Value, true
		}
	}
	for _, e := range p.overflow {
		if e.Name == name {
			return e.Value, true
		}
	}
	return "", false
}

// Len returns the number of parameters recorded.
func (p *ParamList) Len() int { return p.n + len(p.overflow) }

// Each calls fn for every name/value pair in insertion order.
func (p *ParamList) Each(fn func(name, value string)) {
	for i := 0; i < p.n; i++ {
		fn(p.arr[i].Name, p.arr[i].Value)
	}
	for _, e := range p.overflow {
		fn(e.Name, e.Value)
	}
}

// RouteMatch is the result of a successful RouteTable lookup: a reference to
// the matched Route plus decoded path parameters. Produced fresh per request
// and owned exclusively by the request's goroutine.
type RouteMatch struct {
	Route  *Route
	Params ParamList
}
