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

// Package radix implements the RouteTable: a method-bucketed radix tree
// giving O(path length) route lookup independent of route count, with a
// bloom-filter fast path for static routes.
package radix

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/microscaler/BRRTRouter-sub002/route"
)

// node is one edge-labeled segment of the radix tree. A node may carry a
// registered route (when it terminates a full path for some method) and/or
// child segments: a map of static children, at most one parameter child,
// and at most one catch-all (wildcard) child.
type node struct {
	staticChildren map[string]*node
	paramChild     *node
	paramName      string
	constraint     *route.Constraint
	wildcardChild  *node
	wildcardName   string

	route *route.Route
}

func newNode() *node {
	return &node{staticChildren: make(map[string]*node)}
}

// Table is the compiled, method-bucketed RouteTable.
type Table struct {
	roots map[string]*node // method -> root node

	// pathMethods records, for every concrete registered path, the set of
	// methods that have a route there — used to answer 405 with Allow.
	pathMethods map[string]map[string]bool

	staticPaths map[string]bool // "METHOD PATH" -> true, for the static prefilter
	filter      *staticFilter

	hasDynamic map[string]bool // method -> true if any param/wildcard route is registered

	trailingSlashNormalize bool
}

// NewTable builds an empty, mutable RouteTable. Call Compile once all
// routes are registered via Insert to freeze the bloom filter.
func NewTable(normalizeTrailingSlash bool) *Table {
	return &Table{
		roots:                  make(map[string]*node),
		pathMethods:            make(map[string]map[string]bool),
		staticPaths:            make(map[string]bool),
		hasDynamic:             make(map[string]bool),
		trailingSlashNormalize: normalizeTrailingSlash,
	}
}

// Insert registers r under its Method and PathTemplate. On a duplicate
// method+path registration, the later call wins (last write wins).
// Insert rejects a route whose Method isn't a recognized HTTP method, since
// the table buckets routes by method string and would otherwise silently
// register a route Lookup could never reach.
func (t *Table) Insert(r *route.Route) error {
	if !route.IsHTTPMethod(r.Method) {
		return fmt.Errorf("radix: insert %q: %q is not a recognized HTTP method", r.PathTemplate, r.Method)
	}

	method := r.Method
	root, ok := t.roots[method]
	if !ok {
		root = newNode()
		t.roots[method] = root
	}

	segs := splitPath(r.PathTemplate)
	cur := root
	static := true
	for _, seg := range segs {
		switch {
		case strings.HasPrefix(seg, "*"):
			name := strings.TrimPrefix(seg, "*")
			if cur.wildcardChild == nil {
				cur.wildcardChild = newNode()
				cur.wildcardName = name
			}
			cur = cur.wildcardChild
			static = false
		case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"):
			name := strings.TrimSuffix(strings.TrimPrefix(seg, "{"), "}")
			if cur.paramChild == nil {
				cur.paramChild = newNode()
				cur.paramName = name
			}
			cur = cur.paramChild
			static = false
		default:
			lit := escapeLiteral(seg)
			child, ok := cur.staticChildren[lit]
			if !ok {
				child = newNode()
				cur.staticChildren[lit] = child
			}
			cur = child
		}
	}
	cur.route = r

	key := r.PathTemplate
	if t.pathMethods[key] == nil {
		t.pathMethods[key] = make(map[string]bool)
	}
	t.pathMethods[key][method] = true

	if static {
		t.staticPaths[method+" "+r.PathTemplate] = true
	} else {
		t.hasDynamic[method] = true
	}
	return nil
}

// SetConstraint attaches a compiled Constraint to the parameter node at
// paramName along r's path, so that Lookup rejects values that don't match
// before descending further into the tree.
func (t *Table) SetConstraint(r *route.Route, paramName string, c *route.Constraint) {
	root, ok := t.roots[r.Method]
	if !ok {
		return
	}
	segs := splitPath(r.PathTemplate)
	cur := root
	for _, seg := range segs {
		switch {
		case strings.HasPrefix(seg, "*"):
			cur = cur.wildcardChild
		case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"):
			if strings.TrimSuffix(strings.TrimPrefix(seg, "{"), "}") == paramName {
				cur.paramChild.constraint = c
				return
			}
			cur = cur.paramChild
		default:
			cur = cur.staticChildren[seg]
		}
		if cur == nil {
			return
		}
	}
}

// Compile finalizes the static-route prefilter. Must be called after the
// last Insert and before serving requests.
func (t *Table) Compile() {
	t.filter = newStaticFilter(len(t.staticPaths))
	for key := range t.staticPaths {
		t.filter.insert(key)
	}
}

// escapeLiteral returns seg unchanged: literal segments are static-children
// map keys compared byte-for-byte, and the radix tree does not use regexp
// internally, so a segment containing e.g. "." already matches only itself.
func escapeLiteral(seg string) string { return seg }

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// ErrMalformedEncoding is returned by Lookup when a path parameter segment
// contains invalid percent-encoding.
var ErrMalformedEncoding = errMalformed{}

type errMalformed struct{}

func (errMalformed) Error() string { return "malformed percent-encoding in path parameter" }

// Lookup resolves (method, path) to a RouteMatch. ok is false on a complete
// miss; methodMismatch is true when the path matches for a different method
// (the caller should respond 405 with the returned allowedMethods). A
// non-nil err indicates malformed percent-encoding in a path parameter,
// which must surface as 400 rather than 404.
func (t *Table) Lookup(method, path string) (match *route.RouteMatch, ok bool, methodMismatch bool, allowedMethods []string, err error) {
	if t.trailingSlashNormalize && len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}

	root, haveMethodRoot := t.roots[method]
	// When a method has no parameterized or wildcard routes at all, every
	// registered route under it is static, so a filter miss is a guaranteed
	// tree-walk miss and the descent can be skipped outright.
	if haveMethodRoot && t.hasDynamic[method] == false && !t.MaybeStaticRoute(method, path) {
		haveMethodRoot = false
	}
	if haveMethodRoot {
		segs := splitPath(path)
		m, found, malformed := walk(root, segs, 0)
		if malformed {
			return nil, false, false, nil, ErrMalformedEncoding
		}
		if found {
			return m, true, false, nil, nil
		}
	}

	// No match for this method; check whether any other method matches this
	// literal path, to report 405 instead of 404.
	if methods, exists := t.pathMethods[path]; exists {
		allowed := make([]string, 0, len(methods))
		for m := range methods {
			allowed = append(allowed, m)
		}
		return nil, false, true, allowed, nil
	}
	return nil, false, false, nil, nil
}

// Routes returns introspection info for every registered route, used by the
// readiness endpoint to report what the currently active snapshot serves.
func (t *Table) Routes() []route.Info {
	var out []route.Info
	for _, root := range t.roots {
		collectRoutes(root, nil, true, &out)
	}
	return out
}

func collectRoutes(n *node, constraints map[string]string, isStatic bool, out *[]route.Info) {
	if n.route != nil {
		*out = append(*out, n.route.Info(constraints, isStatic))
	}
	for _, child := range n.staticChildren {
		collectRoutes(child, constraints, isStatic, out)
	}
	if n.paramChild != nil {
		childConstraints := constraints
		if n.paramChild.constraint != nil {
			childConstraints = make(map[string]string, len(constraints)+1)
			for k, v := range constraints {
				childConstraints[k] = v
			}
			childConstraints[n.paramName] = n.paramChild.constraint.Pattern.String()
		}
		collectRoutes(n.paramChild, childConstraints, false, out)
	}
	if n.wildcardChild != nil {
		collectRoutes(n.wildcardChild, constraints, false, out)
	}
}

// MaybeStaticRoute reports whether (method, path) could be a registered
// static route, using the prefilter built by Compile. false means
// definitely not a static route (the path may still match a parameterized
// or wildcard route); callers use this as a cheap pre-filter ahead of a full
// Lookup, e.g. to short-circuit a CDN edge cache miss.
func (t *Table) MaybeStaticRoute(method, path string) bool {
	if t.filter == nil {
		return true
	}
	return t.filter.contains(method, path)
}

// walk descends the tree matching static children first, then the single
// parameter child, then the wildcard child, giving static > param >
// wildcard priority at each level. The third return value is
// true when a path parameter segment failed percent-decoding.
func walk(n *node, segs []string, i int) (*route.RouteMatch, bool, bool) {
	if i == len(segs) {
		if n.route == nil {
			return nil, false, false
		}
		return &route.RouteMatch{Route: n.route}, true, false
	}

	seg := segs[i]

	if child, ok := n.staticChildren[seg]; ok {
		if m, found, malformed := walk(child, segs, i+1); found || malformed {
			return m, found, malformed
		}
	}

	if n.paramChild != nil {
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return nil, false, true
		}
		if c := n.paramChild.constraint; c != nil && !c.Pattern.MatchString(decoded) {
			return nil, false, false
		}
		if m, found, malformed := walk(n.paramChild, segs, i+1); malformed {
			return nil, false, true
		} else if found {
			m.Params.Set(n.paramName, decoded)
			return m, true, false
		}
	}

	if n.wildcardChild != nil {
		rest := strings.Join(segs[i:], "/")
		if n.wildcardChild.route != nil {
			m := &route.RouteMatch{Route: n.wildcardChild.route}
			m.Params.Set(n.wildcardName, rest)
			return m, true, false
		}
	}

	return nil, false, false
}

// staticFilter is a Bloom-style membership filter over the "METHOD PATH"
// keys of fully static routes. A negative answer is definitive (no false
// negatives), which is what lets Lookup skip the descent for static-only
// methods. Probe positions come from a single FNV-1a pass: the raw hash and
// an odd-multiplied variant stand in for k independent hash functions
// (h1 + i*h2 double hashing), so each query hashes the key exactly once and
// never allocates.
type staticFilter struct {
	words []uint64
	nbits uint64
}

const staticFilterProbes = 4

// newStaticFilter sizes the bit set at ~12 bits per expected key, floored so
// tiny route sets still get a usefully sparse filter.
func newStaticFilter(n int) *staticFilter {
	nbits := uint64(n) * 12
	if nbits < 256 {
		nbits = 256
	}
	return &staticFilter{words: make([]uint64, (nbits+63)/64), nbits: nbits}
}

const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

func fnvFold(h uint64, s string) uint64 {
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime64
	}
	return h
}

func (f *staticFilter) set(h uint64) {
	h2 := h*fnvPrime64 | 1
	for i := uint64(0); i < staticFilterProbes; i++ {
		pos := (h + i*h2) % f.nbits
		f.words[pos>>6] |= 1 << (pos & 63)
	}
}

func (f *staticFilter) has(h uint64) bool {
	h2 := h*fnvPrime64 | 1
	for i := uint64(0); i < staticFilterProbes; i++ {
		pos := (h + i*h2) % f.nbits
		if f.words[pos>>6]&(1<<(pos&63)) == 0 {
			return false
		}
	}
	return true
}

// insert records a pre-joined "METHOD PATH" key.
func (f *staticFilter) insert(key string) {
	f.set(fnvFold(fnvOffset64, key))
}

// contains probes for method and path without concatenating them, folding
// the same byte sequence insert hashed.
func (f *staticFilter) contains(method, path string) bool {
	h := fnvFold(fnvOffset64, method)
	h ^= ' '
	h *= fnvPrime64
	return f.has(fnvFold(h, path))
}
