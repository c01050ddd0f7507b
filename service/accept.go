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

package service

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// acceptSpec is one parsed media-range from an Accept header.
type acceptSpec struct {
	typ, subtype string
	q            float64
}

var specPool = sync.Pool{New: func() any { return make([]acceptSpec, 0, 8) }}

// NegotiateMediaType picks the best of offered (in declaration order) for
// the given Accept header value, q-value aware. Falls back to the first
// offered type when the header is absent or nothing offered is acceptable.
//
// Parsing is pool-backed to avoid a per-request heap allocation for the
// common case of a short Accept header.
func NegotiateMediaType(acceptHeader string, offered []string) string {
	if len(offered) == 0 {
		return ""
	}
	if acceptHeader == "" || acceptHeader == "*/*" {
		return offered[0]
	}

	specs := specPool.Get().([]acceptSpec)
	specs = specs[:0]
	defer specPool.Put(specs) //nolint:staticcheck // pool element reused across calls, not leaked

	for _, part := range strings.Split(acceptHeader, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mt, q := parseMediaRange(part)
		typ, sub, ok := splitType(mt)
		if !ok {
			continue
		}
		specs = append(specs, acceptSpec{typ, sub, q})
	}

	sort.SliceStable(specs, func(i, j int) bool { return specs[i].q > specs[j].q })

	best := ""
	bestQ, bestScore := 0.0, -1
	for _, o := range offered {
		ot, osub, ok := splitType(o)
		if !ok {
			continue
		}
		// The most specific range matching o decides o's q-value.
		score, q := -1, 0.0
		for _, s := range specs {
			if sc := matchScore(s, ot, osub); sc > score {
				score, q = sc, s.q
			}
		}
		if score < 0 || q <= 0 {
			continue
		}
		if q > bestQ || (q == bestQ && score > bestScore) {
			bestQ, bestScore, best = q, score, o
		}
	}
	if best == "" {
		return offered[0]
	}
	return best
}

func matchScore(s acceptSpec, typ, sub string) int {
	switch {
	case s.typ == typ && s.subtype == sub:
		return 3
	case s.typ == typ && s.subtype == "*":
		return 2
	case s.typ == "*" && s.subtype == "*":
		return 1
	default:
		return -1
	}
}

func splitType(mt string) (string, string, bool) {
	i := strings.IndexByte(mt, '/')
	if i < 0 {
		return "", "", false
	}
	return mt[:i], mt[i+1:], true
}

func parseMediaRange(part string) (mediaType string, q float64) {
	q = 1.0
	segs := strings.Split(part, ";")
	mediaType = strings.TrimSpace(segs[0])
	for _, p := range segs[1:] {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "q=") {
			if v, err := strconv.ParseFloat(strings.TrimPrefix(p, "q="), 64); err == nil {
				q = v
			}
		}
	}
	return mediaType, q
}
