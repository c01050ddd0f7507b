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

package radix

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/microscaler/BRRTRouter-sub002/route"
)

func TestTable_StaticBeatsParam(t *testing.T) {
	tbl := NewTable(false)
	staticRoute := &route.Route{ID: "static", Method: "GET", PathTemplate: "/pets/mine"}
	paramRoute := &route.Route{ID: "param", Method: "GET", PathTemplate: "/pets/{id}"}
	require.NoError(t, tbl.Insert(paramRoute))
	require.NoError(t, tbl.Insert(staticRoute))
	tbl.Compile()

	match, ok, mismatch, _, err := tbl.Lookup("GET", "/pets/mine")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, mismatch)
	require.Equal(t, "static", match.Route.ID)

	match, ok, _, _, err = tbl.Lookup("GET", "/pets/123")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "param", match.Route.ID)
	v, ok := match.Params.Get("id")
	require.True(t, ok)
	require.Equal(t, "123", v)
}

func TestTable_LastWriteWins(t *testing.T) {
	tbl := NewTable(false)
	first := &route.Route{ID: "first", Method: "GET", PathTemplate: "/pets"}
	second := &route.Route{ID: "second", Method: "GET", PathTemplate: "/pets"}
	require.NoError(t, tbl.Insert(first))
	require.NoError(t, tbl.Insert(second))
	tbl.Compile()

	match, ok, _, _, err := tbl.Lookup("GET", "/pets")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "second", match.Route.ID)
}

func TestTable_MethodNotAllowed(t *testing.T) {
	tbl := NewTable(false)
	require.NoError(t, tbl.Insert(&route.Route{ID: "get-pets", Method: "GET", PathTemplate: "/pets"}))
	require.NoError(t, tbl.Insert(&route.Route{ID: "post-pets", Method: "POST", PathTemplate: "/pets"}))
	tbl.Compile()

	_, ok, mismatch, allowed, err := tbl.Lookup("DELETE", "/pets")
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, mismatch)
	require.ElementsMatch(t, []string{"GET", "POST"}, allowed)
}

func TestTable_NoRoute(t *testing.T) {
	tbl := NewTable(false)
	require.NoError(t, tbl.Insert(&route.Route{ID: "get-pets", Method: "GET", PathTemplate: "/pets"}))
	tbl.Compile()

	_, ok, mismatch, _, err := tbl.Lookup("GET", "/nonexistent")
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, mismatch)
}

func TestTable_MalformedPercentEncoding(t *testing.T) {
	tbl := NewTable(false)
	require.NoError(t, tbl.Insert(&route.Route{ID: "get-pet", Method: "GET", PathTemplate: "/pets/{id}"}))
	tbl.Compile()

	_, ok, _, _, err := tbl.Lookup("GET", "/pets/%zz")
	require.Error(t, err)
	require.False(t, ok)
}

func TestTable_WildcardCatchAll(t *testing.T) {
	tbl := NewTable(false)
	require.NoError(t, tbl.Insert(&route.Route{ID: "static-files", Method: "GET", PathTemplate: "/assets/*path"}))
	tbl.Compile()

	match, ok, _, _, err := tbl.Lookup("GET", "/assets/css/site.css")
	require.NoError(t, err)
	require.True(t, ok)
	v, ok := match.Params.Get("path")
	require.True(t, ok)
	require.Equal(t, "css/site.css", v)
}

func TestTable_InsertRejectsNonHTTPMethod(t *testing.T) {
	tbl := NewTable(false)
	err := tbl.Insert(&route.Route{ID: "bogus", Method: "FETCH", PathTemplate: "/pets"})
	require.Error(t, err)
}

func TestTable_RoutesReportsIntrospectionInfo(t *testing.T) {
	tbl := NewTable(false)
	require.NoError(t, tbl.Insert(&route.Route{ID: "get-pets", Method: "GET", PathTemplate: "/pets", HandlerName: "listPets"}))
	require.NoError(t, tbl.Insert(&route.Route{ID: "get-pet", Method: "GET", PathTemplate: "/pets/{id}", HandlerName: "getPet"}))
	tbl.SetConstraint(&route.Route{Method: "GET", PathTemplate: "/pets/{id}"}, "id", &route.Constraint{Param: "id", Pattern: regexp.MustCompile(`^[0-9]+$`)})
	tbl.Compile()

	infos := tbl.Routes()
	require.Len(t, infos, 2)

	byPath := make(map[string]route.Info, len(infos))
	for _, info := range infos {
		byPath[info.Path] = info
	}

	require.True(t, byPath["/pets"].IsStatic)
	require.Equal(t, "listPets", byPath["/pets"].HandlerName)

	require.False(t, byPath["/pets/{id}"].IsStatic)
	require.Equal(t, "getPet", byPath["/pets/{id}"].HandlerName)
	require.Contains(t, byPath["/pets/{id}"].Constraints, "id")
}

func TestTable_MaybeStaticRouteAcceleratesStaticOnlyMethod(t *testing.T) {
	tbl := NewTable(false)
	require.NoError(t, tbl.Insert(&route.Route{ID: "get-pets", Method: "GET", PathTemplate: "/pets"}))
	tbl.Compile()

	require.True(t, tbl.MaybeStaticRoute("GET", "/pets"))
	require.False(t, tbl.MaybeStaticRoute("GET", "/nonexistent"))

	// A bloom miss on a method with no param/wildcard routes must still
	// produce a correct, non-mismatched 404 via the accelerated path.
	_, ok, mismatch, _, err := tbl.Lookup("GET", "/nonexistent")
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, mismatch)
}

func TestStaticFilter_NoFalseNegatives(t *testing.T) {
	f := newStaticFilter(8)
	f.insert("GET /pets")
	require.True(t, f.contains("GET", "/pets"), "an inserted key must always test positive")
	require.False(t, f.contains("GET", "/completely-different-route"))
}

func TestStaticFilter_SplitProbeMatchesJoinedInsert(t *testing.T) {
	f := newStaticFilter(8)
	f.insert("POST /pets/toys")
	require.True(t, f.contains("POST", "/pets/toys"))
	require.False(t, f.contains("POST", "/pets"), "method and path must hash as one joined key, not independently")
}
