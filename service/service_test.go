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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/microscaler/BRRTRouter-sub002/config"
	"github.com/microscaler/BRRTRouter-sub002/dispatch"
	"github.com/microscaler/BRRTRouter-sub002/handler"
	"github.com/microscaler/BRRTRouter-sub002/middleware"
	"github.com/microscaler/BRRTRouter-sub002/problem"
	"github.com/microscaler/BRRTRouter-sub002/radix"
	"github.com/microscaler/BRRTRouter-sub002/route"
	"github.com/microscaler/BRRTRouter-sub002/schema"
	"github.com/microscaler/BRRTRouter-sub002/security"
	"github.com/microscaler/BRRTRouter-sub002/snapshot"
)

// petsSchema is the JSON Schema backing the request/response body used by
// the S3/S4 scenarios below: {"name": <required string>}.
const petsSchema = `{
	"type": "object",
	"required": ["name"],
	"properties": { "name": { "type": "string" } }
}`

// buildTestService wires a minimal Snapshot: GET /pets (no auth, no body)
// and POST /pets (ApiKeyHeader required, request body required and
// schema-validated) dispatching to an echo handler.
func buildTestService(t *testing.T, bodyHandler handler.RawHandler) *Service {
	t.Helper()

	getPets := &route.Route{
		ID:          "getPets",
		Method:      http.MethodGet,
		PathTemplate: "/pets",
		HandlerName: "listPets",
	}
	postPets := &route.Route{
		ID:          "postPets",
		Method:      http.MethodPost,
		PathTemplate: "/pets",
		HandlerName: "createPet",
		RequestBody: &route.RequestBodyDescriptor{SchemaID: "pet.create.request", Required: true, MediaType: "application/json"},
		Responses: map[int]route.ResponseDescriptor{
			200: {MediaType: "application/json"},
		},
		Security: []route.SecurityGroup{
			{{Scheme: "ApiKeyHeader"}},
		},
	}

	table := radix.NewTable(false)
	require.NoError(t, table.Insert(getPets))
	require.NoError(t, table.Insert(postPets))
	table.Compile()

	builder := schema.NewBuilder()
	var doc any
	require.NoError(t, json.Unmarshal([]byte(petsSchema), &doc))
	require.NoError(t, builder.AddResource("pet.create.request", doc))
	require.NoError(t, builder.Compile(schema.Key{RouteID: "postPets", Direction: schema.DirectionRequest}, "pet.create.request"))
	validators := builder.Build()

	secRegistry := security.NewRegistry(map[string]security.Provider{
		"ApiKeyHeader": security.NewAPIKeyProvider("X-API-Key", "test123"),
	})

	listEntry := handler.NewRawEntry("listPets", func(ctx context.Context, req *handler.HandlerRequest) handler.HandlerResponse {
		return handler.HandlerResponse{Status: 200, Body: []byte(`[]`), MediaType: "application/json"}
	}, 1, handler.WithQueueCapacity(4))

	if bodyHandler == nil {
		bodyHandler = func(ctx context.Context, req *handler.HandlerRequest) handler.HandlerResponse {
			return handler.HandlerResponse{Status: 200, Body: req.Body, MediaType: "application/json"}
		}
	}
	createEntry := handler.NewRawEntry("createPet", bodyHandler, 1, handler.WithQueueCapacity(4))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	listEntry.Start(ctx)
	createEntry.Start(ctx)

	registry := handler.NewRegistry(map[string]*handler.Entry{
		"listPets":  listEntry,
		"createPet": createEntry,
	})

	snap := &snapshot.Snapshot{Routes: table, Validators: validators, Security: secRegistry, Handlers: registry, Epoch: 1}
	holder := snapshot.NewHolder(snap)

	counters, err := dispatch.NewCounters(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	chain := middleware.NewChain(nil)
	dispatcher := dispatch.New(registry, chain, counters, 5*time.Second, 0)

	formatter := &problem.Formatter{Debug: true}
	cfg := config.DefaultConfig()
	cfg.DebugValidation = true

	return New(holder, cfg, dispatcher, formatter, nil)
}

func TestService_S1_RouteMiss404(t *testing.T) {
	svc := buildTestService(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":404`)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestService_S2_MissingCredential401(t *testing.T) {
	var invoked bool
	svc := buildTestService(t, func(ctx context.Context, req *handler.HandlerRequest) handler.HandlerResponse {
		invoked = true
		return handler.HandlerResponse{Status: 200}
	})

	req := httptest.NewRequest(http.MethodPost, "/pets", strings.NewReader(`{"name":"Bella"}`))
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, invoked, "handler must not be invoked when security denies the request")
	require.Contains(t, rec.Body.String(), "ApiKeyHeader", "debug mode must surface per-scheme denial diagnostics")
	require.Contains(t, rec.Body.String(), "missing credential")
}

func TestService_S3_ValidAuthMissingBody400(t *testing.T) {
	svc := buildTestService(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/pets", nil)
	req.Header.Set("X-API-Key", "test123")
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "request body required")
}

func TestService_S4_HappyPath(t *testing.T) {
	svc := buildTestService(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/pets", strings.NewReader(`{"name":"Bella"}`))
	req.Header.Set("X-API-Key", "test123")
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Body.String())
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestService_RequestIDEchoedWhenPresent(t *testing.T) {
	svc := buildTestService(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/pets", nil)
	req.Header.Set("X-Request-Id", "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "01ARZ3NDEKTSV4RRFFQ69G5FAV", rec.Header().Get("X-Request-Id"))
}

func TestService_RequestIDFallsBackToTraceparentWhenRequestIDHeaderAbsent(t *testing.T) {
	svc := buildTestService(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/pets", nil)
	req.Header.Set("traceparent", "01ARZ3NDEKTSV4RRFFQ69G5FBB")
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "01ARZ3NDEKTSV4RRFFQ69G5FBB", rec.Header().Get("X-Request-Id"))
}

func TestService_ReadinessReportsRouteIntrospection(t *testing.T) {
	svc := buildTestService(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/readiness", nil)
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body readinessBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ready", body.Status)
	require.Equal(t, 2, body.RouteCount)

	var sawPets, sawCreatePet bool
	for _, info := range body.Routes {
		if info.Path == "/pets" && info.Method == http.MethodGet {
			sawPets = true
		}
		if info.Path == "/pets" && info.Method == http.MethodPost && info.HandlerName == "createPet" {
			sawCreatePet = true
		}
	}
	require.True(t, sawPets)
	require.True(t, sawCreatePet)
}

func TestService_MethodNotAllowed405(t *testing.T) {
	svc := buildTestService(t, nil)

	req := httptest.NewRequest(http.MethodDelete, "/pets", nil)
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Allow"))
}

// buildResponseValidationService wires GET /pets with a response-body schema
// requiring {"name": string} and a handler that returns an invalid body, to
// exercise the lenient-500 / strict-400 response validation modes.
func buildResponseValidationService(t *testing.T, strict bool) *Service {
	t.Helper()

	getPets := &route.Route{
		ID:           "getPets",
		Method:       http.MethodGet,
		PathTemplate: "/pets",
		HandlerName:  "listPets",
		Responses: map[int]route.ResponseDescriptor{
			200: {SchemaID: "pet.list.response", MediaType: "application/json"},
		},
	}

	table := radix.NewTable(false)
	require.NoError(t, table.Insert(getPets))
	table.Compile()

	builder := schema.NewBuilder()
	var doc any
	require.NoError(t, json.Unmarshal([]byte(petsSchema), &doc))
	require.NoError(t, builder.AddResource("pet.list.response", doc))
	require.NoError(t, builder.Compile(schema.Key{RouteID: "getPets", Direction: schema.DirectionResponse, StatusCode: 200}, "pet.list.response"))
	validators := builder.Build()

	entry := handler.NewRawEntry("listPets", func(ctx context.Context, req *handler.HandlerRequest) handler.HandlerResponse {
		return handler.HandlerResponse{Status: 200, Body: []byte(`{"name":123}`), MediaType: "application/json"}
	}, 1, handler.WithQueueCapacity(4))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	entry.Start(ctx)

	registry := handler.NewRegistry(map[string]*handler.Entry{"listPets": entry})
	snap := &snapshot.Snapshot{
		Routes:     table,
		Validators: validators,
		Security:   security.NewRegistry(nil),
		Handlers:   registry,
		Epoch:      1,
	}

	counters, err := dispatch.NewCounters(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	dispatcher := dispatch.New(registry, middleware.NewChain(nil), counters, 5*time.Second, 0)

	cfg := config.DefaultConfig()
	cfg.StrictResponseValidation = strict
	return New(snapshot.NewHolder(snap), cfg, dispatcher, &problem.Formatter{}, nil)
}

func TestService_ResponseSchemaMismatchLenient500(t *testing.T) {
	svc := buildResponseValidationService(t, false)

	req := httptest.NewRequest(http.MethodGet, "/pets", nil)
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), `"name":123`, "the handler's invalid output must never be forwarded")
}

func TestService_ResponseSchemaMismatchStrict400(t *testing.T) {
	svc := buildResponseValidationService(t, true)

	req := httptest.NewRequest(http.MethodGet, "/pets", nil)
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotContains(t, rec.Body.String(), `"name":123`)
}

func TestService_ShutdownRefusesNewRequests(t *testing.T) {
	svc := buildTestService(t, nil)
	svc.Config.DrainTimeoutMS = 50
	svc.Shutdown()

	req := httptest.NewRequest(http.MethodGet, "/pets", nil)
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestService_BuiltinServedBeforeSecurity(t *testing.T) {
	called := false
	builtin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("metrics"))
	})

	svc := buildTestService(t, nil)
	WithBuiltin("/metrics", builtin)(svc)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	require.True(t, called)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "metrics", rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"), "builtin responses carry the correlation ID too")
}

func TestService_HealthEndpointsCarryRequestID(t *testing.T) {
	svc := buildTestService(t, nil)

	for _, path := range []string{"/health/liveness", "/health/readiness"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Request-Id", "01ARZ3NDEKTSV4RRFFQ69G5FAV")
		rec := httptest.NewRecorder()
		svc.ServeHTTP(rec, req)
		require.Equal(t, "01ARZ3NDEKTSV4RRFFQ69G5FAV", rec.Header().Get("X-Request-Id"), path)
	}
}

func TestService_UnparseableBodyDistinctFromSchemaMismatch(t *testing.T) {
	svc := buildTestService(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/pets", strings.NewReader(`{not json`))
	req.Header.Set("X-API-Key", "test123")
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "could not be parsed")
	require.NotContains(t, rec.Body.String(), "does not match schema")
}

func TestService_MissingHandlerIs500ProblemDetails(t *testing.T) {
	svc := buildTestService(t, nil)

	// Point the dispatcher at an empty registry so every lookup misses.
	counters, err := dispatch.NewCounters(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	svc.Dispatcher = dispatch.New(handler.NewRegistry(nil), middleware.NewChain(nil), counters, time.Second, 0)

	req := httptest.NewRequest(http.MethodGet, "/pets", nil)
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":500`)
}
