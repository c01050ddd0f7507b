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

// Package service implements the per-request entry point: the Service
// reads correlation headers, resolves the route, evaluates security,
// decodes parameters, validates and dispatches the request, then writes
// the response.
package service

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	brrtrouter "github.com/microscaler/BRRTRouter-sub002"
	"github.com/microscaler/BRRTRouter-sub002/config"
	"github.com/microscaler/BRRTRouter-sub002/dispatch"
	"github.com/microscaler/BRRTRouter-sub002/handler"
	"github.com/microscaler/BRRTRouter-sub002/internal/idgen"
	"github.com/microscaler/BRRTRouter-sub002/middleware"
	"github.com/microscaler/BRRTRouter-sub002/paramdecode"
	"github.com/microscaler/BRRTRouter-sub002/problem"
	"github.com/microscaler/BRRTRouter-sub002/route"
	"github.com/microscaler/BRRTRouter-sub002/schema"
	"github.com/microscaler/BRRTRouter-sub002/security"
	"github.com/microscaler/BRRTRouter-sub002/snapshot"
)

// RequestIDHeader is the header name used for correlation ID passthrough
// and echo.
const RequestIDHeader = "X-Request-Id"

// HealthChecker reports liveness/readiness independent of the route table —
// built-in endpoints are handled before security evaluation.
type HealthChecker func() (ready bool, detail string)

// Service is the per-request entry point tying the route table, parameter
// decoding, security evaluation, schema validation, the middleware chain,
// and the Dispatcher together.
type Service struct {
	Holder     *snapshot.Holder
	Config     *config.Config
	Dispatcher *dispatch.Dispatcher
	Problem    *problem.Formatter
	Readiness  HealthChecker

	logger   *slog.Logger
	builtins map[string]http.Handler
	requests metric.Int64Counter
	draining atomic.Bool
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithLogger sets the structured logger every request-failure event is
// emitted through. Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBuiltin mounts an external collaborator (metrics endpoint, Swagger UI,
// static files) at path. Builtins are served before security evaluation and
// still counted in the top-level request counter.
func WithBuiltin(path string, h http.Handler) Option {
	return func(s *Service) {
		if s.builtins == nil {
			s.builtins = make(map[string]http.Handler)
		}
		s.builtins[path] = h
	}
}

// WithRequestCounter sets the top-level counter incremented once per inbound
// request, builtins included.
func WithRequestCounter(c metric.Int64Counter) Option {
	return func(s *Service) { s.requests = c }
}

// New builds a Service. The configured worker stack size and queue settings
// are logged at startup.
func New(holder *snapshot.Holder, cfg *config.Config, dispatcher *dispatch.Dispatcher, formatter *problem.Formatter, readiness HealthChecker, opts ...Option) *Service {
	s := &Service{
		Holder:     holder,
		Config:     cfg,
		Dispatcher: dispatcher,
		Problem:    formatter,
		Readiness:  readiness,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger.Info("service configured",
		"coroutine_stack_size", cfg.CoroutineStackSize,
		"channel_capacity", cfg.ChannelCapacity,
		"backpressure_policy", string(cfg.BackpressurePolicy),
		"dispatch_timeout_ms", cfg.DispatchTimeoutMS)
	return s
}

// Shutdown begins the graceful drain: new requests are refused with 503,
// handler entries stop accepting enqueues, and in-flight work is given the
// configured drain window to finish.
func (s *Service) Shutdown() {
	s.draining.Store(true)
	timeout := time.Duration(s.Config.DrainTimeoutMS) * time.Millisecond
	if snap := s.Holder.Load(); snap != nil && snap.Handlers != nil {
		snap.Handlers.DrainAll(timeout)
	}
	s.logger.Info("service drained", "drain_timeout_ms", s.Config.DrainTimeoutMS)
}

// ServeHTTP implements http.Handler, driving the full request pipeline.
// The surrounding HTTP wire parser (net/http's own server loop) is an
// external collaborator; everything after it lands here.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.requests != nil {
		s.requests.Add(r.Context(), 1)
	}

	// Step 1: correlation ID. Every response carries it, builtins included.
	requestID := idgen.ResolveCorrelationID(r.Header.Get(RequestIDHeader), r.Header.Get("traceparent"))
	w.Header().Set(RequestIDHeader, requestID)

	// Builtins and health endpoints are served before security evaluation;
	// secured routes never take this path.
	if h, ok := s.builtins[r.URL.Path]; ok {
		h.ServeHTTP(w, r)
		return
	}
	switch r.URL.Path {
	case "/health/liveness":
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"live"}`))
		return
	case "/health/readiness":
		s.serveReadiness(w)
		return
	}

	if s.draining.Load() {
		s.writeProblemStatus(w, r, requestID, http.StatusServiceUnavailable, brrtrouter.ErrShuttingDown, nil)
		return
	}

	snap := s.Holder.Load()

	// Step 2: route lookup.
	match, ok, methodMismatch, allowed, lookupErr := snap.Routes.Lookup(r.Method, r.URL.Path)
	if lookupErr != nil {
		s.writeProblem(w, r, requestID, brrtrouter.ErrMalformedPercentEncoding, nil)
		return
	}
	if !ok {
		if methodMismatch {
			w.Header().Set("Allow", route.AllowHeader(allowed))
			s.writeProblem(w, r, requestID, brrtrouter.ErrMethodNotAllowed, nil)
			return
		}
		s.writeProblem(w, r, requestID, brrtrouter.ErrNoRoute, nil)
		return
	}

	// Step 3: security evaluation, strictly before body parsing.
	secReq := security.Request{Header: r.Header, Method: r.Method, Path: r.URL.Path}
	decision := snap.Security.Evaluate(r.Context(), match.Route.Security, secReq)
	if !decision.Allowed {
		status := http.StatusUnauthorized
		denyErr := error(brrtrouter.ErrMissingCredential)
		if decision.AnyCredential {
			status = http.StatusForbidden
			denyErr = brrtrouter.ErrInsufficientScope
			w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
		} else {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_request"`)
		}
		s.writeProblemStatus(w, r, requestID, status, denyErr, securityFieldErrors(decision.Failures))
		return
	}

	// Step 4: parameter decoding, into collections that stay with the
	// request all the way through dispatch.
	var bundle paramdecode.Bundle
	err := paramdecode.Decode(match.Route, &match.Params, r.URL.RawQuery, r.Header, r.Header.Get("Cookie"), &bundle)
	if err != nil {
		var coerceErr *paramdecode.CoercionError
		if errors.As(err, &coerceErr) {
			fieldErrs := []problem.FieldError{{Location: coerceErr.Location, Name: coerceErr.Name, Path: coerceErr.Value, Message: coerceErr.Error()}}
			s.writeProblem(w, r, requestID, brrtrouter.ErrParamTypeCoercion, fieldErrs)
			return
		}
		s.writeProblem(w, r, requestID, brrtrouter.ErrMissingRequiredParam, nil)
		return
	}

	// Step 5: body size/parse/validate.
	var bodyBytes []byte
	if match.Route.RequestBody != nil {
		maxBytes := s.Config.MaxBodyBytes
		if match.Route.MaxBodyBytes > 0 {
			maxBytes = match.Route.MaxBodyBytes
		}
		limited := io.LimitReader(r.Body, maxBytes+1)
		bodyBytes, err = io.ReadAll(limited)
		if err != nil {
			s.writeProblem(w, r, requestID, brrtrouter.ErrUnparseableBody, nil)
			return
		}
		if int64(len(bodyBytes)) > maxBytes {
			s.writeProblem(w, r, requestID, brrtrouter.ErrBodyTooLarge, nil)
			return
		}
		if len(bodyBytes) == 0 {
			if match.Route.RequestBody.Required {
				s.writeProblem(w, r, requestID, brrtrouter.ErrRequiredBodyMissing, nil)
				return
			}
		} else {
			key := schema.Key{RouteID: match.Route.ID, Direction: schema.DirectionRequest}
			if verr := snap.Validators.Validate(key, bodyBytes); verr != nil && verr != schema.ErrNoValidator {
				if errors.Is(verr, schema.ErrUnparseable) {
					s.writeProblem(w, r, requestID, brrtrouter.ErrUnparseableBody, nil)
					return
				}
				s.writeProblem(w, r, requestID, brrtrouter.ErrSchemaMismatch, nil)
				return
			}
		}
	}

	// Step 6: dispatch. The decoded collections are handed over by
	// reference; nothing is re-keyed into maps on the way to the queue.
	hreq := &handler.HandlerRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		PathParams:    &match.Params,
		Query:         &bundle.Query,
		Headers:       r.Header,
		Cookies:       &bundle.Cookies,
		Body:          bodyBytes,
		CorrelationID: requestID,
		Reply:         make(chan handler.HandlerResponse, 1),
	}
	mwReq := &middleware.Request{Method: r.Method, Path: r.URL.Path, Header: r.Header, RequestID: requestID}

	timeout := time.Duration(s.Config.DispatchTimeoutMS) * time.Millisecond
	outcome := s.Dispatcher.Dispatch(r.Context(), match.Route.HandlerName, hreq, mwReq, timeout)
	if outcome.Err != nil {
		// MissingHandler never reaches the middleware chain, so its Outcome
		// carries no response status; fall back to the error's own.
		if outcome.Response.Status == 0 {
			s.writeProblem(w, r, requestID, outcome.Err, nil)
			return
		}
		s.writeProblemStatus(w, r, requestID, outcome.Response.Status, outcome.Err, nil)
		return
	}

	resp := outcome.Response

	// Step 7: response validation. Schema selection is by exact status code,
	// falling back to the route's default response; neither means skipped in
	// lenient mode, rejected with a logged warning in strict mode.
	if len(resp.Body) > 0 {
		key := schema.Key{RouteID: match.Route.ID, Direction: schema.DirectionResponse, StatusCode: resp.Status}
		_, declared := match.Route.Responses[resp.Status]
		if !declared && match.Route.DefaultResponse != nil {
			key.StatusCode = 0
			declared = true
		}
		if !declared && s.Config.StrictResponseValidation {
			s.logger.Warn("handler returned undeclared status code",
				"route", match.Route.ID, "handler", match.Route.HandlerName, "status", resp.Status, "request_id", requestID)
			s.writeProblemStatus(w, r, requestID, http.StatusBadRequest, brrtrouter.ErrResponseSchemaMismatch, nil)
			return
		}
		if declared {
			if verr := snap.Validators.Validate(key, resp.Body); verr != nil && verr != schema.ErrNoValidator {
				// The handler's original output is never forwarded on a
				// contract mismatch; strict mode answers 400, lenient 500.
				status := http.StatusInternalServerError
				if s.Config.StrictResponseValidation {
					status = http.StatusBadRequest
				}
				s.writeProblemStatus(w, r, requestID, status, brrtrouter.ErrResponseSchemaMismatch, responseFieldErrors(verr, s.Config.DebugValidation))
				return
			}
		}
	}

	// Step 8: content negotiation.
	mediaType := resp.MediaType
	if mediaType == "" {
		mediaType = NegotiateMediaType(r.Header.Get("Accept"), offeredMediaTypes(match.Route, resp.Status))
	}

	// Step 9/10: write response.
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if w.Header().Get("Content-Type") == "" && mediaType != "" {
		w.Header().Set("Content-Type", mediaType)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// readinessBody is the JSON payload written by /health/readiness. Routes
// reports per-route introspection (route.Info) so an operator can see
// exactly what the active snapshot serves without cross-referencing the
// OpenAPI document.
type readinessBody struct {
	Status     string       `json:"status"`
	Detail     string       `json:"detail,omitempty"`
	RouteCount int          `json:"route_count"`
	Routes     []route.Info `json:"routes"`
}

func (s *Service) serveReadiness(w http.ResponseWriter) {
	ready, detail := true, ""
	if s.Readiness != nil {
		ready, detail = s.Readiness()
	}

	var routes []route.Info
	if snap := s.Holder.Load(); snap != nil && snap.Routes != nil {
		routes = snap.Routes.Routes()
	}

	body := readinessBody{RouteCount: len(routes), Routes: routes}
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		body.Status = "not_ready"
		body.Detail = detail
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		body.Status = "ready"
		w.WriteHeader(http.StatusOK)
	}
	data, _ := json.Marshal(body)
	_, _ = w.Write(data)
}

func (s *Service) writeProblem(w http.ResponseWriter, r *http.Request, requestID string, err error, fieldErrs []problem.FieldError) {
	status := http.StatusInternalServerError
	var hs brrtrouter.HTTPStatuser
	if errors.As(err, &hs) {
		status = hs.HTTPStatus()
	}
	s.writeProblemStatus(w, r, requestID, status, err, fieldErrs)
}

func (s *Service) writeProblemStatus(w http.ResponseWriter, r *http.Request, requestID string, status int, err error, fieldErrs []problem.FieldError) {
	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	if s.logger != nil {
		s.logger.Log(r.Context(), level, "request failed",
			"status", status, "error", err.Error(), "method", r.Method, "path", r.URL.Path, "request_id", requestID)
	}
	w.Header().Set(RequestIDHeader, requestID)
	resp := s.Problem.Format(r.URL.Path, err, fieldErrs)
	resp.Status = status
	resp.Body.Status = status
	resp.Body.Title = http.StatusText(status)
	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(resp.Status)
	data, _ := resp.Body.MarshalJSON()
	_, _ = w.Write(data)
}

// securityFieldErrors renders the per-AND-group denial diagnostics as
// debug-mode Problem Details field errors. Formatter.Format drops these
// entirely outside debug mode, so raw per-scheme reasons are never leaked
// to a non-debug client.
func securityFieldErrors(failures []security.GroupFailure) []problem.FieldError {
	if len(failures) == 0 {
		return nil
	}
	out := make([]problem.FieldError, 0, len(failures))
	for _, f := range failures {
		msg := f.DenyReason
		switch {
		case f.Outcome == security.OutcomeMissingCredential:
			msg = "missing credential"
		case len(f.Missing) > 0:
			msg = "missing required scopes: " + strings.Join(f.Missing, ", ")
		case msg == "":
			msg = "security requirement not satisfied"
		}
		out = append(out, problem.FieldError{Location: "security", Name: f.Scheme, Message: msg})
	}
	return out
}

// responseFieldErrors exposes the failing JSON pointer of a response-schema
// mismatch in debug mode only; clients never see raw validation diagnostics
// otherwise.
func responseFieldErrors(verr error, debug bool) []problem.FieldError {
	if !debug {
		return nil
	}
	var ve *schema.ValidationError
	if !errors.As(verr, &ve) {
		return nil
	}
	return []problem.FieldError{{Location: "response", Path: ve.Pointer, Message: ve.Error()}}
}

// offeredMediaTypes returns the declared media types for a route's
// response at status, falling back to the default response's media type.
func offeredMediaTypes(r *route.Route, status int) []string {
	if d, ok := r.Responses[status]; ok && d.MediaType != "" {
		return []string{d.MediaType}
	}
	if r.DefaultResponse != nil && r.DefaultResponse.MediaType != "" {
		return []string{r.DefaultResponse.MediaType}
	}
	return []string{"application/json"}
}
