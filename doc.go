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

// Package brrtrouter is an OpenAPI-3.1-driven HTTP request router and
// dispatcher. Given a parsed specification it matches incoming requests to
// named handlers, validates request/response payloads against JSON Schemas,
// enforces declared security, coordinates a middleware chain, and delivers
// requests to handlers through a bounded-queue worker pool.
//
// The runtime request plane lives in the subpackages: route and radix
// (route resolution), paramdecode (parameter decoding), schema (JSON Schema
// validation), security (security evaluation), middleware (interceptor
// chain), handler (handler registry and worker pool), dispatch (request
// dispatch), snapshot (hot-reload swap) and service (the per-request entry
// point tying all of the above together).
package brrtrouter
