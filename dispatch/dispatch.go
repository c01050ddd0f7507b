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

// Package dispatch implements the Dispatcher: handler lookup, the
// middleware chain, queue enqueue, and the deadline-bound reply await.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	brrtrouter "github.com/microscaler/BRRTRouter-sub002"
	"github.com/microscaler/BRRTRouter-sub002/handler"
	"github.com/microscaler/BRRTRouter-sub002/middleware"
)

// Counters holds the labeled counters dispatch emits per outcome.
type Counters struct {
	MissingHandler metric.Int64Counter
	SendFail       metric.Int64Counter
	RecvFail       metric.Int64Counter
	Timeout        metric.Int64Counter
	Busy           metric.Int64Counter
	Cancelled      metric.Int64Counter
}

// NewCounters builds Counters from an OpenTelemetry meter. Exporter wiring
// is the caller's concern; dispatch only records through the meter API.
func NewCounters(meter metric.Meter) (*Counters, error) {
	c := &Counters{}
	var err error
	if c.MissingHandler, err = meter.Int64Counter("dispatch_missing_handler_total"); err != nil {
		return nil, err
	}
	if c.SendFail, err = meter.Int64Counter("dispatch_send_fail_total"); err != nil {
		return nil, err
	}
	if c.RecvFail, err = meter.Int64Counter("dispatch_recv_fail_total"); err != nil {
		return nil, err
	}
	if c.Timeout, err = meter.Int64Counter("dispatch_timeout_total"); err != nil {
		return nil, err
	}
	if c.Busy, err = meter.Int64Counter("dispatch_busy_total"); err != nil {
		return nil, err
	}
	if c.Cancelled, err = meter.Int64Counter("dispatch_cancelled_total"); err != nil {
		return nil, err
	}
	return c, nil
}

// Dispatcher is the top-level orchestrator: lookup -> middleware -> enqueue
// -> await reply -> middleware.
type Dispatcher struct {
	Registry       *handler.Registry
	Chain          *middleware.Chain
	Counters       *Counters
	DefaultTimeout time.Duration
	CancelStatus   int // 499, 500, or 504; default 504
}

// New builds a Dispatcher. cancelStatus should be 499, 500, or 504;
// defaultTimeout bounds dispatch when the request carries no deadline.
func New(registry *handler.Registry, chain *middleware.Chain, counters *Counters, defaultTimeout time.Duration, cancelStatus int) *Dispatcher {
	if cancelStatus == 0 {
		cancelStatus = 504
	}
	return &Dispatcher{Registry: registry, Chain: chain, Counters: counters, DefaultTimeout: defaultTimeout, CancelStatus: cancelStatus}
}

// Outcome is the result of one dispatch call.
type Outcome struct {
	Response handler.HandlerResponse
	Err      error
}

// Dispatch resolves the handler entry, runs the middleware chain around
// enqueue-and-await, and maps every failure onto the dispatch error
// taxonomy. Route lookup, param decode, and security have already run by
// the time Dispatch is called.
func (d *Dispatcher) Dispatch(ctx context.Context, handlerName string, req *handler.HandlerRequest, mwReq *middleware.Request, perHandlerTimeout time.Duration) Outcome {
	// Step 1: resolve handler entry by name.
	entry, ok := d.Registry.Lookup(handlerName)
	if !ok {
		d.inc(d.Counters.MissingHandler, handlerName)
		return Outcome{Err: fmt.Errorf("%w: %q", brrtrouter.ErrMissingHandler, handlerName)}
	}

	// Step 2: HandlerRequest already built by caller with a capacity-1 SPSC
	// reply channel; a nil req.Reply is replaced with a fresh one.
	if req.Reply == nil {
		req.Reply = make(chan handler.HandlerResponse, 1)
	}

	// Step 3: middleware.before, via Chain.Run wrapping the enqueue+await.
	timeout := perHandlerTimeout
	if timeout <= 0 {
		timeout = d.DefaultTimeout
	}
	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req.Ctx = deadlineCtx

	var dispatchErr error
	mwResp := d.Chain.Run(mwReq, func(_ *middleware.Request) *middleware.Response {
		// Step 4: enqueue per queue policy.
		switch entry.Enqueue(req) {
		case handler.EnqueueBusy:
			d.inc(d.Counters.Busy, handlerName)
			dispatchErr = fmt.Errorf("%w: handler %q", brrtrouter.ErrQueueBusy, handlerName)
			return &middleware.Response{Status: 503}
		case handler.EnqueueCancelled:
			d.inc(d.Counters.Cancelled, handlerName)
			dispatchErr = fmt.Errorf("%w: handler %q", brrtrouter.ErrCancelled, handlerName)
			return &middleware.Response{Status: d.CancelStatus}
		}

		// Step 5: await reply with min(handler timeout, request deadline).
		select {
		case resp, ok := <-req.Reply:
			if !ok {
				d.inc(d.Counters.RecvFail, handlerName)
				dispatchErr = fmt.Errorf("%w: handler %q", brrtrouter.ErrRecvFail, handlerName)
				return &middleware.Response{Status: 500}
			}
			if resp.Err != nil {
				dispatchErr = classifyWorkerErr(resp.Status, resp.Err, handlerName)
				if resp.Status == 499 {
					d.inc(d.Counters.Cancelled, handlerName)
				} else {
					d.inc(d.Counters.RecvFail, handlerName)
				}
				return &middleware.Response{Status: resp.Status, Body: resp.Body}
			}
			return &middleware.Response{Status: resp.Status, Header: resp.Header, Body: resp.Body}
		case <-deadlineCtx.Done():
			if deadlineCtx.Err() == context.DeadlineExceeded {
				d.inc(d.Counters.Timeout, handlerName)
				dispatchErr = fmt.Errorf("%w: handler %q", brrtrouter.ErrDispatchTimeout, handlerName)
				return &middleware.Response{Status: 504}
			}
			d.inc(d.Counters.Cancelled, handlerName)
			dispatchErr = fmt.Errorf("%w: handler %q", brrtrouter.ErrCancelled, handlerName)
			return &middleware.Response{Status: d.CancelStatus}
		}
	})

	if dispatchErr != nil {
		return Outcome{Response: handler.HandlerResponse{Status: mwResp.Status, Header: mwResp.Header, Body: mwResp.Body}, Err: dispatchErr}
	}
	return Outcome{Response: handler.HandlerResponse{Status: mwResp.Status, Header: mwResp.Header, Body: mwResp.Body}}
}

// classifyWorkerErr maps a worker-produced HandlerResponse.Err (semaphore
// acquire failure, drop-oldest eviction, typed-conversion failure, or a
// caught handler panic — see handler/handler.go's invoke/invokeCatchingPanic)
// to the dispatch error taxonomy, so the worker's own failure
// status is never mistaken for a successful handler response.
func classifyWorkerErr(status int, workerErr error, handlerName string) error {
	switch status {
	case 400:
		return fmt.Errorf("%w: handler %q: %s", brrtrouter.ErrConversionFailed, handlerName, workerErr)
	case 499:
		return fmt.Errorf("%w: handler %q: %s", brrtrouter.ErrCancelled, handlerName, workerErr)
	default:
		return fmt.Errorf("%w: handler %q: %s", brrtrouter.ErrHandlerPanic, handlerName, workerErr)
	}
}

func (d *Dispatcher) inc(c metric.Int64Counter, handlerName string) {
	if c == nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(attribute.String("handler", handlerName)))
}
