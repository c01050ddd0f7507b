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

// Package snapshot implements the immutable Snapshot and the atomic
// hot-reload swap mechanism.
package snapshot

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/microscaler/BRRTRouter-sub002/handler"
	"github.com/microscaler/BRRTRouter-sub002/radix"
	"github.com/microscaler/BRRTRouter-sub002/schema"
	"github.com/microscaler/BRRTRouter-sub002/security"
)

// drainTimeout bounds how long Swap waits for a removed handler's in-flight
// requests to finish before abandoning the drain.
const drainTimeout = 5 * time.Second

// Snapshot is the immutable bundle of everything needed to serve a request.
// Old snapshots remain readable by in-flight requests until the last
// reference drops (Go's GC handles reclamation once the atomic pointer no
// longer references them and no goroutine holds a local copy).
type Snapshot struct {
	Routes     *radix.Table
	Validators *schema.Cache
	Security   *security.Registry
	Handlers   *handler.Registry
	Epoch      uint64
}

// Holder is the shared, atomically-swapped reference to the active
// Snapshot. Service holds exactly one Holder for its lifetime.
type Holder struct {
	ptr atomic.Pointer[Snapshot]
}

// NewHolder wraps an initial snapshot.
func NewHolder(initial *Snapshot) *Holder {
	h := &Holder{}
	h.ptr.Store(initial)
	return h
}

// Load returns the currently active snapshot. Safe for concurrent use by
// any number of request goroutines; never blocks.
func (h *Holder) Load() *Snapshot {
	return h.ptr.Load()
}

// Summary describes what changed in a swap; Swap logs it as a structured
// event so reloads leave an audit trail of added/removed/reused handlers.
type Summary struct {
	AddedHandlers   []string
	RemovedHandlers []string
	ReusedHandlers  []string
	NewEpoch        uint64
}

// Swap atomically replaces the active snapshot with next, built by the
// caller (typically the external OpenAPI loader).
// Before the pointer swap is visible to new requests, Swap diffs next's
// handler registry against the outgoing one by name: an entry whose
// Signature (handler body plus queue configuration) is unchanged is grafted
// from the old registry into next's, so its live queue and in-flight
// workers survive the reload rather than being rebuilt from scratch.
// Entries that disappear from next are drained in the background once the
// swap completes: each stops accepting new work at once, and Drain waits up
// to drainTimeout for invocations already running. Requests still waiting in
// a removed entry's queue are not guaranteed to be picked up by a worker.
func (h *Holder) Swap(next *Snapshot, logger *slog.Logger) Summary {
	if logger == nil {
		logger = slog.Default()
	}

	var added, removed, reused []string
	if next.Handlers != nil {
		if prev := h.ptr.Load(); prev != nil && prev.Handlers != nil {
			added, removed, reused = diffHandlers(prev.Handlers, next.Handlers)
		}
	}

	prev := h.ptr.Swap(next)

	summary := Summary{NewEpoch: next.Epoch, AddedHandlers: added, RemovedHandlers: removed, ReusedHandlers: reused}
	if prev == nil {
		logger.Info("snapshot swap: initial load", "epoch", next.Epoch)
		return summary
	}

	logger.Info("snapshot swap",
		"old_epoch", prev.Epoch, "new_epoch", next.Epoch,
		"added_handlers", added, "removed_handlers", removed, "reused_handlers", reused)

	if len(removed) > 0 && prev.Handlers != nil {
		go drainRemoved(prev.Handlers, removed, logger)
	}
	return summary
}

// diffHandlers compares the outgoing and incoming handler registries by
// name, grafting unchanged entries from prev into next in place so the
// caller never rebuilds a queue/worker pool that didn't need to change.
func diffHandlers(prev, next *handler.Registry) (added, removed, reused []string) {
	prevNames := make(map[string]bool)
	for _, n := range prev.Names() {
		prevNames[n] = true
	}
	nextNames := make(map[string]bool)
	for _, n := range next.Names() {
		nextNames[n] = true
	}

	for name := range nextNames {
		if !prevNames[name] {
			added = append(added, name)
			continue
		}
		oldEntry, _ := prev.Lookup(name)
		newEntry, _ := next.Lookup(name)
		if oldEntry != nil && newEntry != nil && oldEntry.Signature() == newEntry.Signature() {
			next.ReplaceEntry(name, oldEntry)
			reused = append(reused, name)
		}
	}
	for name := range prevNames {
		if !nextNames[name] {
			removed = append(removed, name)
		}
	}
	return added, removed, reused
}

// drainRemoved waits for every handler name no longer present in the active
// snapshot to finish its in-flight work, then lets it be garbage collected.
func drainRemoved(prev *handler.Registry, names []string, logger *slog.Logger) {
	for _, name := range names {
		entry, ok := prev.Lookup(name)
		if !ok {
			continue
		}
		entry.Drain(drainTimeout)
		logger.Info("snapshot swap: drained removed handler", "handler", name)
	}
}

// ErrSwapAborted reports that a new snapshot failed to construct validly,
// leaving the existing snapshot active. No function in this package returns
// it; Swap always installs next.
var ErrSwapAborted = fmt.Errorf("snapshot: swap aborted")
