// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eventlog persists study events to append-only JSONL shards.
//
// # Architecture
//
//	 handler ──► Dispatcher (fire-and-forget) ──┐
//	                                            ▼
//	 handler ──► Logger.LogEvent (awaited) ──► Store.Append ──► <wave>_<date>.jsonl
//	                                                                 │
//	 researcher ◄── Store.Poll / Exporter.WriteZip ◄─────────────────┘
//	                                                                 │
//	 Mirror (cron) ──► object storage ◄──────────────────────────────┘
//
// Each entry is serialized to exactly one line and appended with a single
// write on an O_APPEND file, so concurrent writers never interleave bytes of
// one entry with another. Entries are never modified or deleted here.
package eventlog

import (
	"sync/atomic"
	"time"
)

// LogEntry is one persisted study event.
//
// # Fields
//
//   - Username: participant, empty for anonymous sessions.
//   - Event: event kind, see ValidateKind.
//   - ExtraData: kind-specific payload.
//   - Timestamp: Unix milliseconds, strictly increasing within a process.
//   - Wave: deployment wave active when the entry was created.
//   - Commit: build identifier of the writing process.
type LogEntry struct {
	Username  string         `json:"username"`
	Event     string         `json:"event"`
	ExtraData map[string]any `json:"extra_data"`
	Timestamp int64          `json:"timestamp"`
	Wave      string         `json:"wave"`
	Commit    string         `json:"commit"`
}

// Time returns the entry timestamp as a time.Time in UTC.
func (e LogEntry) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// =============================================================================
// Clock
// =============================================================================

// Clock issues entry timestamps.
type Clock interface {
	// NowMs returns a Unix millisecond timestamp greater than every value
	// it returned before.
	NowMs() int64
}

// monotonicClock bumps readings that do not move forward so that no two
// entries from one process share a timestamp.
type monotonicClock struct {
	now  func() time.Time
	last atomic.Int64
}

// NewClock returns a Clock over the wall clock.
func NewClock() Clock {
	return NewClockFunc(time.Now)
}

// NewClockFunc returns a Clock reading time from now. Used by tests.
func NewClockFunc(now func() time.Time) Clock {
	return &monotonicClock{now: now}
}

func (c *monotonicClock) NowMs() int64 {
	reading := c.now().UnixMilli()
	for {
		last := c.last.Load()
		next := reading
		if next <= last {
			next = last + 1
		}
		if c.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// =============================================================================
// Wave
// =============================================================================

// WaveSource reports the active deployment wave.
//
// The wave can change while the process runs (config reload), so the
// logger asks for it on every entry.
type WaveSource interface {
	Wave() string
}

// StaticWave is a WaveSource that never changes.
type StaticWave string

// Wave implements WaveSource.
func (w StaticWave) Wave() string { return string(w) }
