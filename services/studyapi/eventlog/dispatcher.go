// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/WritingStudy/services/studyapi/observability"
)

// =============================================================================
// Dispatcher
// =============================================================================

// DispatcherConfig holds dispatcher sizing.
//
// # Fields
//
//   - QueueSize: Buffered writes before overflow goroutines are used. Default: 256.
//   - Workers: Goroutines draining the queue. Default: 2.
type DispatcherConfig struct {
	QueueSize int
	Workers   int
}

// DefaultDispatcherConfig returns the production sizing.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize: 256,
		Workers:   2,
	}
}

type pendingWrite struct {
	entry LogEntry
}

// Dispatcher is the fire-and-forget write path.
//
// # Description
//
// Dispatch builds the entry immediately, so its timestamp reflects when the
// event happened, and schedules the append before returning. The entry goes
// onto a bounded queue drained by worker goroutines; when the queue is full
// a tracked goroutine performs the write instead, so a write is never
// dropped. Failures are logged and counted, never returned.
//
// # Thread Safety
//
// Dispatch is safe for concurrent use. Dispatch after Close writes inline.
type Dispatcher struct {
	logger  *Logger
	log     *slog.Logger
	metrics *observability.Metrics

	queue    chan pendingWrite
	workers  sync.WaitGroup
	overflow sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher starts the worker goroutines.
func NewDispatcher(logger *Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultDispatcherConfig().QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultDispatcherConfig().Workers
	}
	d := &Dispatcher{
		logger:  logger,
		log:     logger.log,
		metrics: logger.metrics,
		queue:   make(chan pendingWrite, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	d.workers.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.run()
	}
	return d
}

func (d *Dispatcher) run() {
	defer d.workers.Done()
	for w := range d.queue {
		d.flush(w)
	}
}

func (d *Dispatcher) flush(w pendingWrite) {
	defer d.metrics.QueueAdd(-1)
	_ = d.logger.write(w.entry)
}

// Dispatch schedules one event for writing and returns immediately.
//
// Kind and payload problems are reported to the operational log and the
// entry is dropped; they indicate a programming error in the caller.
func (d *Dispatcher) Dispatch(username, kind string, extra map[string]any) {
	if err := ValidateKind(kind); err != nil {
		d.reject(kind, err)
		return
	}
	if err := ValidatePayload(kind, extra); err != nil {
		d.reject(kind, err)
		return
	}
	entry := d.logger.Entry(username, kind, extra)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		_ = d.logger.write(entry)
		return
	}

	d.metrics.QueueAdd(1)
	select {
	case d.queue <- pendingWrite{entry: entry}:
	default:
		d.overflow.Add(1)
		go func() {
			defer d.overflow.Done()
			d.flush(pendingWrite{entry: entry})
		}()
	}
}

func (d *Dispatcher) reject(kind string, err error) {
	d.metrics.RecordLogWrite(false)
	d.log.Error("eventlog.dispatch.rejected", "event", kind, "error", err)
}

// Close stops accepting queued writes and waits for every scheduled write.
//
// # Outputs
//
//   - error: ctx.Err() if the context ends before the drain completes. The
//     remaining writes still finish in the background.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
		go func() {
			d.workers.Wait()
			d.overflow.Wait()
			close(d.done)
		}()
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain event log dispatcher: %w", ctx.Err())
	}
}
