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
	"log/slog"

	"github.com/AleutianAI/WritingStudy/services/studyapi/observability"
)

// Logger turns study events into LogEntry records and appends them.
//
// # Description
//
// LogEvent is the awaited write path. It validates the kind and its payload,
// stamps the timestamp, wave and commit, and appends to the store. Callers
// that must not wait use a Dispatcher on top of the same Logger.
//
// # Thread Safety
//
// Safe for concurrent use.
type Logger struct {
	store   *Store
	clock   Clock
	wave    WaveSource
	commit  string
	log     *slog.Logger
	metrics *observability.Metrics
}

// LoggerConfig configures a Logger.
type LoggerConfig struct {
	Store   *Store
	Clock   Clock
	Wave    WaveSource
	Commit  string
	Log     *slog.Logger
	Metrics *observability.Metrics
}

// NewLogger builds a Logger, defaulting the clock, wave and log handler.
func NewLogger(cfg LoggerConfig) *Logger {
	if cfg.Clock == nil {
		cfg.Clock = NewClock()
	}
	if cfg.Wave == nil {
		cfg.Wave = StaticWave("")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Logger{
		store:   cfg.Store,
		clock:   cfg.Clock,
		wave:    cfg.Wave,
		commit:  cfg.Commit,
		log:     cfg.Log,
		metrics: cfg.Metrics,
	}
}

// Store returns the backing store.
func (l *Logger) Store() *Store { return l.store }

// Entry builds the entry LogEvent would write, without writing it.
func (l *Logger) Entry(username, kind string, extra map[string]any) LogEntry {
	if extra == nil {
		extra = map[string]any{}
	}
	return LogEntry{
		Username:  username,
		Event:     kind,
		ExtraData: extra,
		Timestamp: l.clock.NowMs(),
		Wave:      l.wave.Wave(),
		Commit:    l.commit,
	}
}

// LogEvent validates and persists one event.
//
// # Inputs
//
//   - ctx: checked before the write. A cancelled context aborts the write.
//   - username: participant, may be empty.
//   - kind: event kind, see ValidateKind.
//   - extra: payload, validated against the kind's schema.
//
// # Outputs
//
//   - error: *errs.ValidationError for a bad kind or payload,
//     *errs.StorageWriteError when the append fails.
func (l *Logger) LogEvent(ctx context.Context, username, kind string, extra map[string]any) error {
	if err := ValidateKind(kind); err != nil {
		return err
	}
	if err := ValidatePayload(kind, extra); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.write(l.Entry(username, kind, extra))
}

func (l *Logger) write(entry LogEntry) error {
	err := l.store.Append(entry)
	l.metrics.RecordLogWrite(err == nil)
	if err != nil {
		l.log.Error("eventlog.write.failed",
			"event", entry.Event,
			"timestamp", entry.Timestamp,
			"error", err)
		return err
	}
	return nil
}
