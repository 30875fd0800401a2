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
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/AleutianAI/WritingStudy/services/studyapi/errs"
	"github.com/AleutianAI/WritingStudy/services/studyapi/observability"
)

// =============================================================================
// Secret
// =============================================================================

// Secret checks a caller-supplied researcher secret.
type Secret interface {
	// Matches reports whether candidate equals the configured secret. An
	// unset secret matches nothing.
	Matches(candidate string) bool
}

// StaticSecret is a Secret held as a plain string.
type StaticSecret string

// Matches implements Secret with a constant-time comparison.
func (s StaticSecret) Matches(candidate string) bool {
	return ConstantTimeMatch([]byte(s), []byte(candidate))
}

// ConstantTimeMatch compares a configured secret with a candidate. An empty
// configured secret never matches.
func ConstantTimeMatch(configured, candidate []byte) bool {
	if len(configured) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(configured, candidate) == 1
}

// =============================================================================
// Exporter
// =============================================================================

// Exporter serves researcher reads of the shard store.
//
// # Description
//
// Export is split into Authorize and Stream so an HTTP handler can decide
// the status code before any archive bytes are written. WriteZip runs both.
//
// # Thread Safety
//
// Safe for concurrent use. Shards may be appended while an export runs; each
// shard is copied up to the size it had when its zip entry was started, so
// no partial trailing line is ever exported.
type Exporter struct {
	store   *Store
	secret  Secret
	log     *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewExporter builds an Exporter over store guarded by secret.
func NewExporter(store *Store, secret Secret, log *slog.Logger, metrics *observability.Metrics) *Exporter {
	if log == nil {
		log = slog.Default()
	}
	if secret == nil {
		secret = StaticSecret("")
	}
	return &Exporter{
		store:   store,
		secret:  secret,
		log:     log,
		metrics: metrics,
		now:     time.Now,
	}
}

// Authorize checks secret and lists the shards to export.
//
// # Outputs
//
//   - []string: shard names, never empty on success.
//   - error: errs.ErrUnauthorized on a wrong or unset secret,
//     errs.ErrNotFound when no shards exist, *errs.StorageReadError
//     when the directory cannot be listed.
func (e *Exporter) Authorize(secret string) ([]string, error) {
	if !e.secret.Matches(secret) {
		return nil, errs.ErrUnauthorized
	}
	names, err := e.store.Files()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no log files: %w", errs.ErrNotFound)
	}
	return names, nil
}

// Poll authorizes and returns entries newer than since.
func (e *Exporter) Poll(secret string, since int64) ([]LogEntry, error) {
	if !e.secret.Matches(secret) {
		return nil, errs.ErrUnauthorized
	}
	return e.store.Poll(since)
}

// ArchiveName returns the download name for an export started now.
func (e *Exporter) ArchiveName() string {
	return "logs-" + e.now().UTC().Format("2006-01-02T15-04-05Z") + ".zip"
}

// Stream writes a zip archive of names to w, one shard at a time.
//
// Entry names are the shard file names and entry content is byte-identical
// to the shard. Nothing is buffered beyond the current copy window.
func (e *Exporter) Stream(ctx context.Context, names []string, w io.Writer) error {
	zw := zip.NewWriter(w)
	var total int64

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			return err
		}
		n, err := e.addShard(zw, name)
		total += n
		if err != nil {
			_ = zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish zip archive: %w", err)
	}
	e.metrics.RecordExportBytes(total)
	e.log.Info("eventlog.export.completed", "shards", len(names), "bytes", total)
	return nil
}

func (e *Exporter) addShard(zw *zip.Writer, name string) (int64, error) {
	path := e.store.Path(name)
	f, err := os.Open(path)
	if err != nil {
		return 0, &errs.StorageReadError{Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, &errs.StorageReadError{Path: path, Err: err}
	}

	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	}
	entry, err := zw.CreateHeader(hdr)
	if err != nil {
		return 0, fmt.Errorf("create zip entry %s: %w", name, err)
	}
	n, err := io.CopyN(entry, f, info.Size())
	if err != nil {
		return n, fmt.Errorf("copy shard %s: %w", name, err)
	}
	return n, nil
}

// WriteZip authorizes and streams the archive.
//
// # Outputs
//
//   - error: see Authorize, or a write error from w.
func (e *Exporter) WriteZip(ctx context.Context, secret string, w io.Writer) error {
	names, err := e.Authorize(secret)
	if err != nil {
		return err
	}
	return e.Stream(ctx, names, w)
}
