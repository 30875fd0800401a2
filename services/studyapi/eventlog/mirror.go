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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/robfig/cron/v3"
	"google.golang.org/api/option"
)

// =============================================================================
// Object Uploader
// =============================================================================

// ObjectUploader copies one local file to durable object storage.
type ObjectUploader interface {
	Upload(ctx context.Context, localPath, objectName string) error
	Close() error
}

// GCSUploader uploads shards to a Google Cloud Storage bucket.
type GCSUploader struct {
	client *storage.Client
	bucket string
}

// NewGCSUploader connects to GCS. An empty credentialsFile uses
// application default credentials.
func NewGCSUploader(ctx context.Context, bucket, credentialsFile string) (*GCSUploader, error) {
	if bucket == "" {
		return nil, errors.New("mirror bucket is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not accessible at %s: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	return &GCSUploader{client: client, bucket: bucket}, nil
}

// Upload implements ObjectUploader.
func (u *GCSUploader) Upload(ctx context.Context, localPath, objectName string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	w := u.client.Bucket(u.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy %s to gs://%s/%s: %w", localPath, u.bucket, objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", u.bucket, objectName, err)
	}
	return nil
}

// Close releases the storage client.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}

// =============================================================================
// Mirror
// =============================================================================

var mirrorScheduleParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Mirror periodically copies every shard to object storage.
//
// # Description
//
// Shards only grow, so each sync re-uploads the whole file and the remote
// copy is overwritten with a longer version of itself. A shard whose size
// and modification time are unchanged since its last successful upload is
// skipped.
//
// # Thread Safety
//
// SyncOnce is serialized. Start and Stop are safe to call from any goroutine.
type Mirror struct {
	store    *Store
	uploader ObjectUploader
	prefix   string
	log      *slog.Logger

	syncMu   sync.Mutex
	uploaded map[string]shardStamp

	mu    sync.Mutex
	sched *cron.Cron
}

type shardStamp struct {
	size    int64
	modTime time.Time
}

// NewMirror builds a mirror of store under prefix.
func NewMirror(store *Store, uploader ObjectUploader, prefix string, log *slog.Logger) *Mirror {
	if log == nil {
		log = slog.Default()
	}
	return &Mirror{
		store:    store,
		uploader: uploader,
		prefix:   prefix,
		log:      log,
		uploaded: make(map[string]shardStamp),
	}
}

// SyncOnce uploads shards changed since the previous sync.
//
// # Outputs
//
//   - int: shards uploaded.
//   - error: joined upload errors. Successful uploads are kept.
func (m *Mirror) SyncOnce(ctx context.Context) (int, error) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	names, err := m.store.Files()
	if err != nil {
		return 0, err
	}

	var (
		uploaded int
		errList  []error
	)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			errList = append(errList, err)
			break
		}
		local := m.store.Path(name)
		info, err := os.Stat(local)
		if err != nil {
			errList = append(errList, fmt.Errorf("stat %s: %w", name, err))
			continue
		}
		stamp := shardStamp{size: info.Size(), modTime: info.ModTime()}
		if prev, ok := m.uploaded[name]; ok && prev == stamp {
			continue
		}
		if err := m.uploader.Upload(ctx, local, path.Join(m.prefix, name)); err != nil {
			errList = append(errList, err)
			continue
		}
		m.uploaded[name] = stamp
		uploaded++
	}
	return uploaded, errors.Join(errList...)
}

// Start schedules SyncOnce on spec, e.g. "@every 5m" or "0 */10 * * * *".
// Overlapping runs are skipped.
func (m *Mirror) Start(spec string) error {
	schedule, err := mirrorScheduleParser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse mirror schedule %q: %w", spec, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sched != nil {
		return errors.New("mirror is already running")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(schedule, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		n, err := m.SyncOnce(ctx)
		if err != nil {
			m.log.Warn("eventlog.mirror.sync_failed", "uploaded", n, "error", err)
			return
		}
		if n > 0 {
			m.log.Info("eventlog.mirror.synced", "uploaded", n)
		}
	}))
	c.Start()
	m.sched = c
	m.log.Info("eventlog.mirror.started", "schedule", spec, "prefix", m.prefix)
	return nil
}

// Stop halts the schedule, waits for a running sync, then runs a final sync
// so the remote copy includes everything written before shutdown.
func (m *Mirror) Stop(ctx context.Context) error {
	m.mu.Lock()
	c := m.sched
	m.sched = nil
	m.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	_, err := m.SyncOnce(ctx)
	return err
}
