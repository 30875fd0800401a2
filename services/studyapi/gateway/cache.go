// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/WritingStudy/services/studyapi/datatypes"
)

// =============================================================================
// Cache Configuration
// =============================================================================

// CacheConfig configures the reflection cache.
//
// # Fields
//
//   - Path: Directory for the badger files. Ignored when InMemory is true.
//   - InMemory: Keep entries in memory only. Used by tests.
//   - TTL: Entry lifetime. Zero keeps entries until GC.
//   - GCInterval: Value log GC period. Zero disables GC.
//   - Logger: Receives badger's internal logging. Nil silences it.
type CacheConfig struct {
	Path       string
	InMemory   bool
	TTL        time.Duration
	GCInterval time.Duration
	Logger     *slog.Logger
}

// DefaultCacheConfig returns production defaults rooted at path.
func DefaultCacheConfig(path string) CacheConfig {
	return CacheConfig{
		Path:       path,
		TTL:        7 * 24 * time.Hour,
		GCInterval: 10 * time.Minute,
	}
}

const (
	cacheKeyPrefix = "reflection/"
	gcDiscardRatio = 0.5
	cacheDirMode   = 0750
)

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// Reflection Cache
// =============================================================================

// ReflectionCache stores parsed reflections keyed by (prompt, paragraph).
//
// # Description
//
// Entries live in a badger database so they survive restarts. Concurrent
// misses for the same key are collapsed with singleflight so only one AI
// call is made.
//
// # Thread Safety
//
// Safe for concurrent use.
type ReflectionCache struct {
	db    *badger.DB
	ttl   time.Duration
	group singleflight.Group
	log   *slog.Logger

	gcStop chan struct{}
	gcDone chan struct{}
}

// OpenReflectionCache opens (or creates) the cache database.
func OpenReflectionCache(cfg CacheConfig) (*ReflectionCache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, cacheDirMode); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open reflection cache: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &ReflectionCache{db: db, ttl: cfg.TTL, log: log}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		c.gcStop = make(chan struct{})
		c.gcDone = make(chan struct{})
		go c.runGC(cfg.GCInterval)
	}
	return c, nil
}

// CacheKey derives the storage key for a reflection request.
func CacheKey(prompt, paragraph string) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write([]byte(paragraph))
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns cached reflections for key.
func (c *ReflectionCache) Get(ctx context.Context, key string) ([]datatypes.ReflectionItem, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var items []datatypes.ReflectionItem
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &items)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read reflection cache: %w", err)
	}
	return items, true, nil
}

// Put stores reflections under key.
func (c *ReflectionCache) Put(ctx context.Context, key string, items []datatypes.ReflectionItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode reflections: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), val)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Fetch returns cached reflections for key or calls load once across all
// concurrent callers and caches its result.
//
// # Outputs
//
//   - []datatypes.ReflectionItem: the reflections.
//   - bool: true when served from the cache without calling load.
//   - error: load's error. Cache read/write failures are logged and
//     treated as misses.
func (c *ReflectionCache) Fetch(ctx context.Context, key string, load func(context.Context) ([]datatypes.ReflectionItem, error)) ([]datatypes.ReflectionItem, bool, error) {
	if items, ok, err := c.Get(ctx, key); err != nil {
		c.log.Warn("gateway.cache.read_failed", "error", err)
	} else if ok {
		return items, true, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		items, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if perr := c.Put(context.WithoutCancel(ctx), key, items); perr != nil {
			c.log.Warn("gateway.cache.write_failed", "error", perr)
		}
		return items, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]datatypes.ReflectionItem), false, nil
}

func (c *ReflectionCache) runGC(interval time.Duration) {
	defer close(c.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.gcStop:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing to collect.
			if err := c.db.RunValueLogGC(gcDiscardRatio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				c.log.Warn("gateway.cache.gc_failed", "error", err)
			}
		}
	}
}

// Close stops GC and closes the database.
func (c *ReflectionCache) Close() error {
	if c.gcStop != nil {
		close(c.gcStop)
		<-c.gcDone
	}
	return c.db.Close()
}
