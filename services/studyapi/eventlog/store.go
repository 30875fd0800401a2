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
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/WritingStudy/services/studyapi/errs"
	"github.com/AleutianAI/WritingStudy/services/studyapi/observability"
)

const (
	// ShardExt is the extension of every log shard.
	ShardExt = ".jsonl"

	shardFileMode = 0640
	shardDirMode  = 0750

	// maxLineBytes bounds a single serialized entry when reading back.
	maxLineBytes = 16 * 1024 * 1024
)

// Store is the append-only shard store under one directory.
//
// # Description
//
// Entries are grouped into shards named "<wave>_<YYYY-MM-DD>.jsonl", the
// date taken from the entry timestamp in UTC. One open handle is kept per
// shard and every append is a single Write of one newline-terminated JSON
// object, serialized per shard by a mutex.
//
// # Thread Safety
//
// Safe for concurrent use. Separate processes appending to the same
// directory rely on O_APPEND for line atomicity.
type Store struct {
	dir     string
	log     *slog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	shards map[string]*shard
	closed bool
}

type shard struct {
	mu   sync.Mutex
	file *os.File
}

// OpenStore prepares a store rooted at dir, creating the directory.
func OpenStore(dir string, log *slog.Logger, metrics *observability.Metrics) (*Store, error) {
	if dir == "" {
		return nil, errors.New("eventlog: directory is required")
	}
	if err := os.MkdirAll(dir, shardDirMode); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		dir:     dir,
		log:     log,
		metrics: metrics,
		shards:  make(map[string]*shard),
	}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// ShardName returns the shard an entry belongs to.
func ShardName(wave string, ts time.Time) string {
	return sanitizeWave(wave) + "_" + ts.UTC().Format("2006-01-02") + ShardExt
}

func sanitizeWave(wave string) string {
	if wave == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '-'
		}
	}, wave)
}

// Append writes entry to its shard.
//
// # Outputs
//
//   - error: *errs.StorageWriteError when the shard cannot be opened or
//     written.
func (s *Store) Append(entry LogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return &errs.StorageWriteError{Path: s.dir, Err: fmt.Errorf("marshal entry: %w", err)}
	}
	line = append(line, '\n')

	name := ShardName(entry.Wave, entry.Time())
	sh, err := s.shard(name)
	if err != nil {
		return err
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, err := sh.file.Write(line); err != nil {
		return &errs.StorageWriteError{Path: filepath.Join(s.dir, name), Err: err}
	}
	return nil
}

func (s *Store) shard(name string) (*shard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &errs.StorageWriteError{Path: s.dir, Err: errors.New("store closed")}
	}
	if sh, ok := s.shards[name]; ok {
		return sh, nil
	}

	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, shardFileMode)
	if err != nil {
		return nil, &errs.StorageWriteError{Path: path, Err: err}
	}
	sh := &shard{file: f}
	s.shards[name] = sh
	s.log.Info("eventlog.shard.opened", "shard", name)
	return sh, nil
}

// Files lists persisted shard names in lexical order.
//
// A missing directory yields an empty list.
func (s *Store) Files() ([]string, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &errs.StorageReadError{Path: s.dir, Err: err}
	}

	var names []string
	for _, d := range dirents {
		if d.Type().IsRegular() && strings.HasSuffix(d.Name(), ShardExt) {
			names = append(names, d.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Path returns the absolute location of a shard listed by Files.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Poll returns every entry with a timestamp strictly greater than since.
//
// # Description
//
// Shards are scanned in name order and entries sorted stably by timestamp,
// so entries with equal timestamps keep their on-disk order. Lines that do
// not decode are skipped and counted.
//
// # Outputs
//
//   - []LogEntry: matching entries, ascending. Never nil.
//   - error: *errs.StorageReadError when a shard cannot be read.
func (s *Store) Poll(since int64) ([]LogEntry, error) {
	names, err := s.Files()
	if err != nil {
		return nil, err
	}

	out := []LogEntry{}
	for _, name := range names {
		entries, err := s.readShard(name, since)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out, nil
}

func (s *Store) readShard(name string, since int64) ([]LogEntry, error) {
	path := s.Path(name)
	file, err := os.Open(path)
	if err != nil {
		return nil, &errs.StorageReadError{Path: path, Err: err}
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var out []LogEntry
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			s.metrics.RecordSkippedEntry()
			s.log.Warn("eventlog.read.skipped_line", "shard", name, "error", err)
			continue
		}
		if entry.Timestamp > since {
			out = append(out, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &errs.StorageReadError{Path: path, Err: err}
	}
	return out, nil
}

// Sync flushes every open shard to stable storage.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errList []error
	for name, sh := range s.shards {
		sh.mu.Lock()
		if err := sh.file.Sync(); err != nil {
			errList = append(errList, fmt.Errorf("sync %s: %w", name, err))
		}
		sh.mu.Unlock()
	}
	return errors.Join(errList...)
}

// Close syncs and closes all shard handles. Appends after Close fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errList []error
	for name, sh := range s.shards {
		sh.mu.Lock()
		if err := sh.file.Sync(); err != nil {
			errList = append(errList, fmt.Errorf("sync %s: %w", name, err))
		}
		if err := sh.file.Close(); err != nil {
			errList = append(errList, fmt.Errorf("close %s: %w", name, err))
		}
		sh.mu.Unlock()
	}
	s.shards = nil
	return errors.Join(errList...)
}
