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
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	calls   int
	fail    error
}

func newRecordingUploader() *recordingUploader {
	return &recordingUploader{objects: make(map[string][]byte)}
}

func (u *recordingUploader) Upload(_ context.Context, localPath, objectName string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.fail != nil {
		return u.fail
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	u.objects[objectName] = data
	return nil
}

func (u *recordingUploader) Close() error { return nil }

func TestMirror_SyncOnceUploadsChangedShards(t *testing.T) {
	s := newTestStore(t)
	u := newRecordingUploader()
	m := NewMirror(s, u, "study/wave-2", nil)

	require.NoError(t, s.Append(entryAt(fixedTime.UnixMilli(), KindLaunchConsentForm)))

	n, err := m.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, u.objects, "study/wave-2/wave-2_2025-03-14.jsonl")

	// Unchanged shard is skipped.
	n, err = m.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, u.calls)

	// Growth triggers a re-upload with the longer content.
	require.NoError(t, s.Append(entryAt(fixedTime.UnixMilli()+1, KindLaunchConsentForm)))
	n, err = m.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	local, err := os.ReadFile(s.Path("wave-2_2025-03-14.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, local, u.objects["study/wave-2/wave-2_2025-03-14.jsonl"])
}

func TestMirror_FailedUploadIsRetried(t *testing.T) {
	s := newTestStore(t)
	u := newRecordingUploader()
	u.fail = errors.New("bucket unavailable")
	m := NewMirror(s, u, "", nil)
	require.NoError(t, s.Append(entryAt(fixedTime.UnixMilli(), KindLaunchConsentForm)))

	_, err := m.SyncOnce(context.Background())
	require.Error(t, err)

	u.fail = nil
	n, err := m.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMirror_StartRejectsBadSchedule(t *testing.T) {
	m := NewMirror(newTestStore(t), newRecordingUploader(), "", nil)
	assert.Error(t, m.Start("every so often"))
}

func TestMirror_StopRunsFinalSync(t *testing.T) {
	s := newTestStore(t)
	u := newRecordingUploader()
	m := NewMirror(s, u, "", nil)

	require.NoError(t, m.Start("@every 1h"))
	assert.Error(t, m.Start("@every 1h"), "second start must fail")

	require.NoError(t, s.Append(entryAt(fixedTime.UnixMilli(), KindLaunchConsentForm)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
	assert.Contains(t, u.objects, "wave-2_2025-03-14.jsonl")
}
