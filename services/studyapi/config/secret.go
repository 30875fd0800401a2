// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"log/slog"

	"github.com/awnumar/memguard"

	"github.com/AleutianAI/WritingStudy/services/studyapi/eventlog"
)

// EnclaveSecret holds the log secret encrypted in memory.
//
// # Description
//
// The plaintext is only decrypted into a locked buffer for the duration of
// a comparison and wiped straight after. An empty secret creates no
// enclave and matches nothing.
//
// # Thread Safety
//
// Matches is safe for concurrent use.
type EnclaveSecret struct {
	enclave *memguard.Enclave
}

// NewEnclaveSecret seals secret. The caller's copy is not wiped; the
// Config field it came from should be cleared once this returns.
func NewEnclaveSecret(secret string) *EnclaveSecret {
	if secret == "" {
		return &EnclaveSecret{}
	}
	// NewEnclave wipes its argument, so give it a private copy.
	return &EnclaveSecret{enclave: memguard.NewEnclave([]byte(secret))}
}

// Set reports whether a non-empty secret is held.
func (s *EnclaveSecret) Set() bool { return s != nil && s.enclave != nil }

// Matches implements eventlog.Secret.
func (s *EnclaveSecret) Matches(candidate string) bool {
	if !s.Set() {
		return false
	}
	buf, err := s.enclave.Open()
	if err != nil {
		slog.Error("config.secret.open_failed", "error", err)
		return false
	}
	defer buf.Destroy()
	return eventlog.ConstantTimeMatch(buf.Bytes(), []byte(candidate))
}

var _ eventlog.Secret = (*EnclaveSecret)(nil)
