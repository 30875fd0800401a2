// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package errs defines the error taxonomy shared by the study service.
//
// # Taxonomy
//
//	ValidationError       malformed client input          400
//	ErrUnauthorized       bad or missing secret           401
//	ErrNotFound           nothing to export               404
//	ErrTimeout            AI call exceeded its budget     504
//	StorageReadError      log store unreadable            500
//	StorageWriteError     log append failed               reported only
//
// Handlers map errors to status codes with errors.Is / errors.As. Storage
// write failures never reach an HTTP response; they are logged and counted.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrUnauthorized is returned when a request secret does not match the
	// configured export secret.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when an export is requested but no log
	// shards exist.
	ErrNotFound = errors.New("no logs found")

	// ErrTimeout is returned when the external AI service does not answer
	// within the gateway budget.
	ErrTimeout = errors.New("ai service timed out")
)

// =============================================================================
// Typed Errors
// =============================================================================

// ValidationError describes malformed client input.
//
// Details carries one message per offending field so handlers can surface
// them in the 400 response body.
type ValidationError struct {
	Message string
	Details []string
}

// Error implements error.
func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Details, "; ")
}

// Invalid builds a ValidationError from a message and optional details.
func Invalid(message string, details ...string) *ValidationError {
	return &ValidationError{Message: message, Details: details}
}

// StorageReadError wraps a failure to read persisted log shards.
type StorageReadError struct {
	Path string
	Err  error
}

func (e *StorageReadError) Error() string {
	return fmt.Sprintf("read log storage %s: %v", e.Path, e.Err)
}

func (e *StorageReadError) Unwrap() error { return e.Err }

// StorageWriteError wraps a failure to append a log entry.
type StorageWriteError struct {
	Path string
	Err  error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("write log storage %s: %v", e.Path, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

// =============================================================================
// HTTP Mapping
// =============================================================================

// HTTPStatus maps an error from the taxonomy to its HTTP status code.
//
// Unknown errors map to 500.
func HTTPStatus(err error) int {
	var validation *ValidationError
	var readErr *StorageReadError

	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &readErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
