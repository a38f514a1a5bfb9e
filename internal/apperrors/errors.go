// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

// Package apperrors defines the error taxonomy shared by every layer of the
// artifact core. Callers classify failures with errors.Is against the
// sentinels below; layers add context with fmt.Errorf and %w.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates a malformed request that was rejected before
	// touching any backend.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates the artifact or version does not exist.
	ErrNotFound = errors.New("artifact not found")

	// ErrLockContention indicates a mutation was blocked by an existing
	// lock lease held by another instance.
	ErrLockContention = errors.New("artifact lock held by another instance")

	// ErrIntegrity indicates checksum or compression corruption was
	// detected in stored or cached content.
	ErrIntegrity = errors.New("content integrity violation")

	// ErrConsistency indicates divergence between the cache and the store.
	ErrConsistency = errors.New("cache/store consistency violation")

	// ErrBackendUnavailable indicates the store or coordination backend is
	// unreachable. Coordination unavailability must degrade to store-only
	// operation, never fail a request that could succeed against the store.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Validationf wraps ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// NotFoundf wraps ErrNotFound with a formatted reason.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsLockContention reports whether err is a lock contention failure.
func IsLockContention(err error) bool { return errors.Is(err, ErrLockContention) }

// IsIntegrity reports whether err is an integrity failure.
func IsIntegrity(err error) bool { return errors.Is(err, ErrIntegrity) }

// IsBackendUnavailable reports whether err is a backend availability failure.
func IsBackendUnavailable(err error) bool { return errors.Is(err, ErrBackendUnavailable) }
