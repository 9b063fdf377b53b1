// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides durable keyed-document storage for security state.
//
// Every record is a whole document replaced on each write. The security
// layer owns four records (identity, MFA secret, attempt state, audit log)
// and assumes last-writer-wins semantics; there is no cross-process locking
// because only one session can exist at a time.
package storage

import "errors"

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when a key has no stored document.
	ErrNotFound = errors.New("storage: key not found")

	// ErrIntegrity is returned when a stored document fails its
	// integrity check (truncated, corrupted, or tampered with).
	ErrIntegrity = errors.New("storage: integrity check failed")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("storage: store closed")
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is the durable storage contract injected into the security layer.
//
// Implementations must make Write atomic with respect to crashes: a reader
// observes either the previous document or the new one, never a partial
// write.
type Store interface {
	// Read returns the document stored under key, or ErrNotFound.
	Read(key string) ([]byte, error)

	// Write replaces the document stored under key.
	Write(key string, value []byte) error

	// Delete removes the document stored under key. Deleting a missing
	// key is not an error.
	Delete(key string) error

	// Close releases any resources held by the store.
	Close() error
}
