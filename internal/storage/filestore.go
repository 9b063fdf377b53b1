// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// =============================================================================
// FILE STORE
// =============================================================================

const (
	// integrityKeyFile is the sidecar file holding the HMAC key for
	// document integrity trailers.
	integrityKeyFile = ".integrity_key"

	// integrityKeySize is the HMAC-SHA256 key size in bytes.
	integrityKeySize = 32

	// trailerSize is the length of the HMAC-SHA256 trailer appended to
	// every document on disk.
	trailerSize = sha256.Size
)

// FileStore persists each key as a separate file in a state directory.
//
// Every document carries an HMAC-SHA256 trailer keyed by a per-directory
// integrity key, so external modification, truncation, or replacement of a
// state file is detected on the next read and surfaced as ErrIntegrity.
// Writes use the temp-file + fsync + rename pattern for crash consistency.
type FileStore struct {
	dir    string
	key    []byte
	mu     sync.Mutex
	closed bool
}

// NewFileStore opens (creating if necessary) a file store rooted at dir.
// The integrity key is loaded from the sidecar key file, or generated and
// saved on first use. Failure here is a startup precondition violation for
// the security layer, so it is returned rather than deferred.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: directory required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("file store: failed to create state directory: %w", err)
	}

	fs := &FileStore{dir: dir}
	if err := fs.initIntegrityKey(); err != nil {
		return nil, err
	}
	return fs, nil
}

// initIntegrityKey loads the sidecar key file or generates a fresh key.
func (s *FileStore) initIntegrityKey() error {
	keyPath := filepath.Join(s.dir, integrityKeyFile)

	data, err := os.ReadFile(keyPath)
	if err == nil && len(data) == integrityKeySize {
		s.key = data
		return nil
	}

	key := make([]byte, integrityKeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("file store: failed to generate integrity key: %w", err)
	}
	s.key = key

	if err := s.atomicWrite(keyPath, key, 0600); err != nil {
		return fmt.Errorf("file store: failed to save integrity key: %w", err)
	}
	return nil
}

// Read returns the document stored under key after verifying its trailer.
func (s *FileStore) Read(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	payload, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("file store: read %s: %w", key, err)
	}

	if len(payload) < trailerSize {
		return nil, ErrIntegrity
	}

	data := payload[:len(payload)-trailerSize]
	sig := payload[len(payload)-trailerSize:]

	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, ErrIntegrity
	}

	return data, nil
}

// Write replaces the document stored under key, appending an HMAC trailer.
func (s *FileStore) Write(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	mac := hmac.New(sha256.New, s.key)
	mac.Write(value)
	payload := append(append([]byte(nil), value...), mac.Sum(nil)...)

	if err := s.atomicWrite(s.pathFor(key), payload, 0600); err != nil {
		return fmt.Errorf("file store: write %s: %w", key, err)
	}
	return nil
}

// Delete removes the document stored under key.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if err := os.Remove(s.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("file store: delete %s: %w", key, err)
	}
	return nil
}

// Close zeroes the integrity key and marks the store closed.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.key {
		s.key[i] = 0
	}
	s.key = nil
	s.closed = true
	return nil
}

// Dir returns the state directory backing this store.
func (s *FileStore) Dir() string {
	return s.dir
}

// pathFor maps a record key to its on-disk path. Keys are restricted to
// the fixed set used by the security layer, but path separators are
// stripped anyway so a hostile key cannot escape the state directory.
func (s *FileStore) pathFor(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '.':
			return '_'
		}
		return r
	}, key)
	return filepath.Join(s.dir, safe+".json")
}

// atomicWrite writes data to path via a temp file in the same directory,
// fsyncing the file before and the directory after the rename. The rename
// is the commit point; a crash leaves either the old document or the new
// one, never a partial write.
func (s *FileStore) atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".state_*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set temp file permissions: %w", err)
	}
	if n, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	} else if n != len(data) {
		return fmt.Errorf("short write: wrote %d of %d bytes", n, len(data))
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true

	if runtime.GOOS != "windows" {
		if d, err := os.Open(dir); err == nil {
			_ = d.Sync()
			_ = d.Close()
		}
	}

	return nil
}
