// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/msis-authcore/internal/storage"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// KeyAuditLog is the storage key for the audit log record.
	KeyAuditLog = "msis_sec_audit"

	// MaxAuditEntries caps the retained log; the oldest entry is evicted
	// when a new one would exceed it.
	MaxAuditEntries = 100
)

// Severity classifies an audit entry.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// =============================================================================
// AUDIT ENTRY
// =============================================================================

// AuditEntry is a single security event. Entries are never mutated after
// creation; the whole log can be cleared only by clearing persisted state.
type AuditEntry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Action       string    `json:"action"`
	Details      string    `json:"details"`
	Severity     Severity  `json:"severity"`
	ActorContext string    `json:"actor_context"`
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AuditLog is the append-only, capped security event log. Append is
// fire-and-forget: a persistence failure degrades observability, never the
// security operation that triggered the entry.
type AuditLog struct {
	store   storage.Store
	entries []AuditEntry // newest first
	actor   string
	now     func() time.Time
	mu      sync.Mutex
}

// AuditLogOption is a functional option for configuring AuditLog.
type AuditLogOption func(*AuditLog)

// WithActorContext sets the caller fingerprint recorded on every entry.
// The host UI passes its user-agent equivalent; the default identifies the
// local process host.
func WithActorContext(actor string) AuditLogOption {
	return func(l *AuditLog) {
		if actor != "" {
			l.actor = actor
		}
	}
}

// NewAuditLog creates an AuditLog backed by the given store and loads any
// persisted entries. A corrupt or unreadable log record starts the log
// empty rather than failing: the triggering operations must stay available.
func NewAuditLog(store storage.Store, opts ...AuditLogOption) *AuditLog {
	l := &AuditLog{
		store: store,
		actor: defaultActorContext(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	doc, err := store.Read(KeyAuditLog)
	switch {
	case err == nil:
		if err := json.Unmarshal(doc, &l.entries); err != nil {
			fmt.Fprintf(os.Stderr, "AUDIT ERROR: failed to parse persisted audit log: %v\n", err)
			l.entries = nil
		}
	case errors.Is(err, storage.ErrNotFound):
		// First run.
	default:
		fmt.Fprintf(os.Stderr, "AUDIT ERROR: failed to load persisted audit log: %v\n", err)
	}

	return l
}

// Append records a security event. It never returns an error to the
// caller; persistence failures are reported on stderr only.
func (l *AuditLog) Append(action, details string, severity Severity) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := AuditEntry{
		ID:           uuid.NewString(),
		Timestamp:    l.now(),
		Action:       action,
		Details:      details,
		Severity:     severity,
		ActorContext: l.actor,
	}

	l.entries = append([]AuditEntry{entry}, l.entries...)
	if len(l.entries) > MaxAuditEntries {
		l.entries = l.entries[:MaxAuditEntries]
	}

	doc, err := json.Marshal(l.entries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "AUDIT ERROR: failed to encode audit log: %v\n", err)
		return
	}
	if err := l.store.Write(KeyAuditLog, doc); err != nil {
		fmt.Fprintf(os.Stderr, "AUDIT ERROR: failed to persist audit log: %v\n", err)
	}
}

// Entries returns the retained log, newest first. The returned slice is a
// copy; callers cannot mutate the log through it.
func (l *AuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// defaultActorContext identifies the local process host, standing in for
// the browser user-agent the UI layer would otherwise supply.
func defaultActorContext() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s (%s/%s)", host, runtime.GOOS, runtime.GOARCH)
}
