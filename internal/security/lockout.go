// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/jeranaias/msis-authcore/internal/storage"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultMaxAttempts is the number of consecutive failures that
	// triggers a lockout.
	DefaultMaxAttempts = 5

	// DefaultLockoutDuration is how long a lockout lasts.
	DefaultLockoutDuration = 15 * time.Minute

	// KeyAttempts is the storage key for the attempt state record.
	KeyAttempts = "msis_sec_attempts"
)

// =============================================================================
// ATTEMPT STATE
// =============================================================================

// AttemptState is the persisted failure-tracking record. Lockout is keyed
// to the single administrative identity, not to a caller address: the
// protected surface has exactly one account.
type AttemptState struct {
	Count        int       `json:"count"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
	LockoutUntil time.Time `json:"lockout_until,omitempty"`
}

// LockoutStatus reports the current lockout to callers, including the
// remaining seconds a countdown display needs.
type LockoutStatus struct {
	Locked           bool
	RemainingSeconds int
}

// =============================================================================
// ATTEMPT TRACKER
// =============================================================================

// AttemptTracker counts consecutive authentication failures and enforces
// the timed lockout window. State is persisted after every mutation so a
// lockout survives process restart. Expiry is evaluated lazily at read
// time; no background timer exists.
type AttemptTracker struct {
	store           storage.Store
	audit           *AuditLog
	maxAttempts     int
	lockoutDuration time.Duration
	state           AttemptState
	now             func() time.Time
	mu              sync.Mutex
}

// AttemptTrackerOption is a functional option for configuring AttemptTracker.
type AttemptTrackerOption func(*AttemptTracker)

// WithMaxAttempts sets the failure threshold.
func WithMaxAttempts(max int) AttemptTrackerOption {
	return func(t *AttemptTracker) {
		if max > 0 {
			t.maxAttempts = max
		}
	}
}

// WithLockoutDuration sets the lockout window length.
func WithLockoutDuration(d time.Duration) AttemptTrackerOption {
	return func(t *AttemptTracker) {
		if d > 0 {
			t.lockoutDuration = d
		}
	}
}

// NewAttemptTracker creates an AttemptTracker backed by the given store
// and loads persisted state. An unreadable attempt record (other than
// absence) fails construction: attempt state that cannot be trusted must
// not silently reset to zero.
func NewAttemptTracker(store storage.Store, audit *AuditLog, opts ...AttemptTrackerOption) (*AttemptTracker, error) {
	t := &AttemptTracker{
		store:           store,
		audit:           audit,
		maxAttempts:     DefaultMaxAttempts,
		lockoutDuration: DefaultLockoutDuration,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	doc, err := store.Read(KeyAttempts)
	switch {
	case err == nil:
		if err := json.Unmarshal(doc, &t.state); err != nil {
			return nil, fmt.Errorf("attempt tracker: failed to parse attempt state: %w", err)
		}
	case errors.Is(err, storage.ErrNotFound):
		// No failures recorded.
	default:
		return nil, fmt.Errorf("attempt tracker: failed to load attempt state: %w", err)
	}

	return t, nil
}

// Status reports the current lockout. A lockout whose window has passed is
// cleared here as a side effect, so no background timer is needed for
// correctness; a countdown display may poll this at 1Hz for presentation.
func (t *AttemptTracker) Status() LockoutStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.LockoutUntil.IsZero() {
		return LockoutStatus{}
	}

	remaining := t.state.LockoutUntil.Sub(t.now())
	if remaining <= 0 {
		// Lazy clear: the window has passed.
		t.state = AttemptState{}
		t.persistLocked()
		return LockoutStatus{}
	}

	return LockoutStatus{
		Locked:           true,
		RemainingSeconds: int(math.Ceil(remaining.Seconds())),
	}
}

// FailureCount returns the current consecutive-failure count.
func (t *AttemptTracker) FailureCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Count
}

// RecordFailure increments the failure count and, on reaching the
// threshold, opens the lockout window and emits a CRITICAL audit entry.
// State is persisted on every call.
func (t *AttemptTracker) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.state.Count++
	t.state.LastFailure = now

	if t.state.Count >= t.maxAttempts && t.state.LockoutUntil.IsZero() {
		t.state.LockoutUntil = now.Add(t.lockoutDuration)
		if t.audit != nil {
			t.audit.Append("SECURITY",
				fmt.Sprintf("System locked due to %d failed login attempts.", t.maxAttempts),
				SeverityCritical)
		}
	}

	t.persistLocked()
}

// RecordSuccess clears the failure count and any lockout entirely.
func (t *AttemptTracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = AttemptState{}
	if err := t.store.Delete(KeyAttempts); err != nil {
		fmt.Fprintf(os.Stderr, "STATE ERROR: failed to clear attempt state: %v\n", err)
	}
}

// Unlock is the administrative reset: it clears the attempt state and
// records the action. Exposed through the operator CLI only.
func (t *AttemptTracker) Unlock() {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasLocked := !t.state.LockoutUntil.IsZero()
	t.state = AttemptState{}
	if err := t.store.Delete(KeyAttempts); err != nil {
		fmt.Fprintf(os.Stderr, "STATE ERROR: failed to clear attempt state: %v\n", err)
	}

	if t.audit != nil && wasLocked {
		t.audit.Append("SECURITY", "Lockout cleared by administrator", SeverityInfo)
	}
}

// persistLocked writes the attempt state (caller must hold the lock).
// Persistence failure here must not block the authentication flow; it is
// reported on stderr like any other observability degradation.
func (t *AttemptTracker) persistLocked() {
	doc, err := json.Marshal(t.state)
	if err != nil {
		fmt.Fprintf(os.Stderr, "STATE ERROR: failed to encode attempt state: %v\n", err)
		return
	}
	if err := t.store.Write(KeyAttempts, doc); err != nil {
		fmt.Fprintf(os.Stderr, "STATE ERROR: failed to persist attempt state: %v\n", err)
	}
}
