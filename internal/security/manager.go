// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultIdleTimeout is how long an authenticated session survives
	// without an activity signal before it is ended.
	DefaultIdleTimeout = 10 * time.Minute
)

// =============================================================================
// MANAGER
// =============================================================================

// Manager orchestrates login (credential check, then MFA enrollment or
// verification), tracks the live session, and enforces the inactivity
// timeout. It is designed for a single active session at a time.
type Manager struct {
	mu      sync.Mutex
	creds   *CredentialStore
	tracker *AttemptTracker
	audit   *AuditLog
	mfa     *MFAEngine

	state         AuthState
	session       *Session
	pendingSecret string

	idleTimeout      time.Duration
	idleTimer        *time.Timer
	timerGen         uint64
	strictEnrollment bool

	now func() time.Time
}

// ManagerOption is a functional option for configuring Manager.
type ManagerOption func(*Manager)

// WithIdleTimeout sets the inactivity timeout for authenticated sessions.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

// WithStrictEnrollment requires one valid code from the pending secret
// before enrollment is persisted. The default preserves the lenient
// behavior of trusting the caller's "I have scanned it" assertion.
func WithStrictEnrollment(strict bool) ManagerOption {
	return func(m *Manager) {
		m.strictEnrollment = strict
	}
}

// NewManager creates a Manager over the given collaborators.
func NewManager(creds *CredentialStore, tracker *AttemptTracker, audit *AuditLog, mfa *MFAEngine, opts ...ManagerOption) *Manager {
	m := &Manager{
		creds:       creds,
		tracker:     tracker,
		audit:       audit,
		mfa:         mfa,
		state:       StateLoggedOut,
		idleTimeout: DefaultIdleTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// LOGIN
// =============================================================================

// Login runs the full authentication decision procedure. The credential
// check is an adaptive hash comparison and may take on the order of 100ms;
// callers must not assume an instant return.
//
// Failure messages never distinguish an unknown username from a wrong
// password; only the audit log records what actually happened.
func (m *Manager) Login(username, password, code string) LoginResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A fresh attempt abandons any prior session or pending enrollment.
	m.resetSessionLocked()

	// Lockout is checked before any credential comparison: no hashing
	// work and no new audit noise while the window is open.
	status := m.tracker.Status()
	if status.Locked {
		return LoginResult{
			Message: fmt.Sprintf("System locked. Try again in %ds.", status.RemainingSeconds),
		}
	}

	if !m.creds.Verify(username, password) {
		m.tracker.RecordFailure()
		m.audit.Append("LOGIN_FAIL",
			fmt.Sprintf("Failed login attempt for user: %s", username),
			SeverityWarning)
		return LoginResult{Message: "Invalid credentials"}
	}

	secret, enrolled := m.creds.EnrolledSecret()
	if !enrolled {
		// First successful credential check: route to enrollment. Not a
		// success and not a failure for the attempt tracker; enrollment
		// is a continuation, not a retry.
		fresh, err := m.mfa.GenerateSecret()
		if err != nil {
			fmt.Fprintf(os.Stderr, "SECURITY ERROR: secret generation failed: %v\n", err)
			return LoginResult{Message: "Internal error"}
		}
		m.pendingSecret = fresh
		m.session = &Session{Username: username}
		m.state = StateAwaitingEnrollment
		return LoginResult{Success: true, Message: "MFA setup required", RequiresSetup: true}
	}

	if !m.mfa.Validate(secret, code) {
		m.tracker.RecordFailure()
		m.audit.Append("MFA_FAIL",
			fmt.Sprintf("Invalid MFA code for user: %s", username),
			SeverityWarning)
		return LoginResult{Message: "Invalid 2FA code"}
	}

	m.tracker.RecordSuccess()
	m.session = &Session{Username: username, Authenticated: true, LastLogin: m.now()}
	m.state = StateLoggedIn
	m.audit.Append("LOGIN_SUCCESS",
		fmt.Sprintf("User %s logged in successfully", username),
		SeverityInfo)
	m.armIdleTimerLocked()

	return LoginResult{Success: true}
}

// =============================================================================
// ENROLLMENT
// =============================================================================

// CompleteEnrollment persists the pending secret and promotes the
// provisional session. Calling it with no pending enrollment is a caller
// bug, not user input, and is silently ignored.
//
// In strict mode the supplied code must validate against the pending
// secret first; in the default lenient mode the code is ignored and the
// caller's assertion that enrollment succeeded is trusted.
func (m *Manager) CompleteEnrollment(code string) LoginResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAwaitingEnrollment || m.pendingSecret == "" || m.session == nil {
		return LoginResult{}
	}

	if m.strictEnrollment && !m.mfa.Validate(m.pendingSecret, code) {
		m.audit.Append("MFA_FAIL",
			fmt.Sprintf("Invalid enrollment confirmation code for user: %s", m.session.Username),
			SeverityWarning)
		return LoginResult{Message: "Invalid 2FA code", RequiresSetup: true}
	}

	if err := m.creds.StoreSecret(m.pendingSecret); err != nil {
		fmt.Fprintf(os.Stderr, "SECURITY ERROR: failed to persist MFA secret: %v\n", err)
		return LoginResult{Message: "Internal error", RequiresSetup: true}
	}

	m.pendingSecret = ""
	m.session.Authenticated = true
	m.session.LastLogin = m.now()
	m.state = StateLoggedIn
	m.audit.Append("MFA_SETUP",
		fmt.Sprintf("MFA configured for user %s", m.session.Username),
		SeverityInfo)
	m.armIdleTimerLocked()

	return LoginResult{Success: true}
}

// =============================================================================
// LOGOUT AND ACTIVITY
// =============================================================================

// Logout ends the current session. Safe to call in any state.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		m.audit.Append("LOGOUT",
			fmt.Sprintf("User %s logged out", m.session.Username),
			SeverityInfo)
	}
	m.resetSessionLocked()
}

// Activity re-arms the inactivity timer. The host forwards its input
// signals here; extra calls are harmless, the re-arm is idempotent.
func (m *Manager) Activity() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateLoggedIn {
		m.armIdleTimerLocked()
	}
}

// =============================================================================
// READ SURFACE
// =============================================================================

// State returns the manager's current state.
func (m *Manager) State() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentSession returns a copy of the live session, if one exists.
func (m *Manager) CurrentSession() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// IsLocked reports whether a lockout window is open.
func (m *Manager) IsLocked() bool {
	return m.tracker.Status().Locked
}

// LockoutRemaining returns the seconds left in the lockout window, for
// the countdown display. Zero when unlocked.
func (m *Manager) LockoutRemaining() int {
	return m.tracker.Status().RemainingSeconds
}

// RequiresSetup reports whether the manager is waiting for MFA enrollment.
func (m *Manager) RequiresSetup() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateAwaitingEnrollment
}

// PendingSecret exposes the unpersisted secret for the manual-entry
// enrollment screen. Only available while enrollment is pending.
func (m *Manager) PendingSecret() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAwaitingEnrollment || m.pendingSecret == "" {
		return "", false
	}
	return m.pendingSecret, true
}

// EnrollmentURI returns the otpauth:// URI for the pending secret, for
// rendering as a scannable enrollment code.
func (m *Manager) EnrollmentURI() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAwaitingEnrollment || m.pendingSecret == "" || m.session == nil {
		return "", false
	}

	uri, err := m.mfa.EnrollmentURI(m.session.Username, m.pendingSecret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "SECURITY ERROR: failed to build enrollment URI: %v\n", err)
		return "", false
	}
	return uri, true
}

// AuditEntries returns the security log, newest first.
func (m *Manager) AuditEntries() []AuditEntry {
	return m.audit.Entries()
}

// =============================================================================
// INACTIVITY TIMER
// =============================================================================

// armIdleTimerLocked schedules (or reschedules) the single-shot expiry
// timer. Bumping the generation first means a previously scheduled firing
// that races with the re-arm finds a stale generation and does nothing:
// two timers can never both act.
func (m *Manager) armIdleTimerLocked() {
	m.timerGen++
	gen := m.timerGen

	if m.idleTimer != nil {
		m.idleTimer.Stop()
	}
	m.idleTimer = time.AfterFunc(m.idleTimeout, func() {
		m.expireSession(gen)
	})
}

// expireSession is the timer callback: it ends the session only if the
// firing is still current.
func (m *Manager) expireSession(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.timerGen || m.state != StateLoggedIn {
		return
	}

	m.audit.Append("SYSTEM", "Session expired due to inactivity", SeverityInfo)
	m.resetSessionLocked()
}

// resetSessionLocked returns the manager to LoggedOut: session and pending
// secret cleared, timer disarmed (caller must hold the lock).
func (m *Manager) resetSessionLocked() {
	m.timerGen++
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
	m.session = nil
	m.pendingSecret = ""
	m.state = StateLoggedOut
}
