// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/msis-authcore/internal/storage"
)

// managerFixture wires a Manager over a shared in-memory store with all
// clocks frozen at a mid-step instant, so TOTP codes are deterministic.
type managerFixture struct {
	m       *Manager
	creds   *CredentialStore
	tracker *AttemptTracker
	audit   *AuditLog
	mfa     *MFAEngine
	store   *storage.MemStore
	at      time.Time
}

func newTestManager(t *testing.T, opts ...ManagerOption) *managerFixture {
	t.Helper()

	at := time.Unix(1700000015, 0)
	store := storage.NewMemStore()

	audit := NewAuditLog(store)
	audit.now = func() time.Time { return at }

	creds := NewCredentialStore(store, WithHashCost(testHashCost))
	require.NoError(t, creds.Initialize())

	tracker, err := NewAttemptTracker(store, audit)
	require.NoError(t, err)
	tracker.now = func() time.Time { return at }

	mfa := NewMFAEngine()
	mfa.now = func() time.Time { return at }

	m := NewManager(creds, tracker, audit, mfa, opts...)
	m.now = func() time.Time { return at }

	return &managerFixture{m: m, creds: creds, tracker: tracker, audit: audit, mfa: mfa, store: store, at: at}
}

// enroll drives the fixture through first login and lenient enrollment,
// leaving the manager logged in with a persisted secret.
func (f *managerFixture) enroll(t *testing.T) string {
	t.Helper()

	result := f.m.Login(DefaultUsername, DefaultPassword, "")
	require.True(t, result.RequiresSetup)
	result = f.m.CompleteEnrollment("")
	require.True(t, result.Success)

	secret, enrolled := f.creds.EnrolledSecret()
	require.True(t, enrolled)
	return secret
}

func (f *managerFixture) validCode(t *testing.T, secret string) string {
	t.Helper()
	return codeAt(t, secret, f.at)
}

// auditActions returns the fixture's audit actions, newest first.
func (f *managerFixture) auditActions() []string {
	entries := f.audit.Entries()
	actions := make([]string, len(entries))
	for i, e := range entries {
		actions[i] = e.Action
	}
	return actions
}

// =============================================================================
// LOGIN
// =============================================================================

// TestLoginFailureMessagesIdentical verifies an attacker cannot tell a
// wrong username from a wrong password by the response.
func TestLoginFailureMessagesIdentical(t *testing.T) {
	f := newTestManager(t)

	wrongUser := f.m.Login("nobody", DefaultPassword, "")
	wrongPass := f.m.Login(DefaultUsername, "wrong-password", "")

	require.False(t, wrongUser.Success)
	require.False(t, wrongPass.Success)
	require.Equal(t, wrongUser.Message, wrongPass.Message)
	require.Equal(t, "Invalid credentials", wrongPass.Message)

	require.Equal(t, 2, f.tracker.FailureCount())

	entries := f.audit.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, "LOGIN_FAIL", entries[0].Action)
	require.Equal(t, SeverityWarning, entries[0].Severity)
}

func TestLoginRoutesToEnrollment(t *testing.T) {
	f := newTestManager(t)

	// Prior failures must survive the enrollment detour untouched.
	f.m.Login(DefaultUsername, "wrong-password", "")
	f.m.Login(DefaultUsername, "wrong-password", "")

	result := f.m.Login(DefaultUsername, DefaultPassword, "")
	require.True(t, result.Success)
	require.True(t, result.RequiresSetup)
	require.Equal(t, StateAwaitingEnrollment, f.m.State())
	require.Equal(t, 2, f.tracker.FailureCount())

	secret, ok := f.m.PendingSecret()
	require.True(t, ok)
	require.NotEmpty(t, secret)

	uri, ok := f.m.EnrollmentURI()
	require.True(t, ok)
	require.Contains(t, uri, "otpauth://totp/")
	require.Contains(t, uri, "secret="+secret)

	// The secret is not persisted until enrollment completes.
	_, enrolled := f.creds.EnrolledSecret()
	require.False(t, enrolled)

	session, ok := f.m.CurrentSession()
	require.True(t, ok)
	require.Equal(t, DefaultUsername, session.Username)
	require.False(t, session.Authenticated)
}

func TestLoginWithValidCode(t *testing.T) {
	f := newTestManager(t)
	secret := f.enroll(t)
	f.m.Logout()

	f.m.Login(DefaultUsername, "wrong-password", "")
	require.Equal(t, 1, f.tracker.FailureCount())

	result := f.m.Login(DefaultUsername, DefaultPassword, f.validCode(t, secret))
	require.True(t, result.Success)
	require.Equal(t, StateLoggedIn, f.m.State())

	// Success resets the failure count.
	require.Zero(t, f.tracker.FailureCount())

	session, ok := f.m.CurrentSession()
	require.True(t, ok)
	require.True(t, session.Authenticated)
	require.Equal(t, f.at, session.LastLogin)

	require.Equal(t, "LOGIN_SUCCESS", f.auditActions()[0])
}

func TestLoginWithInvalidCode(t *testing.T) {
	f := newTestManager(t)
	secret := f.enroll(t)
	f.m.Logout()

	wrong := "000000"
	if f.validCode(t, secret) == wrong {
		wrong = "111111"
	}

	result := f.m.Login(DefaultUsername, DefaultPassword, wrong)
	require.False(t, result.Success)
	require.Equal(t, "Invalid 2FA code", result.Message)
	require.Equal(t, StateLoggedOut, f.m.State())
	require.Equal(t, 1, f.tracker.FailureCount())
	require.Equal(t, "MFA_FAIL", f.auditActions()[0])
}

// =============================================================================
// LOCKOUT INTEGRATION
// =============================================================================

func TestLoginLockoutRefusal(t *testing.T) {
	f := newTestManager(t)

	for i := 0; i < DefaultMaxAttempts; i++ {
		result := f.m.Login(DefaultUsername, "wrong-password", "")
		require.Equal(t, "Invalid credentials", result.Message)
	}

	require.True(t, f.m.IsLocked())
	require.Equal(t, 900, f.m.LockoutRemaining())

	// CRITICAL lockout entry on top of the five warnings. The lockout
	// fires inside the failure recording, so the final LOGIN_FAIL lands
	// after it.
	actions := f.auditActions()
	require.Equal(t, "LOGIN_FAIL", actions[0])
	require.Equal(t, "SECURITY", actions[1])
	require.Len(t, actions, DefaultMaxAttempts+1)

	// A locked attempt is refused without credential work or audit noise,
	// even with the correct password.
	result := f.m.Login(DefaultUsername, DefaultPassword, "")
	require.False(t, result.Success)
	require.Equal(t, "System locked. Try again in 900s.", result.Message)
	require.Len(t, f.auditActions(), DefaultMaxAttempts+1)
	require.Equal(t, DefaultMaxAttempts, f.tracker.FailureCount())
}

// =============================================================================
// ENROLLMENT
// =============================================================================

func TestCompleteEnrollmentLenient(t *testing.T) {
	f := newTestManager(t)

	f.m.Login(DefaultUsername, DefaultPassword, "")
	pending, ok := f.m.PendingSecret()
	require.True(t, ok)

	// Lenient mode trusts the caller; no code needed.
	result := f.m.CompleteEnrollment("")
	require.True(t, result.Success)
	require.Equal(t, StateLoggedIn, f.m.State())

	secret, enrolled := f.creds.EnrolledSecret()
	require.True(t, enrolled)
	require.Equal(t, pending, secret)

	_, ok = f.m.PendingSecret()
	require.False(t, ok)

	session, ok := f.m.CurrentSession()
	require.True(t, ok)
	require.True(t, session.Authenticated)

	require.Equal(t, "MFA_SETUP", f.auditActions()[0])
}

func TestCompleteEnrollmentStrict(t *testing.T) {
	f := newTestManager(t, WithStrictEnrollment(true))

	f.m.Login(DefaultUsername, DefaultPassword, "")
	pending, ok := f.m.PendingSecret()
	require.True(t, ok)

	wrong := "000000"
	if f.validCode(t, pending) == wrong {
		wrong = "111111"
	}

	result := f.m.CompleteEnrollment(wrong)
	require.False(t, result.Success)
	require.True(t, result.RequiresSetup)
	require.Equal(t, "Invalid 2FA code", result.Message)
	require.Equal(t, StateAwaitingEnrollment, f.m.State())
	require.Equal(t, "MFA_FAIL", f.auditActions()[0])

	// Enrollment confirmation is a continuation of one login, not a new
	// attempt; the tracker stays untouched.
	require.Zero(t, f.tracker.FailureCount())

	result = f.m.CompleteEnrollment(f.validCode(t, pending))
	require.True(t, result.Success)
	require.Equal(t, StateLoggedIn, f.m.State())

	secret, enrolled := f.creds.EnrolledSecret()
	require.True(t, enrolled)
	require.Equal(t, pending, secret)
}

func TestCompleteEnrollmentWithoutPendingIsNoop(t *testing.T) {
	f := newTestManager(t)

	result := f.m.CompleteEnrollment("123456")
	require.Equal(t, LoginResult{}, result)
	require.Equal(t, StateLoggedOut, f.m.State())

	_, enrolled := f.creds.EnrolledSecret()
	require.False(t, enrolled)
	require.Empty(t, f.audit.Entries())
}

// =============================================================================
// LOGOUT
// =============================================================================

func TestLogout(t *testing.T) {
	f := newTestManager(t)
	f.enroll(t)

	f.m.Logout()
	require.Equal(t, StateLoggedOut, f.m.State())

	_, ok := f.m.CurrentSession()
	require.False(t, ok)
	require.Equal(t, "LOGOUT", f.auditActions()[0])
}

func TestLogoutAbandonsPendingEnrollment(t *testing.T) {
	f := newTestManager(t)

	f.m.Login(DefaultUsername, DefaultPassword, "")
	require.Equal(t, StateAwaitingEnrollment, f.m.State())

	f.m.Logout()
	require.Equal(t, StateLoggedOut, f.m.State())
	_, ok := f.m.PendingSecret()
	require.False(t, ok)

	// The abandoned secret was never persisted; the next login starts a
	// fresh enrollment.
	_, enrolled := f.creds.EnrolledSecret()
	require.False(t, enrolled)
	result := f.m.Login(DefaultUsername, DefaultPassword, "")
	require.True(t, result.RequiresSetup)
}

// =============================================================================
// INACTIVITY TIMEOUT
// =============================================================================

func TestIdleTimeoutExpiresSession(t *testing.T) {
	f := newTestManager(t, WithIdleTimeout(80*time.Millisecond))
	f.enroll(t)
	require.Equal(t, StateLoggedIn, f.m.State())

	require.Eventually(t, func() bool {
		return f.m.State() == StateLoggedOut
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := f.m.CurrentSession()
	require.False(t, ok)

	entries := f.audit.Entries()
	require.Equal(t, "SYSTEM", entries[0].Action)
	require.Equal(t, "Session expired due to inactivity", entries[0].Details)
	require.Equal(t, SeverityInfo, entries[0].Severity)
}

func TestActivityDefersIdleTimeout(t *testing.T) {
	f := newTestManager(t, WithIdleTimeout(200*time.Millisecond))
	f.enroll(t)

	// Keep signalling activity well past the original deadline.
	for i := 0; i < 6; i++ {
		time.Sleep(60 * time.Millisecond)
		f.m.Activity()
	}
	require.Equal(t, StateLoggedIn, f.m.State())

	// Once the signals stop, the session expires.
	require.Eventually(t, func() bool {
		return f.m.State() == StateLoggedOut
	}, 2*time.Second, 10*time.Millisecond)
}

func TestActivityIgnoredWhenLoggedOut(t *testing.T) {
	f := newTestManager(t, WithIdleTimeout(50*time.Millisecond))

	f.m.Activity()
	time.Sleep(100 * time.Millisecond)

	require.Equal(t, StateLoggedOut, f.m.State())
	require.Empty(t, f.audit.Entries())
}
