// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import "time"

// =============================================================================
// AUTH STATE
// =============================================================================

// AuthState is the manager's explicit state. Holding it as a tagged value
// (rather than a bag of booleans) makes "authenticated while awaiting
// enrollment" unrepresentable.
type AuthState int

const (
	// StateLoggedOut is the rest state; no session exists.
	StateLoggedOut AuthState = iota

	// StateAwaitingEnrollment holds a provisional session and an
	// unpersisted secret between a first successful credential check and
	// the enrollment confirmation.
	StateAwaitingEnrollment

	// StateLoggedIn holds the one fully authenticated session.
	StateLoggedIn
)

// String returns the state name for logs and diagnostics.
func (s AuthState) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateAwaitingEnrollment:
		return "awaiting_enrollment"
	case StateLoggedIn:
		return "logged_in"
	default:
		return "unknown"
	}
}

// =============================================================================
// SESSION
// =============================================================================

// Session carries the identity context of the current login. While MFA
// enrollment is pending the session exists with Authenticated=false.
type Session struct {
	Username      string
	Authenticated bool
	LastLogin     time.Time
}

// =============================================================================
// LOGIN RESULT
// =============================================================================

// LoginResult is the structured outcome of Login and CompleteEnrollment.
// Every recoverable failure is reported here, never as an error value:
// errors are reserved for caller bugs and startup precondition violations.
type LoginResult struct {
	Success       bool
	Message       string
	RequiresSetup bool
}
