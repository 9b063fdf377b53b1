// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security implements the authentication and access-control core
// protecting the MSIS administrative interface.
//
// The package is built from five collaborators: CredentialStore (the one
// administrative identity plus the enrolled MFA secret), AttemptTracker
// (consecutive-failure counting and timed lockout), AuditLog (capped,
// persisted record of security events), MFAEngine (TOTP enrollment and
// verification), and Manager (the login state machine tying them
// together and enforcing the inactivity timeout).
//
// All durable state goes through an injected storage.Store, so tests run
// against an in-memory fake and hosts choose between the file-backed and
// SQLite-backed implementations.
package security
