// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultIssuer is the issuer embedded in enrollment URIs.
	DefaultIssuer = "MSIS_Admin"

	// SecretSize is the generated secret length in bytes (160 bits per
	// RFC 4226 recommendation).
	SecretSize = 20

	// totpPeriod is the TOTP time-step in seconds.
	totpPeriod = 30

	// totpDigits is the code length.
	totpDigits = 6
)

// b32 encodes secrets the way authenticator apps expect: RFC 4648 base32,
// no padding.
var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// =============================================================================
// MFA ENGINE
// =============================================================================

// MFAEngine generates TOTP secrets, builds enrollment URIs, and validates
// submitted codes with a ±1 time-step tolerance for clock drift.
type MFAEngine struct {
	issuer string
	now    func() time.Time
}

// MFAEngineOption is a functional option for configuring MFAEngine.
type MFAEngineOption func(*MFAEngine)

// WithIssuer sets the issuer embedded in enrollment URIs.
func WithIssuer(issuer string) MFAEngineOption {
	return func(e *MFAEngine) {
		if issuer != "" {
			e.issuer = issuer
		}
	}
}

// NewMFAEngine creates an MFAEngine.
func NewMFAEngine(opts ...MFAEngineOption) *MFAEngine {
	e := &MFAEngine{
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GenerateSecret produces a fresh base32-encoded secret from the system
// CSPRNG. The caller holds it in volatile memory only until enrollment is
// confirmed; nothing is persisted here.
func (e *MFAEngine) GenerateSecret() (string, error) {
	raw := make([]byte, SecretSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("mfa: failed to generate secret: %w", err)
	}
	return b32.EncodeToString(raw), nil
}

// EnrollmentURI formats the standard otpauth://totp/ URI for the given
// account and secret, suitable for rendering as a QR code or manual entry.
func (e *MFAEngine) EnrollmentURI(username, secret string) (string, error) {
	raw, err := b32.DecodeString(strings.ToUpper(secret))
	if err != nil {
		return "", fmt.Errorf("mfa: invalid secret: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: username,
		Secret:      raw,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("mfa: failed to build enrollment URI: %w", err)
	}
	return key.URL(), nil
}

// Validate checks a submitted code against the secret for the current
// 30-second step and one step on each side. Codes with the wrong length or
// non-numeric characters are rejected before any cryptographic work.
func (e *MFAEngine) Validate(secret, code string) bool {
	return e.validateAt(secret, code, e.now())
}

// validateAt is the clock-injected core of Validate.
func (e *MFAEngine) validateAt(secret, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != totpDigits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}

	ok, err := totp.ValidateCustom(code, secret, at.UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
