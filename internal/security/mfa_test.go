// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

// codeAt computes the expected code for a secret at a given instant, using
// the same parameters the engine validates with.
func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at.UTC(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestGenerateSecret(t *testing.T) {
	e := NewMFAEngine()

	secret, err := e.GenerateSecret()
	require.NoError(t, err)
	// 20 random bytes base32-encode to 32 characters without padding.
	require.Len(t, secret, 32)
	require.NotContains(t, secret, "=")

	other, err := e.GenerateSecret()
	require.NoError(t, err)
	require.NotEqual(t, secret, other)
}

func TestValidateAcceptsAdjacentSteps(t *testing.T) {
	e := NewMFAEngine()
	secret, err := e.GenerateSecret()
	require.NoError(t, err)

	// Mid-step instant so the skew window is unambiguous.
	at := time.Unix(1700000015, 0)

	require.True(t, e.validateAt(secret, codeAt(t, secret, at), at))
	require.True(t, e.validateAt(secret, codeAt(t, secret, at.Add(-30*time.Second)), at))
	require.True(t, e.validateAt(secret, codeAt(t, secret, at.Add(30*time.Second)), at))
}

func TestValidateRejectsDistantSteps(t *testing.T) {
	e := NewMFAEngine()
	secret, err := e.GenerateSecret()
	require.NoError(t, err)

	at := time.Unix(1700000015, 0)

	require.False(t, e.validateAt(secret, codeAt(t, secret, at.Add(-60*time.Second)), at))
	require.False(t, e.validateAt(secret, codeAt(t, secret, at.Add(60*time.Second)), at))
	require.False(t, e.validateAt(secret, codeAt(t, secret, at.Add(5*time.Minute)), at))
}

func TestValidateRejectsMalformedCodes(t *testing.T) {
	e := NewMFAEngine()
	secret, err := e.GenerateSecret()
	require.NoError(t, err)

	at := time.Unix(1700000015, 0)

	for _, code := range []string{"", "12345", "1234567", "12a456", "xxxxxx", "123 45"} {
		require.False(t, e.validateAt(secret, code, at), "code %q", code)
	}
}

func TestValidateTrimsWhitespace(t *testing.T) {
	e := NewMFAEngine()
	secret, err := e.GenerateSecret()
	require.NoError(t, err)

	at := time.Unix(1700000015, 0)
	code := codeAt(t, secret, at)

	require.True(t, e.validateAt(secret, "  "+code+"\n", at))
}

func TestValidateWrongSecret(t *testing.T) {
	e := NewMFAEngine()
	secret, err := e.GenerateSecret()
	require.NoError(t, err)
	other, err := e.GenerateSecret()
	require.NoError(t, err)

	at := time.Unix(1700000015, 0)
	require.False(t, e.validateAt(other, codeAt(t, secret, at), at))
}

func TestEnrollmentURI(t *testing.T) {
	e := NewMFAEngine()
	secret, err := e.GenerateSecret()
	require.NoError(t, err)

	uri, err := e.EnrollmentURI("admin", secret)
	require.NoError(t, err)
	require.Contains(t, uri, "otpauth://totp/")
	require.Contains(t, uri, "MSIS_Admin")
	require.Contains(t, uri, "admin")
	require.Contains(t, uri, "secret="+secret)
}

func TestEnrollmentURICustomIssuer(t *testing.T) {
	e := NewMFAEngine(WithIssuer("Morgan_Forge"))
	secret, err := e.GenerateSecret()
	require.NoError(t, err)

	uri, err := e.EnrollmentURI("operator", secret)
	require.NoError(t, err)
	require.Contains(t, uri, "Morgan_Forge")
}

func TestEnrollmentURIRejectsBadSecret(t *testing.T) {
	e := NewMFAEngine()

	_, err := e.EnrollmentURI("admin", "not!base32!")
	require.Error(t, err)
}
