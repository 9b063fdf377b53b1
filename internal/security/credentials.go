// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/jeranaias/msis-authcore/internal/storage"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultUsername is the administrative identity created on first run.
	DefaultUsername = "admin"

	// DefaultPassword is hashed immediately on first run and never stored
	// or compared in plaintext.
	DefaultPassword = "Titan-Defense-System-99!"

	// HashCost is the bcrypt cost factor for the stored password hash.
	HashCost = 12

	// KeyIdentity is the storage key for the identity record.
	KeyIdentity = "msis_sec_auth"

	// KeyMFASecret is the storage key for the enrolled MFA secret record.
	KeyMFASecret = "msis_sec_mfa"
)

// =============================================================================
// RECORDS
// =============================================================================

// Identity is the persisted administrative identity. Exactly one instance
// exists; it is never mutated after creation.
type Identity struct {
	Username     string `json:"username"`
	PasswordHash string `json:"hash"`
}

// mfaRecord is the persisted MFA secret document. Absence of the record
// means enrollment is required on the next successful credential check.
type mfaRecord struct {
	Secret string `json:"secret"`
}

// =============================================================================
// CREDENTIAL STORE
// =============================================================================

// CredentialStore holds the administrative identity and the enrolled MFA
// secret, both persisted through the injected store.
type CredentialStore struct {
	store    storage.Store
	username string
	password string
	cost     int
	mu       sync.Mutex
}

// CredentialStoreOption is a functional option for configuring CredentialStore.
type CredentialStoreOption func(*CredentialStore)

// WithDefaultIdentity overrides the first-run identity. Intended for tests;
// production uses the package defaults.
func WithDefaultIdentity(username, password string) CredentialStoreOption {
	return func(c *CredentialStore) {
		c.username = username
		c.password = password
	}
}

// WithHashCost overrides the bcrypt cost factor. Tests use a low cost to
// keep the suite fast; production keeps the default.
func WithHashCost(cost int) CredentialStoreOption {
	return func(c *CredentialStore) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			c.cost = cost
		}
	}
}

// NewCredentialStore creates a CredentialStore backed by the given store.
func NewCredentialStore(store storage.Store, opts ...CredentialStoreOption) *CredentialStore {
	cs := &CredentialStore{
		store:    store,
		username: DefaultUsername,
		password: DefaultPassword,
		cost:     HashCost,
	}
	for _, opt := range opts {
		opt(cs)
	}
	return cs
}

// Initialize creates the identity record on first run. Idempotent: if an
// identity already exists it is left untouched. Failure to read or write
// the identity is a startup precondition violation and is returned to the
// caller; there is no runtime recovery path.
func (c *CredentialStore) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.store.Read(KeyIdentity)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("credential store: failed to read identity: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(c.password), c.cost)
	if err != nil {
		return fmt.Errorf("credential store: failed to hash default password: %w", err)
	}

	doc, err := json.Marshal(Identity{Username: c.username, PasswordHash: string(hash)})
	if err != nil {
		return fmt.Errorf("credential store: failed to encode identity: %w", err)
	}
	if err := c.store.Write(KeyIdentity, doc); err != nil {
		return fmt.Errorf("credential store: failed to persist identity: %w", err)
	}
	return nil
}

// Verify checks the supplied username and password against the stored
// identity. Unknown usernames and wrong passwords are indistinguishable to
// the caller, and the bcrypt comparison runs in both cases so the outcome
// does not leak which check failed through timing.
func (c *CredentialStore) Verify(username, password string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.store.Read(KeyIdentity)
	if err != nil {
		return false
	}

	var identity Identity
	if err := json.Unmarshal(doc, &identity); err != nil {
		return false
	}

	usernameOK := subtle.ConstantTimeCompare([]byte(username), []byte(identity.Username)) == 1
	passwordOK := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)) == nil

	return usernameOK && passwordOK
}

// EnrolledSecret returns the persisted MFA secret, or false if no secret
// has been enrolled yet.
func (c *CredentialStore) EnrolledSecret() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.store.Read(KeyMFASecret)
	if err != nil {
		return "", false
	}

	var rec mfaRecord
	if err := json.Unmarshal(doc, &rec); err != nil || rec.Secret == "" {
		return "", false
	}
	return rec.Secret, true
}

// StoreSecret persists the MFA secret. Called exactly once, by the manager,
// when the user confirms enrollment; secrets are never written before that
// confirmation and never regenerated afterward.
func (c *CredentialStore) StoreSecret(secret string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if secret == "" {
		return fmt.Errorf("credential store: empty MFA secret")
	}

	doc, err := json.Marshal(mfaRecord{Secret: secret})
	if err != nil {
		return fmt.Errorf("credential store: failed to encode MFA secret: %w", err)
	}
	if err := c.store.Write(KeyMFASecret, doc); err != nil {
		return fmt.Errorf("credential store: failed to persist MFA secret: %w", err)
	}
	return nil
}
