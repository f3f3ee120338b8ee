// Package vault stores and retrieves per-tenant provider credentials.
// Values are encrypted with AES-256-GCM under a key derived from the
// process master key and the owning tenant id, so ciphertext is useless
// across tenant boundaries. Plaintext exists only in the return value of
// Get; it is never logged and never cached.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HyphaGroup/portcullis/internal/logger"
	"github.com/HyphaGroup/portcullis/internal/metrics"
	"github.com/HyphaGroup/portcullis/internal/store"
)

// ErrCredentialNotFound reports that no active credential exists for the
// requested (tenant, provider, key).
var ErrCredentialNotFound = store.ErrCredentialNotFound

// Vault encrypts credentials on the way into the store and decrypts them
// on the way out. It is safe for concurrent use.
type Vault struct {
	store  store.Store
	cipher *Cipher
}

// New creates a vault over the given store using masterKey for encryption
func New(st store.Store, masterKey string) *Vault {
	return &Vault{
		store:  st,
		cipher: NewCipher(masterKey),
	}
}

// Set encrypts and stores one credential field. Setting a (provider, key)
// that already exists rotates it: the old row is deactivated and the new
// ciphertext becomes the active value for subsequent reads.
func (v *Vault) Set(ctx context.Context, tenantID, provider, key, plaintext string) error {
	if tenantID == "" || provider == "" || key == "" {
		return fmt.Errorf("tenant, provider and key are required")
	}

	ciphertext, err := v.cipher.Encrypt(plaintext, tenantID)
	if err != nil {
		metrics.RecordVaultOperation("set", "error")
		return fmt.Errorf("encrypting credential: %w", err)
	}

	cred := &store.Credential{
		TenantID:   tenantID,
		Provider:   provider,
		Key:        key,
		Ciphertext: ciphertext,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := v.store.PutCredential(ctx, cred); err != nil {
		metrics.RecordVaultOperation("set", "error")
		return fmt.Errorf("storing credential: %w", err)
	}

	metrics.RecordVaultOperation("set", "ok")
	logger.InfoContext(ctx, "credential stored",
		"tenant_id", tenantID,
		"provider", provider,
		"key", key)
	return nil
}

// Get loads and decrypts one credential field. The caller must discard
// the plaintext when its current operation completes.
func (v *Vault) Get(ctx context.Context, tenantID, provider, key string) (string, error) {
	cred, err := v.store.GetCredential(ctx, tenantID, provider, key)
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			metrics.RecordVaultOperation("get", "miss")
			return "", fmt.Errorf("%s/%s for tenant %s: %w", provider, key, tenantID, ErrCredentialNotFound)
		}
		metrics.RecordVaultOperation("get", "error")
		return "", fmt.Errorf("loading credential: %w", err)
	}

	plaintext, err := v.cipher.Decrypt(cred.Ciphertext, tenantID)
	if err != nil {
		metrics.RecordVaultOperation("get", "error")
		return "", fmt.Errorf("decrypting %s/%s: %w", provider, key, err)
	}

	metrics.RecordVaultOperation("get", "ok")
	return plaintext, nil
}

// List returns credential metadata for a tenant. Ciphertext is not
// included; there is deliberately no bulk decryption path.
func (v *Vault) List(ctx context.Context, tenantID string) ([]*store.Credential, error) {
	creds, err := v.store.ListCredentials(ctx, tenantID)
	if err != nil {
		metrics.RecordVaultOperation("list", "error")
		return nil, err
	}
	metrics.RecordVaultOperation("list", "ok")
	return creds, nil
}

// Capability returns a read-only credential accessor bound to one tenant.
// Tool handlers receive this instead of the vault itself so a handler can
// never name another tenant, set values, or enumerate what exists.
func (v *Vault) Capability(tenantID string) *TenantSource {
	return &TenantSource{vault: v, tenantID: tenantID}
}

// TenantSource is the tenant-bound view handed to tool handlers.
type TenantSource struct {
	vault    *Vault
	tenantID string
}

// Credential decrypts one field of the tenant's credential bundle.
func (s *TenantSource) Credential(ctx context.Context, provider, key string) (string, error) {
	return s.vault.Get(ctx, s.tenantID, provider, key)
}
