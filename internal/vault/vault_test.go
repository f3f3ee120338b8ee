package vault

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HyphaGroup/portcullis/internal/store"
)

func newTestVault(t *testing.T) (*Vault, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "vault_test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, "test-master-key"), st
}

func seedTenant(t *testing.T, st store.Store, id string) {
	t.Helper()
	err := st.CreateTenant(context.Background(), &store.Tenant{
		ID:        id,
		Name:      id,
		Active:    true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateTenant(%s) error = %v", id, err)
	}
}

func TestVaultRoundTrip(t *testing.T) {
	v, st := newTestVault(t)
	ctx := context.Background()
	seedTenant(t, st, "acme")

	secrets := map[string]string{
		"plain":   "sk_live_abc123",
		"long":    "pat-na1-00000000-1111-2222-3333-444444444444.extra.segments",
		"unicode": "pässwörd-日本語-🔑",
		"empty":   "",
	}

	for name, want := range secrets {
		t.Run(name, func(t *testing.T) {
			if err := v.Set(ctx, "acme", "stripe", name, want); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			got, err := v.Get(ctx, "acme", "stripe", name)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got != want {
				t.Errorf("Get() = %q, want %q", got, want)
			}
		})
	}
}

func TestVaultRotation(t *testing.T) {
	v, st := newTestVault(t)
	ctx := context.Background()
	seedTenant(t, st, "acme")

	if err := v.Set(ctx, "acme", "sendgrid", "api_key", "SG.old"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := v.Set(ctx, "acme", "sendgrid", "api_key", "SG.new"); err != nil {
		t.Fatalf("Set() rotation error = %v", err)
	}

	got, err := v.Get(ctx, "acme", "sendgrid", "api_key")
	if err != nil {
		t.Fatalf("Get() after rotation error = %v", err)
	}
	if got != "SG.new" {
		t.Errorf("Get() after rotation = %q, want %q", got, "SG.new")
	}

	creds, err := v.List(ctx, "acme")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(creds) != 1 {
		t.Errorf("List() returned %d active credentials, want 1", len(creds))
	}
	for _, c := range creds {
		if len(c.Ciphertext) != 0 {
			t.Errorf("List() leaked ciphertext for %s/%s", c.Provider, c.Key)
		}
	}
}

func TestVaultTenantIsolation(t *testing.T) {
	v, st := newTestVault(t)
	ctx := context.Background()
	seedTenant(t, st, "acme")
	seedTenant(t, st, "globex")

	if err := v.Set(ctx, "acme", "twilio", "auth_token", "tok-secret"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, err := v.Get(ctx, "globex", "twilio", "auth_token"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("Get() with other tenant error = %v, want ErrCredentialNotFound", err)
	}

	// Even with the stored ciphertext in hand, another tenant's id must
	// not decrypt it.
	cred, err := st.GetCredential(ctx, "acme", "twilio", "auth_token")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if _, err := v.cipher.Decrypt(cred.Ciphertext, "globex"); err == nil {
		t.Error("Decrypt() with wrong tenant id succeeded, want error")
	}
}

func TestVaultCredentialNotFound(t *testing.T) {
	v, st := newTestVault(t)
	seedTenant(t, st, "acme")

	_, err := v.Get(context.Background(), "acme", "hubspot", "access_token")
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("Get() error = %v, want ErrCredentialNotFound", err)
	}
}

func TestVaultCapability(t *testing.T) {
	v, st := newTestVault(t)
	ctx := context.Background()
	seedTenant(t, st, "acme")
	seedTenant(t, st, "globex")

	if err := v.Set(ctx, "acme", "calendly", "token", "cal-123"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := v.Set(ctx, "globex", "calendly", "token", "cal-456"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	src := v.Capability("acme")
	got, err := src.Credential(ctx, "calendly", "token")
	if err != nil {
		t.Fatalf("Credential() error = %v", err)
	}
	if got != "cal-123" {
		t.Errorf("Credential() = %q, want %q", got, "cal-123")
	}
}

func TestCipherRejectsGarbage(t *testing.T) {
	c := NewCipher("test-master-key")

	if _, err := c.Decrypt([]byte("short"), "acme"); err == nil {
		t.Error("Decrypt(short input) succeeded, want error")
	}

	encrypted, err := c.Encrypt("value", "acme")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	encrypted[len(encrypted)-1] ^= 0xFF
	if _, err := c.Decrypt(encrypted, "acme"); err == nil {
		t.Error("Decrypt(tampered input) succeeded, want error")
	}
}

func TestLoadMasterKey(t *testing.T) {
	t.Run("env wins", func(t *testing.T) {
		t.Setenv("PORTCULLIS_TEST_KEY", "from-env")
		keyFile := filepath.Join(t.TempDir(), "master.key")
		_ = os.WriteFile(keyFile, []byte("from-file\n"), 0600)

		key, err := LoadMasterKey("PORTCULLIS_TEST_KEY", keyFile)
		if err != nil {
			t.Fatalf("LoadMasterKey() error = %v", err)
		}
		if key != "from-env" {
			t.Errorf("LoadMasterKey() = %q, want %q", key, "from-env")
		}
	})

	t.Run("file fallback", func(t *testing.T) {
		keyFile := filepath.Join(t.TempDir(), "master.key")
		_ = os.WriteFile(keyFile, []byte("from-file\n"), 0600)

		key, err := LoadMasterKey("PORTCULLIS_UNSET_KEY", keyFile)
		if err != nil {
			t.Fatalf("LoadMasterKey() error = %v", err)
		}
		if key != "from-file" {
			t.Errorf("LoadMasterKey() = %q, want %q", key, "from-file")
		}
	})

	t.Run("neither set", func(t *testing.T) {
		_, err := LoadMasterKey("PORTCULLIS_UNSET_KEY", filepath.Join(t.TempDir(), "missing.key"))
		if err == nil {
			t.Error("LoadMasterKey() with no sources succeeded, want error")
		}
	})
}

func TestWriteMasterKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "master.key")

	if err := WriteMasterKeyFile(path, "key-one"); err != nil {
		t.Fatalf("WriteMasterKeyFile() error = %v", err)
	}
	if err := WriteMasterKeyFile(path, "key-two"); err == nil {
		t.Error("WriteMasterKeyFile() overwrote existing file, want error")
	}

	key, err := LoadMasterKey("PORTCULLIS_UNSET_KEY", path)
	if err != nil {
		t.Fatalf("LoadMasterKey() error = %v", err)
	}
	if key != "key-one" {
		t.Errorf("LoadMasterKey() = %q, want %q", key, "key-one")
	}
}
