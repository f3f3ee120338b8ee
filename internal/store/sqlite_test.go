package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedTenant(t *testing.T, s *SQLiteStore, id, name string) *Tenant {
	t.Helper()
	now := time.Now()
	tenant := &Tenant{ID: id, Name: name, Active: true, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateTenant(context.Background(), tenant); err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	return tenant
}

func TestTenantLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedTenant(t, s, "acme", "Acme Corp")

	got, err := s.GetTenant(ctx, "acme")
	if err != nil {
		t.Fatalf("GetTenant() error = %v", err)
	}
	if got.Name != "Acme Corp" {
		t.Errorf("Name = %q, want %q", got.Name, "Acme Corp")
	}
	if !got.Active {
		t.Error("new tenant should be active")
	}

	if err := s.DeactivateTenant(ctx, "acme"); err != nil {
		t.Fatalf("DeactivateTenant() error = %v", err)
	}
	got, err = s.GetTenant(ctx, "acme")
	if err != nil {
		t.Fatalf("GetTenant() after deactivate error = %v", err)
	}
	if got.Active {
		t.Error("tenant should be inactive after DeactivateTenant")
	}

	if err := s.DeactivateTenant(ctx, "ghost"); !errors.Is(err, ErrTenantNotFound) {
		t.Errorf("DeactivateTenant(ghost) error = %v, want ErrTenantNotFound", err)
	}
	if _, err := s.GetTenant(ctx, "ghost"); !errors.Is(err, ErrTenantNotFound) {
		t.Errorf("GetTenant(ghost) error = %v, want ErrTenantNotFound", err)
	}
}

func TestTokenLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, s, "acme", "Acme Corp")

	expires := time.Now().Add(time.Hour)
	token := &Token{
		ID:        "pct_deadbeef",
		TenantID:  "acme",
		Label:     "ci",
		Scopes:    []string{"basic", "booking"},
		Active:    true,
		CreatedAt: time.Now(),
		ExpiresAt: &expires,
	}
	if err := s.CreateToken(ctx, token); err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}

	got, err := s.GetToken(ctx, "pct_deadbeef")
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if got.TenantID != "acme" {
		t.Errorf("TenantID = %q, want %q", got.TenantID, "acme")
	}
	if len(got.Scopes) != 2 || got.Scopes[0] != "basic" || got.Scopes[1] != "booking" {
		t.Errorf("Scopes = %v, want [basic booking]", got.Scopes)
	}
	if got.ExpiresAt == nil {
		t.Error("ExpiresAt should round-trip")
	}
	if got.LastUsedAt != nil {
		t.Error("LastUsedAt should be nil before first touch")
	}

	if err := s.TouchToken(ctx, "pct_deadbeef", time.Now()); err != nil {
		t.Fatalf("TouchToken() error = %v", err)
	}
	got, err = s.GetToken(ctx, "pct_deadbeef")
	if err != nil {
		t.Fatalf("GetToken() after touch error = %v", err)
	}
	if got.LastUsedAt == nil {
		t.Error("LastUsedAt should be set after TouchToken")
	}

	if err := s.RevokeToken(ctx, "pct_deadbeef"); err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}
	got, err = s.GetToken(ctx, "pct_deadbeef")
	if err != nil {
		t.Fatalf("GetToken() after revoke error = %v", err)
	}
	if got.Active {
		t.Error("token should be inactive after RevokeToken")
	}

	if err := s.RevokeToken(ctx, "pct_ghost"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("RevokeToken(ghost) error = %v, want ErrTokenNotFound", err)
	}
	if _, err := s.GetToken(ctx, "pct_ghost"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("GetToken(ghost) error = %v, want ErrTokenNotFound", err)
	}
}

func TestListTokensByTenant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, s, "a", "A")
	seedTenant(t, s, "b", "B")

	for i, tok := range []*Token{
		{ID: "pct_a1", TenantID: "a", Scopes: []string{"basic"}},
		{ID: "pct_a2", TenantID: "a", Scopes: []string{"basic"}},
		{ID: "pct_b1", TenantID: "b", Scopes: []string{"basic"}},
	} {
		tok.Active = true
		tok.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		if err := s.CreateToken(ctx, tok); err != nil {
			t.Fatalf("CreateToken(%s) error = %v", tok.ID, err)
		}
	}

	tokens, err := s.ListTokens(ctx, "a")
	if err != nil {
		t.Fatalf("ListTokens(a) error = %v", err)
	}
	if len(tokens) != 2 {
		t.Errorf("len(ListTokens(a)) = %d, want 2", len(tokens))
	}

	all, err := s.ListTokens(ctx, "")
	if err != nil {
		t.Fatalf("ListTokens() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(ListTokens()) = %d, want 3", len(all))
	}
}

func TestDeactivateExpiredTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, s, "acme", "Acme Corp")

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	for _, tok := range []*Token{
		{ID: "pct_old", TenantID: "acme", Scopes: []string{"basic"}, Active: true, CreatedAt: time.Now(), ExpiresAt: &past},
		{ID: "pct_new", TenantID: "acme", Scopes: []string{"basic"}, Active: true, CreatedAt: time.Now(), ExpiresAt: &future},
		{ID: "pct_forever", TenantID: "acme", Scopes: []string{"basic"}, Active: true, CreatedAt: time.Now()},
	} {
		if err := s.CreateToken(ctx, tok); err != nil {
			t.Fatalf("CreateToken(%s) error = %v", tok.ID, err)
		}
	}

	n, err := s.DeactivateExpiredTokens(ctx, time.Now())
	if err != nil {
		t.Fatalf("DeactivateExpiredTokens() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeactivateExpiredTokens() = %d, want 1", n)
	}

	old, _ := s.GetToken(ctx, "pct_old")
	if old.Active {
		t.Error("expired token should be inactive after sweep")
	}
	fresh, _ := s.GetToken(ctx, "pct_new")
	if !fresh.Active {
		t.Error("unexpired token should stay active")
	}
}

func TestCredentialRotation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, s, "acme", "Acme Corp")

	put := func(cipher string) {
		t.Helper()
		err := s.PutCredential(ctx, &Credential{
			TenantID:   "acme",
			Provider:   "stripe",
			Key:        "secret_key",
			Ciphertext: []byte(cipher),
			Active:     true,
			CreatedAt:  time.Now(),
		})
		if err != nil {
			t.Fatalf("PutCredential() error = %v", err)
		}
	}

	put("v1-cipher")
	got, err := s.GetCredential(ctx, "acme", "stripe", "secret_key")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if string(got.Ciphertext) != "v1-cipher" {
		t.Errorf("Ciphertext = %q, want %q", got.Ciphertext, "v1-cipher")
	}

	put("v2-cipher")
	got, err = s.GetCredential(ctx, "acme", "stripe", "secret_key")
	if err != nil {
		t.Fatalf("GetCredential() after rotation error = %v", err)
	}
	if string(got.Ciphertext) != "v2-cipher" {
		t.Errorf("Ciphertext after rotation = %q, want %q", got.Ciphertext, "v2-cipher")
	}

	// Only one active row per (tenant, provider, key) after rotation
	creds, err := s.ListCredentials(ctx, "acme")
	if err != nil {
		t.Fatalf("ListCredentials() error = %v", err)
	}
	if len(creds) != 1 {
		t.Errorf("len(ListCredentials) = %d, want 1", len(creds))
	}
	if creds[0].Ciphertext != nil {
		t.Error("ListCredentials must not return ciphertext")
	}

	if _, err := s.GetCredential(ctx, "acme", "stripe", "missing"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("GetCredential(missing) error = %v, want ErrCredentialNotFound", err)
	}
	if _, err := s.GetCredential(ctx, "other", "stripe", "secret_key"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("GetCredential(other tenant) error = %v, want ErrCredentialNotFound", err)
	}
}

func TestDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, s, "acme", "Acme Corp")

	doc := &Document{
		TenantID:  "acme",
		Name:      "notes/onboarding",
		MimeType:  "text/markdown",
		Content:   "# Welcome",
		UpdatedAt: time.Now(),
	}
	if err := s.PutDocument(ctx, doc); err != nil {
		t.Fatalf("PutDocument() error = %v", err)
	}

	got, err := s.GetDocument(ctx, "acme", "notes/onboarding")
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if got.Content != "# Welcome" {
		t.Errorf("Content = %q, want %q", got.Content, "# Welcome")
	}

	// Upsert replaces content
	doc.Content = "# Updated"
	doc.UpdatedAt = time.Now()
	if err := s.PutDocument(ctx, doc); err != nil {
		t.Fatalf("PutDocument() upsert error = %v", err)
	}
	got, err = s.GetDocument(ctx, "acme", "notes/onboarding")
	if err != nil {
		t.Fatalf("GetDocument() after upsert error = %v", err)
	}
	if got.Content != "# Updated" {
		t.Errorf("Content after upsert = %q, want %q", got.Content, "# Updated")
	}

	docs, err := s.ListDocuments(ctx, "acme")
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("len(ListDocuments) = %d, want 1", len(docs))
	}

	if _, err := s.GetDocument(ctx, "acme", "missing"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("GetDocument(missing) error = %v, want ErrDocumentNotFound", err)
	}
}
