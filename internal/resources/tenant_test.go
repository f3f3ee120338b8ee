package resources

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/HyphaGroup/portcullis/internal/auth"
	"github.com/HyphaGroup/portcullis/internal/registry"
	"github.com/HyphaGroup/portcullis/internal/store"
)

func newTestDocs(t *testing.T) *TenantDocs {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "resources_test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	now := time.Now().UTC()
	for _, id := range []string{"acme", "globex"} {
		if err := st.CreateTenant(ctx, &store.Tenant{ID: id, Name: id, Active: true, CreatedAt: now, UpdatedAt: now}); err != nil {
			t.Fatalf("CreateTenant(%s) error = %v", id, err)
		}
	}

	docs := []*store.Document{
		{TenantID: "acme", Name: "notes/onboarding", MimeType: "text/markdown", Content: "# Acme onboarding", UpdatedAt: now},
		{TenantID: "acme", Name: "faq", MimeType: "", Content: "acme faq", UpdatedAt: now},
		{TenantID: "globex", Name: "notes/onboarding", MimeType: "text/markdown", Content: "# Globex onboarding", UpdatedAt: now},
	}
	for _, doc := range docs {
		if err := st.PutDocument(ctx, doc); err != nil {
			t.Fatalf("PutDocument(%s) error = %v", doc.Name, err)
		}
	}

	return NewTenantDocs(st)
}

func callAs(tenantID string) registry.CallContext {
	return registry.CallContext{
		Auth: &auth.AuthContext{TenantID: tenantID, Scopes: []string{auth.ScopeBasic}},
	}
}

func TestTenantDocsList(t *testing.T) {
	docs := newTestDocs(t)

	resources, err := docs.List(context.Background(), callAs("acme"))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(resources) != 2 {
		t.Fatalf("List() = %d resources, want 2", len(resources))
	}
	// store orders by name: faq before notes/onboarding
	if resources[0].URI != "tenant://faq" || resources[1].URI != "tenant://notes/onboarding" {
		t.Errorf("List() uris = %s, %s", resources[0].URI, resources[1].URI)
	}
}

func TestTenantDocsRead(t *testing.T) {
	docs := newTestDocs(t)

	result, err := docs.Read(context.Background(), callAs("acme"), "tenant://notes/onboarding")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(result.Contents) != 1 {
		t.Fatalf("Read() returned %d contents, want 1", len(result.Contents))
	}
	c := result.Contents[0]
	if c.Text != "# Acme onboarding" {
		t.Errorf("Text = %q", c.Text)
	}
	if c.MIMEType != "text/markdown" {
		t.Errorf("MIMEType = %q", c.MIMEType)
	}
}

func TestTenantDocsIsolation(t *testing.T) {
	docs := newTestDocs(t)

	// Same document name exists for both tenants; each caller sees its own
	acme, err := docs.Read(context.Background(), callAs("acme"), "tenant://notes/onboarding")
	if err != nil {
		t.Fatalf("Read(acme) error = %v", err)
	}
	globex, err := docs.Read(context.Background(), callAs("globex"), "tenant://notes/onboarding")
	if err != nil {
		t.Fatalf("Read(globex) error = %v", err)
	}
	if acme.Contents[0].Text == globex.Contents[0].Text {
		t.Error("tenants observed identical content for tenant-scoped documents")
	}

	// A document only acme has is invisible to globex
	if _, err := docs.Read(context.Background(), callAs("globex"), "tenant://faq"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Read(globex, acme-only doc) error = %v, want ErrNotFound", err)
	}

	list, err := docs.List(context.Background(), callAs("globex"))
	if err != nil {
		t.Fatalf("List(globex) error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("List(globex) = %d resources, want 1", len(list))
	}
}

func TestTenantDocsReadMissing(t *testing.T) {
	docs := newTestDocs(t)

	_, err := docs.Read(context.Background(), callAs("acme"), "tenant://nope")
	if !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Read(missing) error = %v, want ErrNotFound", err)
	}
}

func TestTenantDocsReadEmptyName(t *testing.T) {
	docs := newTestDocs(t)

	_, err := docs.Read(context.Background(), callAs("acme"), "tenant://")
	if !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Read(empty name) error = %v, want ErrNotFound", err)
	}
}

func TestTenantDocsDefaultMime(t *testing.T) {
	docs := newTestDocs(t)

	result, err := docs.Read(context.Background(), callAs("acme"), "tenant://faq")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := result.Contents[0].MIMEType; got != "text/plain" {
		t.Errorf("MIMEType fallback = %q, want text/plain", got)
	}
}
