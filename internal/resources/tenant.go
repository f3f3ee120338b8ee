package resources

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mcp_sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/portcullis/internal/auth"
	"github.com/HyphaGroup/portcullis/internal/registry"
	"github.com/HyphaGroup/portcullis/internal/store"
)

const tenantScheme = "tenant"

// TenantDocs serves a tenant's own documents from the store as
// tenant:// resources. The tenant is taken from the call's auth
// context, never from the URI, so one tenant cannot address another
// tenant's documents no matter what it sends.
type TenantDocs struct {
	store store.Store
}

// NewTenantDocs creates the per-tenant document resolver
func NewTenantDocs(st store.Store) *TenantDocs {
	return &TenantDocs{store: st}
}

// Scheme implements registry.ResourceResolver
func (t *TenantDocs) Scheme() string { return tenantScheme }

// RequiredScopes implements registry.ResourceResolver
func (t *TenantDocs) RequiredScopes() []string { return []string{auth.ScopeBasic} }

// List returns the calling tenant's documents
func (t *TenantDocs) List(ctx context.Context, call registry.CallContext) ([]*mcp_sdk.Resource, error) {
	docs, err := t.store.ListDocuments(ctx, call.Auth.TenantID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	out := make([]*mcp_sdk.Resource, 0, len(docs))
	for _, doc := range docs {
		out = append(out, &mcp_sdk.Resource{
			URI:      tenantScheme + "://" + doc.Name,
			Name:     doc.Name,
			MIMEType: doc.MimeType,
		})
	}
	return out, nil
}

// Read fetches one document by name for the calling tenant
func (t *TenantDocs) Read(ctx context.Context, call registry.CallContext, uri string) (*mcp_sdk.ReadResourceResult, error) {
	name, ok := strings.CutPrefix(uri, tenantScheme+"://")
	if !ok || name == "" {
		return nil, fmt.Errorf("resource %s: %w", uri, registry.ErrNotFound)
	}

	doc, err := t.store.GetDocument(ctx, call.Auth.TenantID, name)
	if err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			return nil, fmt.Errorf("resource %s: %w", uri, registry.ErrNotFound)
		}
		return nil, fmt.Errorf("reading document %s: %w", name, err)
	}

	mimeType := doc.MimeType
	if mimeType == "" {
		mimeType = "text/plain"
	}
	return &mcp_sdk.ReadResourceResult{
		Contents: []*mcp_sdk.ResourceContents{
			{URI: uri, MIMEType: mimeType, Text: doc.Content},
		},
	}, nil
}
