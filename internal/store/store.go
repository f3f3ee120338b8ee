package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrTokenNotFound      = errors.New("token not found")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrDocumentNotFound   = errors.New("document not found")
)

// Tenant is an isolated customer boundary. Tenants are soft-deleted:
// deactivation leaves tokens and credentials in place but unusable.
type Tenant struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Token is an opaque bearer credential owned by exactly one tenant.
// The ID column holds the full secret; list output must mask it.
type Token struct {
	ID         string
	TenantID   string
	Label      string
	Scopes     []string
	Active     bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
	ExpiresAt  *time.Time
}

// Credential is one encrypted field of a provider credential bundle.
// Only ciphertext is stored; the vault owns encryption and decryption.
type Credential struct {
	TenantID   string
	Provider   string
	Key        string
	Ciphertext []byte
	Active     bool
	CreatedAt  time.Time
}

// Document is a tenant-scoped named document served via tenant:// URIs.
type Document struct {
	TenantID  string
	Name      string
	MimeType  string
	Content   string
	UpdatedAt time.Time
}

// Store is the persistence boundary shared by the auth gateway, the
// credential vault and the tenant resource resolver. Implementations:
// SQLite (default) and Postgres, selected by config.
type Store interface {
	// Tenants
	CreateTenant(ctx context.Context, tenant *Tenant) error
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	ListTenants(ctx context.Context) ([]*Tenant, error)
	DeactivateTenant(ctx context.Context, id string) error

	// Tokens
	CreateToken(ctx context.Context, token *Token) error
	GetToken(ctx context.Context, id string) (*Token, error)
	TouchToken(ctx context.Context, id string, at time.Time) error
	RevokeToken(ctx context.Context, id string) error
	ListTokens(ctx context.Context, tenantID string) ([]*Token, error)
	DeactivateExpiredTokens(ctx context.Context, now time.Time) (int64, error)

	// Credentials. PutCredential deactivates any prior active row for the
	// same (tenant, provider, key) and inserts the new ciphertext, so
	// in-flight reads of the old value are unaffected.
	PutCredential(ctx context.Context, cred *Credential) error
	GetCredential(ctx context.Context, tenantID, provider, key string) (*Credential, error)
	ListCredentials(ctx context.Context, tenantID string) ([]*Credential, error)

	// Documents
	PutDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, tenantID, name string) (*Document, error)
	ListDocuments(ctx context.Context, tenantID string) ([]*Document, error)

	// Ping verifies the backend is reachable (readiness probe).
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
