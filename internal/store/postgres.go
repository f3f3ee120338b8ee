package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to Postgres and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("Postgres store initialized")
	return s, nil
}

// ensureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenants (
  id text PRIMARY KEY,
  name text NOT NULL,
  active boolean NOT NULL DEFAULT true,
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL
);
CREATE TABLE IF NOT EXISTS tokens (
  id text PRIMARY KEY,
  tenant_id text NOT NULL REFERENCES tenants(id),
  label text NOT NULL DEFAULT '',
  scopes text[] NOT NULL DEFAULT '{}',
  active boolean NOT NULL DEFAULT true,
  created_at timestamptz NOT NULL,
  last_used_at timestamptz,
  expires_at timestamptz
);
CREATE INDEX IF NOT EXISTS idx_tokens_tenant ON tokens(tenant_id);
CREATE TABLE IF NOT EXISTS credentials (
  id bigserial PRIMARY KEY,
  tenant_id text NOT NULL REFERENCES tenants(id),
  provider text NOT NULL,
  cred_key text NOT NULL,
  ciphertext bytea NOT NULL,
  active boolean NOT NULL DEFAULT true,
  created_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credentials_lookup
  ON credentials(tenant_id, provider, cred_key, active);
CREATE TABLE IF NOT EXISTS documents (
  tenant_id text NOT NULL REFERENCES tenants(id),
  name text NOT NULL,
  mime_type text NOT NULL DEFAULT 'text/plain',
  content text NOT NULL,
  updated_at timestamptz NOT NULL,
  PRIMARY KEY (tenant_id, name)
);
`)
	return err
}

// Close releases the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies the database is reachable
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateTenant inserts a new tenant
func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *Tenant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		tenant.ID, tenant.Name, tenant.Active, tenant.CreatedAt, tenant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting tenant: %w", err)
	}
	return nil
}

// GetTenant returns a tenant by id
func (s *PostgresStore) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	var t Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, active, created_at, updated_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tenant: %w", err)
	}
	return &t, nil
}

// ListTenants returns all tenants, newest first
func (s *PostgresStore) ListTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, active, created_at, updated_at FROM tenants ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		tenants = append(tenants, &t)
	}
	return tenants, rows.Err()
}

// DeactivateTenant soft-deletes a tenant
func (s *PostgresStore) DeactivateTenant(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET active = false, updated_at = $1 WHERE id = $2`, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("deactivating tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// CreateToken inserts a new token
func (s *PostgresStore) CreateToken(ctx context.Context, token *Token) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tokens (id, tenant_id, label, scopes, active, created_at, last_used_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		token.ID, token.TenantID, token.Label, token.Scopes, token.Active,
		token.CreatedAt, token.LastUsedAt, token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting token: %w", err)
	}
	return nil
}

// GetToken returns a token by its full secret id
func (s *PostgresStore) GetToken(ctx context.Context, id string) (*Token, error) {
	var (
		t          Token
		lastUsedAt *time.Time
		expiresAt  *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, label, scopes, active, created_at, last_used_at, expires_at
		 FROM tokens WHERE id = $1`, id,
	).Scan(&t.ID, &t.TenantID, &t.Label, &t.Scopes, &t.Active, &t.CreatedAt, &lastUsedAt, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying token: %w", err)
	}
	t.LastUsedAt = lastUsedAt
	t.ExpiresAt = expiresAt
	return &t, nil
}

// TouchToken records a token use
func (s *PostgresStore) TouchToken(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE tokens SET last_used_at = $1 WHERE id = $2`, at, id)
	return err
}

// RevokeToken deactivates a token
func (s *PostgresStore) RevokeToken(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE tokens SET active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// ListTokens returns a tenant's tokens, or all tokens when tenantID is empty
func (s *PostgresStore) ListTokens(ctx context.Context, tenantID string) ([]*Token, error) {
	query := `SELECT id, tenant_id, label, scopes, active, created_at, last_used_at, expires_at
		 FROM tokens ORDER BY created_at DESC`
	args := []any{}
	if tenantID != "" {
		query = `SELECT id, tenant_id, label, scopes, active, created_at, last_used_at, expires_at
			 FROM tokens WHERE tenant_id = $1 ORDER BY created_at DESC`
		args = append(args, tenantID)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*Token
	for rows.Next() {
		var (
			t          Token
			lastUsedAt *time.Time
			expiresAt  *time.Time
		)
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Label, &t.Scopes, &t.Active, &t.CreatedAt, &lastUsedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning token: %w", err)
		}
		t.LastUsedAt = lastUsedAt
		t.ExpiresAt = expiresAt
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

// DeactivateExpiredTokens marks expired tokens inactive and reports how many
func (s *PostgresStore) DeactivateExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tokens SET active = false WHERE active AND expires_at IS NOT NULL AND expires_at < $1`, now,
	)
	if err != nil {
		return 0, fmt.Errorf("deactivating expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PutCredential deactivates the prior active row and inserts the new one
// in a single transaction.
func (s *PostgresStore) PutCredential(ctx context.Context, cred *Credential) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`UPDATE credentials SET active = false
		 WHERE tenant_id = $1 AND provider = $2 AND cred_key = $3 AND active`,
		cred.TenantID, cred.Provider, cred.Key,
	)
	if err != nil {
		return fmt.Errorf("deactivating prior credential: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO credentials (tenant_id, provider, cred_key, ciphertext, active, created_at)
		 VALUES ($1, $2, $3, $4, true, $5)`,
		cred.TenantID, cred.Provider, cred.Key, cred.Ciphertext, cred.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting credential: %w", err)
	}

	return tx.Commit(ctx)
}

// GetCredential returns the active ciphertext for (tenant, provider, key)
func (s *PostgresStore) GetCredential(ctx context.Context, tenantID, provider, key string) (*Credential, error) {
	var c Credential
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id, provider, cred_key, ciphertext, active, created_at
		 FROM credentials
		 WHERE tenant_id = $1 AND provider = $2 AND cred_key = $3 AND active
		 ORDER BY created_at DESC LIMIT 1`,
		tenantID, provider, key,
	).Scan(&c.TenantID, &c.Provider, &c.Key, &c.Ciphertext, &c.Active, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	return &c, nil
}

// ListCredentials returns active credential metadata for a tenant.
// Ciphertext is deliberately not selected.
func (s *PostgresStore) ListCredentials(ctx context.Context, tenantID string) ([]*Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tenant_id, provider, cred_key, active, created_at
		 FROM credentials WHERE tenant_id = $1 AND active
		 ORDER BY provider, cred_key`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	defer rows.Close()

	var creds []*Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(&c.TenantID, &c.Provider, &c.Key, &c.Active, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		creds = append(creds, &c)
	}
	return creds, rows.Err()
}

// PutDocument inserts or replaces a tenant document
func (s *PostgresStore) PutDocument(ctx context.Context, doc *Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (tenant_id, name, mime_type, content, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id, name) DO UPDATE SET
			mime_type = excluded.mime_type,
			content = excluded.content,
			updated_at = excluded.updated_at`,
		doc.TenantID, doc.Name, doc.MimeType, doc.Content, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storing document: %w", err)
	}
	return nil
}

// GetDocument returns a tenant document by name
func (s *PostgresStore) GetDocument(ctx context.Context, tenantID, name string) (*Document, error) {
	var d Document
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id, name, mime_type, content, updated_at
		 FROM documents WHERE tenant_id = $1 AND name = $2`,
		tenantID, name,
	).Scan(&d.TenantID, &d.Name, &d.MimeType, &d.Content, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return &d, nil
}

// ListDocuments returns a tenant's documents ordered by name
func (s *PostgresStore) ListDocuments(ctx context.Context, tenantID string) ([]*Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tenant_id, name, mime_type, content, updated_at
		 FROM documents WHERE tenant_id = $1 ORDER BY name`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.TenantID, &d.Name, &d.MimeType, &d.Content, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}
