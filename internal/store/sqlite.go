package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using modernc.org/sqlite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is created if it doesn't exist; parent directories too.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL for concurrent readers during the rare admin write
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS tokens (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			scopes TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			last_used_at DATETIME,
			expires_at DATETIME,
			FOREIGN KEY (tenant_id) REFERENCES tenants(id)
		);

		CREATE INDEX IF NOT EXISTS idx_tokens_tenant ON tokens(tenant_id);

		CREATE TABLE IF NOT EXISTS credentials (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			cred_key TEXT NOT NULL,
			ciphertext BLOB NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (tenant_id) REFERENCES tenants(id)
		);

		CREATE INDEX IF NOT EXISTS idx_credentials_lookup
			ON credentials(tenant_id, provider, cred_key, active);

		CREATE TABLE IF NOT EXISTS documents (
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			mime_type TEXT NOT NULL DEFAULT 'text/plain',
			content TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (tenant_id, name),
			FOREIGN KEY (tenant_id) REFERENCES tenants(id)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateTenant inserts a new tenant
func (s *SQLiteStore) CreateTenant(ctx context.Context, tenant *Tenant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		tenant.ID, tenant.Name, tenant.Active, tenant.CreatedAt, tenant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting tenant: %w", err)
	}
	return nil
}

// GetTenant returns a tenant by id
func (s *SQLiteStore) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	var t Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, active, created_at, updated_at FROM tenants WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tenant: %w", err)
	}
	return &t, nil
}

// ListTenants returns all tenants, newest first
func (s *SQLiteStore) ListTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, active, created_at, updated_at FROM tenants ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
func (s *SQLiteStore) DeactivateTenant(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET active = 0, updated_at = ? WHERE id = ?`, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("deactivating tenant: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// CreateToken inserts a new token
func (s *SQLiteStore) CreateToken(ctx context.Context, token *Token) error {
	scopes, err := json.Marshal(token.Scopes)
	if err != nil {
		return fmt.Errorf("encoding scopes: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tokens (id, tenant_id, label, scopes, active, created_at, last_used_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		token.ID, token.TenantID, token.Label, string(scopes), token.Active,
		token.CreatedAt, token.LastUsedAt, token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting token: %w", err)
	}
	return nil
}

// GetToken returns a token by its full secret id
func (s *SQLiteStore) GetToken(ctx context.Context, id string) (*Token, error) {
	var (
		t          Token
		scopes     string
		lastUsedAt sql.NullTime
		expiresAt  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, label, scopes, active, created_at, last_used_at, expires_at
		 FROM tokens WHERE id = ?`, id,
	).Scan(&t.ID, &t.TenantID, &t.Label, &scopes, &t.Active, &t.CreatedAt, &lastUsedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying token: %w", err)
	}
	if err := json.Unmarshal([]byte(scopes), &t.Scopes); err != nil {
		return nil, fmt.Errorf("decoding scopes: %w", err)
	}
	if lastUsedAt.Valid {
		t.LastUsedAt = &lastUsedAt.Time
	}
	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}
	return &t, nil
}

// TouchToken records a token use
func (s *SQLiteStore) TouchToken(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tokens SET last_used_at = ? WHERE id = ?`, at, id)
	return err
}

// RevokeToken deactivates a token
func (s *SQLiteStore) RevokeToken(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE tokens SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// ListTokens returns a tenant's tokens, or all tokens when tenantID is empty
func (s *SQLiteStore) ListTokens(ctx context.Context, tenantID string) ([]*Token, error) {
	query := `SELECT id, tenant_id, label, scopes, active, created_at, last_used_at, expires_at
		 FROM tokens ORDER BY created_at DESC`
	args := []any{}
	if tenantID != "" {
		query = `SELECT id, tenant_id, label, scopes, active, created_at, last_used_at, expires_at
			 FROM tokens WHERE tenant_id = ? ORDER BY created_at DESC`
		args = append(args, tenantID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []*Token
	for rows.Next() {
		var (
			t          Token
			scopes     string
			lastUsedAt sql.NullTime
			expiresAt  sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Label, &scopes, &t.Active, &t.CreatedAt, &lastUsedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning token: %w", err)
		}
		if err := json.Unmarshal([]byte(scopes), &t.Scopes); err != nil {
			return nil, fmt.Errorf("decoding scopes: %w", err)
		}
		if lastUsedAt.Valid {
			t.LastUsedAt = &lastUsedAt.Time
		}
		if expiresAt.Valid {
			t.ExpiresAt = &expiresAt.Time
		}
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

// DeactivateExpiredTokens marks expired tokens inactive and reports how many
func (s *SQLiteStore) DeactivateExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET active = 0 WHERE active = 1 AND expires_at IS NOT NULL AND expires_at < ?`, now,
	)
	if err != nil {
		return 0, fmt.Errorf("deactivating expired tokens: %w", err)
	}
	return result.RowsAffected()
}

// PutCredential deactivates the prior active row and inserts the new one
// in a single transaction.
func (s *SQLiteStore) PutCredential(ctx context.Context, cred *Credential) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`UPDATE credentials SET active = 0
		 WHERE tenant_id = ? AND provider = ? AND cred_key = ? AND active = 1`,
		cred.TenantID, cred.Provider, cred.Key,
	)
	if err != nil {
		return fmt.Errorf("deactivating prior credential: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credentials (tenant_id, provider, cred_key, ciphertext, active, created_at)
		 VALUES (?, ?, ?, ?, 1, ?)`,
		cred.TenantID, cred.Provider, cred.Key, cred.Ciphertext, cred.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting credential: %w", err)
	}

	return tx.Commit()
}

// GetCredential returns the active ciphertext for (tenant, provider, key)
func (s *SQLiteStore) GetCredential(ctx context.Context, tenantID, provider, key string) (*Credential, error) {
	var c Credential
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, provider, cred_key, ciphertext, active, created_at
		 FROM credentials
		 WHERE tenant_id = ? AND provider = ? AND cred_key = ? AND active = 1
		 ORDER BY created_at DESC LIMIT 1`,
		tenantID, provider, key,
	).Scan(&c.TenantID, &c.Provider, &c.Key, &c.Ciphertext, &c.Active, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	return &c, nil
}

// ListCredentials returns active credential metadata for a tenant.
// Ciphertext is deliberately not selected.
func (s *SQLiteStore) ListCredentials(ctx context.Context, tenantID string) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, provider, cred_key, active, created_at
		 FROM credentials WHERE tenant_id = ? AND active = 1
		 ORDER BY provider, cred_key`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
func (s *SQLiteStore) PutDocument(ctx context.Context, doc *Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (tenant_id, name, mime_type, content, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, name) DO UPDATE SET
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
func (s *SQLiteStore) GetDocument(ctx context.Context, tenantID, name string) (*Document, error) {
	var d Document
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, name, mime_type, content, updated_at
		 FROM documents WHERE tenant_id = ? AND name = ?`,
		tenantID, name,
	).Scan(&d.TenantID, &d.Name, &d.MimeType, &d.Content, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return &d, nil
}

// ListDocuments returns a tenant's documents ordered by name
func (s *SQLiteStore) ListDocuments(ctx context.Context, tenantID string) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, name, mime_type, content, updated_at
		 FROM documents WHERE tenant_id = ? ORDER BY name`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
