package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/HyphaGroup/portcullis/internal/store"
)

func TestAuthenticate_OpaqueToken(t *testing.T) {
	gw, st := newTestGateway(t)
	seedTenant(t, st, "acme", true)
	ctx := context.Background()

	token, err := gw.CreateToken(ctx, "acme", "ci", []string{ScopeBasic, ScopeEmail}, time.Hour)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	if !strings.HasPrefix(token.ID, TokenPrefix) {
		t.Errorf("token ID = %q, want %s prefix", token.ID, TokenPrefix)
	}

	authCtx, err := gw.Authenticate(ctx, token.ID)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if authCtx.TenantID != "acme" {
		t.Errorf("TenantID = %q, want acme", authCtx.TenantID)
	}
	if authCtx.TenantName != "acme-name" {
		t.Errorf("TenantName = %q, want acme-name", authCtx.TenantName)
	}
	if !authCtx.HasScopes([]string{ScopeBasic, ScopeEmail}) {
		t.Errorf("Scopes = %v, want basic+email", authCtx.Scopes)
	}
	if authCtx.HasScope(ScopePayments) {
		t.Error("context should not hold payments scope")
	}
}

func TestAuthenticate_Malformed(t *testing.T) {
	gw, _ := newTestGateway(t)

	for _, raw := range []string{"", "garbage", "Bearer pct_x", "oub_something"} {
		if _, err := gw.Authenticate(context.Background(), raw); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Authenticate(%q) error = %v, want ErrInvalidToken", raw, err)
		}
	}
}

func TestAuthenticate_UnknownToken(t *testing.T) {
	gw, _ := newTestGateway(t)

	_, err := gw.Authenticate(context.Background(), TokenPrefix+strings.Repeat("ab", 32))
	if !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Authenticate() error = %v, want ErrTokenNotFound", err)
	}
}

func TestAuthenticate_ExpiredToken(t *testing.T) {
	gw, st := newTestGateway(t)
	seedTenant(t, st, "acme", true)
	ctx := context.Background()

	expired := time.Now().UTC().Add(-time.Minute)
	token := &store.Token{
		ID:        TokenPrefix + strings.Repeat("cd", 32),
		TenantID:  "acme",
		Label:     "stale",
		Scopes:    []string{ScopeBasic},
		Active:    true,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		ExpiresAt: &expired,
	}
	if err := st.CreateToken(ctx, token); err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}

	if _, err := gw.Authenticate(ctx, token.ID); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Authenticate(expired) error = %v, want ErrTokenExpired", err)
	}
}

func TestAuthenticate_RevokedToken(t *testing.T) {
	gw, st := newTestGateway(t)
	seedTenant(t, st, "acme", true)
	ctx := context.Background()

	token, err := gw.CreateToken(ctx, "acme", "doomed", []string{ScopeBasic}, 0)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	if err := gw.RevokeToken(ctx, token.ID); err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}

	if _, err := gw.Authenticate(ctx, token.ID); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Authenticate(revoked) error = %v, want ErrTokenExpired", err)
	}
}

func TestAuthenticate_InactiveTenant(t *testing.T) {
	gw, st := newTestGateway(t)
	seedTenant(t, st, "acme", true)
	ctx := context.Background()

	token, err := gw.CreateToken(ctx, "acme", "orphaned", []string{ScopeBasic}, 0)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	if err := st.DeactivateTenant(ctx, "acme"); err != nil {
		t.Fatalf("DeactivateTenant() error = %v", err)
	}

	if _, err := gw.Authenticate(ctx, token.ID); !errors.Is(err, ErrTenantInvalid) {
		t.Errorf("Authenticate(inactive tenant) error = %v, want ErrTenantInvalid", err)
	}
}

func TestCreateToken_Validation(t *testing.T) {
	gw, st := newTestGateway(t)
	seedTenant(t, st, "acme", true)
	ctx := context.Background()

	if _, err := gw.CreateToken(ctx, "acme", "bad", []string{"superuser"}, 0); err == nil {
		t.Error("CreateToken(unknown scope) should fail")
	}
	if _, err := gw.CreateToken(ctx, "nobody", "bad", []string{ScopeBasic}, 0); !errors.Is(err, ErrTenantInvalid) {
		t.Errorf("CreateToken(unknown tenant) error = %v, want ErrTenantInvalid", err)
	}

	token, err := gw.CreateToken(ctx, "acme", "good", []string{ScopeBasic}, 0)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	if len(token.ID) != len(TokenPrefix)+64 {
		t.Errorf("token ID length = %d, want %d", len(token.ID), len(TokenPrefix)+64)
	}
	if token.ExpiresAt != nil {
		t.Error("zero TTL should produce a non-expiring token")
	}
}

func TestCheckTenant(t *testing.T) {
	gw, st := newTestGateway(t)
	seedTenant(t, st, "acme", true)
	ctx := context.Background()

	if err := gw.CheckTenant(ctx, "acme"); err != nil {
		t.Errorf("CheckTenant(active) error = %v", err)
	}
	if err := gw.CheckTenant(ctx, "nobody"); !errors.Is(err, ErrTenantInvalid) {
		t.Errorf("CheckTenant(missing) error = %v, want ErrTenantInvalid", err)
	}

	if err := st.DeactivateTenant(ctx, "acme"); err != nil {
		t.Fatalf("DeactivateTenant() error = %v", err)
	}
	if err := gw.CheckTenant(ctx, "acme"); !errors.Is(err, ErrTenantInvalid) {
		t.Errorf("CheckTenant(deactivated) error = %v, want ErrTenantInvalid", err)
	}
}

func TestAuthenticate_JWT(t *testing.T) {
	st, err := store.NewSQLiteStore(t.TempDir() + "/jwt_gw.db")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	verifier := NewJWTVerifier([]byte("shared-secret"), "portcullis")
	gw := NewGateway(st, verifier)
	seedTenant(t, st, "acme", true)
	ctx := context.Background()

	signed, err := verifier.Generate("acme", []string{ScopeBasic, ScopeVoice}, time.Minute)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	authCtx, err := gw.Authenticate(ctx, signed)
	if err != nil {
		t.Fatalf("Authenticate(jwt) error = %v", err)
	}
	if authCtx.TenantID != "acme" {
		t.Errorf("TenantID = %q, want acme", authCtx.TenantID)
	}
	if !authCtx.HasScopes([]string{ScopeBasic, ScopeVoice}) {
		t.Errorf("Scopes = %v, want basic+voice", authCtx.Scopes)
	}

	// A signed JWT still cannot reach a deactivated tenant
	if err := st.DeactivateTenant(ctx, "acme"); err != nil {
		t.Fatalf("DeactivateTenant() error = %v", err)
	}
	if _, err := gw.Authenticate(ctx, signed); !errors.Is(err, ErrTenantInvalid) {
		t.Errorf("Authenticate(jwt, inactive tenant) error = %v, want ErrTenantInvalid", err)
	}
}

func TestAuthenticate_JWTDisabled(t *testing.T) {
	gw, st := newTestGateway(t) // no verifier configured
	seedTenant(t, st, "acme", true)

	other := NewJWTVerifier([]byte("secret"), "")
	signed, err := other.Generate("acme", []string{ScopeBasic}, time.Minute)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if _, err := gw.Authenticate(context.Background(), signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Authenticate(jwt, disabled) error = %v, want ErrInvalidToken", err)
	}
}
