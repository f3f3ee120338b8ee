package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/HyphaGroup/portcullis/internal/logger"
	"github.com/HyphaGroup/portcullis/internal/metrics"
	"github.com/HyphaGroup/portcullis/internal/store"
)

// TokenPrefix marks opaque bearer tokens issued by this server
const TokenPrefix = "pct_"

var (
	ErrInvalidToken  = errors.New("invalid token format")
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired or revoked")
	ErrTenantInvalid = errors.New("tenant inactive or unknown")
)

// Gateway authenticates bearer tokens and resolves them to tenants.
// It accepts opaque pct_ tokens looked up in the store, and HS256 JWTs
// when a verifier is configured. Both paths end at the same tenant
// checks, so a signed JWT for a deactivated tenant is still refused.
type Gateway struct {
	store store.Store
	jwt   *JWTVerifier
}

// NewGateway creates a gateway over the given store. jwtVerifier may be
// nil, which disables the JWT path entirely.
func NewGateway(st store.Store, jwtVerifier *JWTVerifier) *Gateway {
	return &Gateway{store: st, jwt: jwtVerifier}
}

// Authenticate resolves a raw bearer token to an AuthContext.
// Error values map to protocol errors: ErrInvalidToken and
// ErrTokenNotFound mean unauthorized, ErrTokenExpired covers both
// expiry and revocation, ErrTenantInvalid means the owning tenant
// cannot be served.
func (g *Gateway) Authenticate(ctx context.Context, rawToken string) (*AuthContext, error) {
	rawToken = strings.TrimSpace(rawToken)

	switch {
	case strings.HasPrefix(rawToken, TokenPrefix):
		return g.authenticateOpaque(ctx, rawToken)
	case g.jwt != nil && strings.Count(rawToken, ".") == 2:
		return g.authenticateJWT(ctx, rawToken)
	default:
		metrics.RecordAuthFailure("malformed")
		return nil, ErrInvalidToken
	}
}

func (g *Gateway) authenticateOpaque(ctx context.Context, rawToken string) (*AuthContext, error) {
	token, err := g.store.GetToken(ctx, rawToken)
	if errors.Is(err, store.ErrTokenNotFound) {
		metrics.RecordAuthFailure("unknown_token")
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up token: %w", err)
	}

	if !token.Active {
		metrics.RecordAuthFailure("revoked")
		return nil, ErrTokenExpired
	}
	if token.ExpiresAt != nil && time.Now().After(*token.ExpiresAt) {
		metrics.RecordAuthFailure("expired")
		return nil, ErrTokenExpired
	}

	tenant, err := g.resolveTenant(ctx, token.TenantID)
	if err != nil {
		return nil, err
	}

	// Last-used is informational; never block the request on it.
	go g.touch(token.ID)

	return &AuthContext{
		TenantID:   tenant.ID,
		TenantName: tenant.Name,
		TokenID:    token.ID,
		Scopes:     slices.Clone(token.Scopes),
	}, nil
}

func (g *Gateway) authenticateJWT(ctx context.Context, rawToken string) (*AuthContext, error) {
	tenantID, scopes, err := g.jwt.Verify(rawToken)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			metrics.RecordAuthFailure("jwt_expired")
		} else {
			metrics.RecordAuthFailure("jwt_invalid")
		}
		return nil, err
	}

	tenant, err := g.resolveTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	return &AuthContext{
		TenantID:   tenant.ID,
		TenantName: tenant.Name,
		TokenID:    "jwt:" + tenantID,
		Scopes:     scopes,
	}, nil
}

func (g *Gateway) resolveTenant(ctx context.Context, tenantID string) (*store.Tenant, error) {
	tenant, err := g.store.GetTenant(ctx, tenantID)
	if errors.Is(err, store.ErrTenantNotFound) {
		metrics.RecordAuthFailure("tenant_missing")
		return nil, ErrTenantInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("looking up tenant: %w", err)
	}
	if !tenant.Active {
		metrics.RecordAuthFailure("tenant_inactive")
		return nil, ErrTenantInvalid
	}
	return tenant, nil
}

// CheckTenant re-verifies that a tenant is still active. The protocol
// engine calls this before executing a tool so a deactivation lands
// mid-session instead of at the next connect.
func (g *Gateway) CheckTenant(ctx context.Context, tenantID string) error {
	_, err := g.resolveTenant(ctx, tenantID)
	return err
}

// CreateToken mints a new opaque token for a tenant. The returned
// Token.ID is the secret itself and is only shown once, at creation.
func (g *Gateway) CreateToken(ctx context.Context, tenantID, label string, scopes []string, ttl time.Duration) (*store.Token, error) {
	if err := ValidateScopes(scopes); err != nil {
		return nil, err
	}
	if _, err := g.resolveTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}

	now := time.Now().UTC()
	token := &store.Token{
		ID:        TokenPrefix + hex.EncodeToString(tokenBytes),
		TenantID:  tenantID,
		Label:     label,
		Scopes:    slices.Clone(scopes),
		Active:    true,
		CreatedAt: now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		token.ExpiresAt = &expires
	}

	if err := g.store.CreateToken(ctx, token); err != nil {
		return nil, fmt.Errorf("storing token: %w", err)
	}

	logger.InfoContext(ctx, "token created",
		"tenant_id", tenantID,
		"token", MaskToken(token.ID),
		"scopes", scopes)
	return token, nil
}

// RevokeToken deactivates a token immediately
func (g *Gateway) RevokeToken(ctx context.Context, tokenID string) error {
	if err := g.store.RevokeToken(ctx, tokenID); err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			return ErrTokenNotFound
		}
		return err
	}
	logger.InfoContext(ctx, "token revoked", "token", MaskToken(tokenID))
	return nil
}

func (g *Gateway) touch(tokenID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = g.store.TouchToken(ctx, tokenID, time.Now().UTC())
}
