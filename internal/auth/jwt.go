package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingClaim reports a structurally valid JWT without the claims
// this server requires.
var ErrMissingClaim = errors.New("missing required claim")

// JWTVerifier validates HS256-signed tokens carrying tenant identity.
// JWTs let an operator mint short-lived access out of band; the gateway
// still checks the tenant against the store after verification.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier creates a verifier with the given shared secret.
// If issuer is non-empty, the iss claim must match it.
func NewJWTVerifier(secret []byte, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: secret, issuer: issuer}
}

// Verify validates signature and expiry and extracts the tenant_id and
// scopes claims.
func (v *JWTVerifier) Verify(tokenString string) (tenantID string, scopes []string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Only HMAC signatures are acceptable for a shared-secret setup
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", nil, ErrTokenExpired
		}
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", nil, ErrInvalidToken
	}

	if v.issuer != "" {
		iss, _ := claims.GetIssuer()
		if iss != v.issuer {
			return "", nil, fmt.Errorf("%w: issuer %q", ErrInvalidToken, iss)
		}
	}

	tenantID, ok = claims["tenant_id"].(string)
	if !ok || tenantID == "" {
		return "", nil, fmt.Errorf("%w: tenant_id", ErrMissingClaim)
	}

	rawScopes, ok := claims["scopes"].([]interface{})
	if !ok {
		return "", nil, fmt.Errorf("%w: scopes", ErrMissingClaim)
	}
	for _, s := range rawScopes {
		scope, ok := s.(string)
		if !ok {
			return "", nil, fmt.Errorf("%w: scopes must be strings", ErrInvalidToken)
		}
		scopes = append(scopes, scope)
	}

	return tenantID, scopes, nil
}

// Generate creates a signed token for a tenant with the given lifetime
func (v *JWTVerifier) Generate(tenantID string, scopes []string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"tenant_id": tenantID,
		"scopes":    scopes,
		"iat":       now.Unix(),
		"exp":       now.Add(expiresIn).Unix(),
	}
	if v.issuer != "" {
		claims["iss"] = v.issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
