package auth

import (
	"fmt"
	"slices"
)

// Scope constants. A token carries a set of scopes; every tool and
// resource declares the scopes it requires and a caller must hold all
// of them.
const (
	ScopeBasic    = "basic"
	ScopeBooking  = "booking"
	ScopeCRM      = "crm"
	ScopePayments = "payments"
	ScopeEmail    = "email"
	ScopeVoice    = "voice"
)

// KnownScopes lists every scope the server recognizes
var KnownScopes = []string{
	ScopeBasic,
	ScopeBooking,
	ScopeCRM,
	ScopePayments,
	ScopeEmail,
	ScopeVoice,
}

// ValidateScopes rejects scope names the server does not recognize.
// Used at token-creation time so typos fail loudly instead of becoming
// tokens that can never call anything.
func ValidateScopes(scopes []string) error {
	if len(scopes) == 0 {
		return fmt.Errorf("at least one scope is required")
	}
	for _, s := range scopes {
		if !slices.Contains(KnownScopes, s) {
			return fmt.Errorf("unknown scope %q (known: %v)", s, KnownScopes)
		}
	}
	return nil
}

// AuthContext is the immutable identity attached to a request after
// authentication. It is a snapshot: revoking the token or deactivating
// the tenant affects later requests, not one already in flight.
type AuthContext struct {
	TenantID   string
	TenantName string
	TokenID    string // full token secret; always mask before logging
	Scopes     []string
}

// HasScope reports whether the context holds one scope
func (a *AuthContext) HasScope(scope string) bool {
	if a == nil {
		return false
	}
	return slices.Contains(a.Scopes, scope)
}

// HasScopes reports whether the context holds every required scope.
// An empty requirement always passes.
func (a *AuthContext) HasScopes(required []string) bool {
	if len(required) == 0 {
		return true
	}
	if a == nil {
		return false
	}
	for _, r := range required {
		if !slices.Contains(a.Scopes, r) {
			return false
		}
	}
	return true
}

// MissingScopes returns the required scopes the context does not hold,
// in the order they were required. Used to build actionable errors.
func (a *AuthContext) MissingScopes(required []string) []string {
	var missing []string
	for _, r := range required {
		if !a.HasScope(r) {
			missing = append(missing, r)
		}
	}
	return missing
}

// MaskToken renders a token safe for logs and list output
func MaskToken(tokenID string) string {
	if len(tokenID) <= 12 {
		return "***"
	}
	return tokenID[:8] + "..." + tokenID[len(tokenID)-4:]
}
