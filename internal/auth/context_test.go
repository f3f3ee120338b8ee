package auth

import (
	"context"
	"testing"
)

func TestWithContext_FromContext(t *testing.T) {
	authCtx := &AuthContext{
		TenantID: "tenant-1",
		TokenID:  "pct_test",
		Scopes:   []string{ScopeBasic},
	}

	ctx := WithContext(context.Background(), authCtx)

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("FromContext() returned nil")
	}

	if got.TenantID != "tenant-1" {
		t.Errorf("FromContext().TenantID = %v, want tenant-1", got.TenantID)
	}
}

func TestFromContext_NoAuth(t *testing.T) {
	ctx := context.Background()

	got := FromContext(ctx)
	if got != nil {
		t.Error("FromContext() should return nil for context without auth")
	}
}

func TestFromContext_WrongType(t *testing.T) {
	// Store something other than AuthContext at the key
	ctx := context.WithValue(context.Background(), authContextKey, "not-auth-context")

	got := FromContext(ctx)
	if got != nil {
		t.Error("FromContext() should return nil for wrong type")
	}
}
