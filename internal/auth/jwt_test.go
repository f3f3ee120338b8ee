package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"), "portcullis")

	signed, err := v.Generate("tenant-1", []string{ScopeBasic, ScopeCRM}, time.Minute)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	tenantID, scopes, err := v.Verify(signed)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if tenantID != "tenant-1" {
		t.Errorf("tenantID = %q, want tenant-1", tenantID)
	}
	if len(scopes) != 2 || scopes[0] != ScopeBasic || scopes[1] != ScopeCRM {
		t.Errorf("scopes = %v, want [basic crm]", scopes)
	}
}

func TestJWTVerifier_Expired(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"), "")

	signed, err := v.Generate("tenant-1", []string{ScopeBasic}, -time.Minute)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if _, _, err := v.Verify(signed); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify(expired) error = %v, want ErrTokenExpired", err)
	}
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	signer := NewJWTVerifier([]byte("secret-a"), "")
	verifier := NewJWTVerifier([]byte("secret-b"), "")

	signed, err := signer.Generate("tenant-1", []string{ScopeBasic}, time.Minute)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if _, _, err := verifier.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify(wrong secret) error = %v, want ErrInvalidToken", err)
	}
}

func TestJWTVerifier_IssuerMismatch(t *testing.T) {
	signer := NewJWTVerifier([]byte("secret"), "someone-else")
	verifier := NewJWTVerifier([]byte("secret"), "portcullis")

	signed, err := signer.Generate("tenant-1", []string{ScopeBasic}, time.Minute)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if _, _, err := verifier.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify(issuer mismatch) error = %v, want ErrInvalidToken", err)
	}
}

func TestJWTVerifier_MissingClaims(t *testing.T) {
	secret := []byte("secret")
	v := NewJWTVerifier(secret, "")

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"no tenant_id", jwt.MapClaims{"scopes": []string{ScopeBasic}, "exp": time.Now().Add(time.Minute).Unix()}},
		{"no scopes", jwt.MapClaims{"tenant_id": "tenant-1", "exp": time.Now().Add(time.Minute).Unix()}},
		{"empty tenant_id", jwt.MapClaims{"tenant_id": "", "scopes": []string{ScopeBasic}, "exp": time.Now().Add(time.Minute).Unix()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, tt.claims)
			signed, err := token.SignedString(secret)
			if err != nil {
				t.Fatalf("SignedString() error = %v", err)
			}
			if _, _, err := v.Verify(signed); !errors.Is(err, ErrMissingClaim) {
				t.Errorf("Verify() error = %v, want ErrMissingClaim", err)
			}
		})
	}
}

func TestJWTVerifier_RejectsNone(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"), "")

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"tenant_id": "tenant-1",
		"scopes":    []string{ScopeBasic},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, _, err := v.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify(alg=none) error = %v, want ErrInvalidToken", err)
	}
}
