package auth

import (
	"testing"
	"time"

	"hookline/internal/platform/config"
)

func TestTokenService_RoundTrip(t *testing.T) {
	svc := NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Minute})

	token, err := svc.GenerateAccessToken("user_1", "acme", "admin", "ops@acme.test", "events:write")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.UserID != "user_1" || claims.TenantID != "acme" || claims.Role != "admin" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if !claims.HasScope("events:write") || claims.HasScope("subscribers:write") {
		t.Errorf("unexpected scopes: %v", claims.Scopes)
	}
}

func TestTokenService_Rejects(t *testing.T) {
	svc := NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Minute})
	other := NewTokenService(config.JWTConfig{Secret: "other-secret", AccessTokenTTL: time.Minute})
	expired := NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: -time.Minute})

	foreign, _ := other.GenerateAccessToken("u", "t", "admin", "e")
	stale, _ := expired.GenerateAccessToken("u", "t", "admin", "e")

	for name, token := range map[string]string{
		"wrong secret": foreign,
		"expired":      stale,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.ValidateToken(token); err == nil {
				t.Error("expected ValidateToken() to fail")
			}
		})
	}
}

func TestClaims_HasScopeUnrestricted(t *testing.T) {
	c := &Claims{}
	if !c.HasScope("anything") {
		t.Error("token without scopes should be unrestricted")
	}
}

func TestTokenService_NoSecret(t *testing.T) {
	svc := NewTokenService(config.JWTConfig{})
	if _, err := svc.GenerateAccessToken("u", "t", "admin", "e"); err == nil {
		t.Error("expected error without secret")
	}
}
