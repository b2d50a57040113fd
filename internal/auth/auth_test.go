package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func withSecret(t *testing.T, secret string) {
	t.Helper()
	t.Setenv(secretEnvVariable, secret)
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidate(t *testing.T) {
	withSecret(t, "unit-test-secret")

	token, err := GenerateToken("svc-checkout", []string{"Admin", "reporting", "admin"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "svc-checkout" {
		t.Fatalf("subject: %s", claims.Subject)
	}
	if claims.Issuer != issuer {
		t.Fatalf("issuer: %s", claims.Issuer)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("roles not deduplicated: %v", claims.Roles)
	}
	if !slices.Contains(claims.Roles, RoleAdmin) || !slices.Contains(claims.Roles, RoleReporting) {
		t.Fatalf("roles lost: %v", claims.Roles)
	}
}

func TestParseRejectsTampering(t *testing.T) {
	withSecret(t, "unit-test-secret")

	token, err := GenerateToken("svc", nil, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := ParseAndValidate(token + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token accepted: %v", err)
	}
	if _, err := ParseAndValidate(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token accepted: %v", err)
	}
}

func TestParseRejectsForeignSecret(t *testing.T) {
	withSecret(t, "secret-a")
	token, err := GenerateToken("svc", nil, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	withSecret(t, "secret-b")
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign-signed token accepted: %v", err)
	}
}

func TestGenerateRequiresSecret(t *testing.T) {
	withSecret(t, "")
	if _, err := GenerateToken("svc", nil, time.Minute); err == nil {
		t.Fatalf("expected missing-secret error")
	}
	if TokensEnabled() {
		t.Fatalf("tokens reported enabled without a secret")
	}
}

func TestGenerateValidatesInput(t *testing.T) {
	withSecret(t, "unit-test-secret")
	if _, err := GenerateToken("  ", nil, time.Minute); err == nil {
		t.Fatalf("blank subject accepted")
	}
	if _, err := GenerateToken("svc", nil, 0); err == nil {
		t.Fatalf("zero ttl accepted")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithSubject(ctx, "svc-reporting", []string{"Reporting", "reporting", "admin"})

	subject, ok := SubjectFromContext(ctx)
	if !ok || subject != "svc-reporting" {
		t.Fatalf("subject: %s ok=%v", subject, ok)
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", roles)
	}
	if !HasRole(ctx, "ADMIN") || !HasRole(ctx, RoleReporting) {
		t.Fatalf("HasRole missing roles: %v", roles)
	}
	if HasRole(ctx, "operator") {
		t.Fatalf("unexpected role")
	}
	if _, ok := SubjectFromContext(context.Background()); ok {
		t.Fatalf("subject found in empty context")
	}
}
