package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	signer := NewSigner([]byte("secret"), time.Hour)
	token, issued, err := signer.Issue("user-1", "Avery")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := signer.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Sub != "user-1" || claims.Name != "Avery" || claims.JTI != issued.JTI {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	signer := NewSigner([]byte("secret"), time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return base }
	token, _, err := signer.Issue("user-1", "Avery")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	signer.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := signer.Parse(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	signer := NewSigner([]byte("secret"), time.Hour)
	token, _, _ := signer.Issue("user-1", "Avery")

	other := NewSigner([]byte("other"), time.Hour)
	if _, err := other.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign secret, got %v", err)
	}
	for _, bad := range []string{"", "abc", token + ".x", "x" + token} {
		if _, err := signer.Parse(bad); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", bad, err)
		}
	}
}

func TestHashTokenIsStableHex(t *testing.T) {
	h := HashToken("refresh")
	if h != HashToken("refresh") || len(h) != 64 || strings.ToLower(h) != h {
		t.Fatalf("unexpected hash %q", h)
	}
	if NewRefreshToken() == NewRefreshToken() {
		t.Fatal("expected distinct refresh tokens")
	}
}

func TestContextIdentity(t *testing.T) {
	ctx := context.Background()
	if got := (ContextIdentity{}).CurrentOwnerID(ctx); got != "" {
		t.Fatalf("expected no owner, got %q", got)
	}
	ctx = WithClaims(ctx, Claims{Sub: "user-9"})
	if got := (ContextIdentity{}).CurrentOwnerID(ctx); got != "user-9" {
		t.Fatalf("expected user-9, got %q", got)
	}
	if got := StaticIdentity("u1").CurrentOwnerID(context.Background()); got != "u1" {
		t.Fatalf("expected u1, got %q", got)
	}
}
