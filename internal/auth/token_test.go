package auth

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func writeTokenFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing token file: %v", err)
	}
	return path
}

func TestFileTokenProvider_ReadsAndTrims(t *testing.T) {
	path := writeTokenFile(t, "  my-secret-token\n")
	p := NewFileTokenProvider(path, slog.Default())

	got, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got != "my-secret-token" {
		t.Errorf("Token = %q, want %q", got, "my-secret-token")
	}
}

func TestFileTokenProvider_MissingFile(t *testing.T) {
	p := NewFileTokenProvider(filepath.Join(t.TempDir(), "nope"), slog.Default())
	if _, err := p.Token(context.Background()); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestFileTokenProvider_EmptyFile(t *testing.T) {
	path := writeTokenFile(t, "  \n")
	p := NewFileTokenProvider(path, slog.Default())
	if _, err := p.Token(context.Background()); err == nil {
		t.Fatal("expected error for empty file, got nil")
	}
}

func TestFileTokenProvider_RereadsOnEachCall(t *testing.T) {
	path := writeTokenFile(t, "first")
	p := NewFileTokenProvider(path, slog.Default())
	ctx := context.Background()

	if got, _ := p.Token(ctx); got != "first" {
		t.Fatalf("Token = %q, want %q", got, "first")
	}

	// Simulate a re-login rewriting the file.
	if err := os.WriteFile(path, []byte("second"), 0o600); err != nil {
		t.Fatalf("rewriting token file: %v", err)
	}
	if got, _ := p.Token(ctx); got != "second" {
		t.Errorf("Token = %q, want %q", got, "second")
	}
}

func TestFileTokenProvider_ExpiredJWTStillReturned(t *testing.T) {
	// Expiry is advisory only — an expired token is returned (with a
	// warning logged), never rejected locally.
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	path := writeTokenFile(t, signed)
	p := NewFileTokenProvider(path, slog.Default())

	got, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got != signed {
		t.Errorf("Token did not return the stored credential verbatim")
	}
}

func TestTokenExpiry_NonJWT(t *testing.T) {
	if _, ok := tokenExpiry("opaque-token"); ok {
		t.Error("expected no expiry for non-JWT token")
	}
}

func TestStaticTokenProvider(t *testing.T) {
	ctx := context.Background()

	got, err := StaticTokenProvider("fixed").Token(ctx)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got != "fixed" {
		t.Errorf("Token = %q, want %q", got, "fixed")
	}

	if _, err := StaticTokenProvider("").Token(ctx); err == nil {
		t.Error("expected error for empty static token")
	}
}
