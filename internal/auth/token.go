// Package auth supplies the bearer credential used by the health24 adapter.
// The core never persists or refreshes credentials itself — it only reads
// what an external login flow has stored.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenProvider supplies a bearer credential string or reports that none
// is available. Implemented by [FileTokenProvider].
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// FileTokenProvider reads the access token from a file on every call, so a
// re-login that rewrites the file takes effect without a restart.
type FileTokenProvider struct {
	path string
	log  *slog.Logger
}

// NewFileTokenProvider creates a provider reading the token from path.
func NewFileTokenProvider(path string, logger *slog.Logger) *FileTokenProvider {
	return &FileTokenProvider{path: path, log: logger}
}

// Token returns the stored access token. An empty or missing file is an
// error — the caller cannot talk to the API without a credential.
func (p *FileTokenProvider) Token(_ context.Context) (string, error) {
	b, err := os.ReadFile(p.path)
	if err != nil {
		return "", fmt.Errorf("reading token file %q: %w", p.path, err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", fmt.Errorf("token file %q is empty", p.path)
	}

	if exp, ok := tokenExpiry(token); ok {
		remaining := time.Until(exp)
		switch {
		case remaining <= 0:
			p.log.Warn("access token is expired", "expired_at", exp)
		case remaining < 5*time.Minute:
			p.log.Warn("access token expires soon", "expires_at", exp, "remaining", remaining.Round(time.Second))
		}
	}

	return token, nil
}

// tokenExpiry extracts the exp claim from a JWT without verifying the
// signature. Expiry is advisory here — the API is the authority and will
// reject a stale token anyway. Non-JWT tokens report no expiry.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// StaticTokenProvider returns a fixed token. Intended for tests.
type StaticTokenProvider string

// Token returns the fixed token string.
func (s StaticTokenProvider) Token(_ context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("no token configured")
	}
	return string(s), nil
}
