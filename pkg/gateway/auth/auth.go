// Package auth carries the caller identity resolved from a gateway API key.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/vango-go/vai-voice-agents/pkg/gateway/ratelimit"
)

type Principal struct {
	APIKey string
	// ID is a stable hash of APIKey, safe for logs and limiter keys.
	ID string
}

func NewPrincipal(apiKey string) *Principal {
	return &Principal{APIKey: apiKey, ID: ratelimit.PrincipalKeyFromAPIKey(apiKey)}
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// ParseBearer reads "Authorization: Bearer <token>". The scheme is matched
// case-insensitively.
func ParseBearer(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
