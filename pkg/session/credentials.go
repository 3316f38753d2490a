package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vango-go/vai-voice-agents/pkg/core"
)

const (
	defaultTokenPath    = "/api/session"
	defaultTokenTimeout = 15 * time.Second
	maxTokenBody        = 1 << 20
)

// Credential is the short-lived realtime key minted by the token endpoint.
type Credential struct {
	Value     string
	ExpiresAt time.Time
	// Raw is the endpoint's response body, recorded in the event log.
	Raw json.RawMessage
}

type CredentialSource interface {
	Fetch(ctx context.Context) (Credential, error)
}

// CredentialFunc adapts a function to CredentialSource.
type CredentialFunc func(ctx context.Context) (Credential, error)

func (f CredentialFunc) Fetch(ctx context.Context) (Credential, error) { return f(ctx) }

// HTTPCredentialSource fetches credentials from the gateway's session
// endpoint. Concurrent fetches share one request.
type HTTPCredentialSource struct {
	BaseURL string
	// Path defaults to /api/session.
	Path string
	// APIKey is sent as a bearer token when the gateway requires auth.
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration

	group singleflight.Group
}

type tokenResponse struct {
	ClientSecret *struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

func (s *HTTPCredentialSource) Fetch(ctx context.Context) (Credential, error) {
	v, err, _ := s.group.Do("token", func() (any, error) {
		return s.fetch(ctx)
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

func (s *HTTPCredentialSource) fetch(ctx context.Context) (Credential, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultTokenTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path := s.Path
	if path == "" {
		path = defaultTokenPath
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(s.BaseURL, "/")+path, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("build token request: %w", err)
	}
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}
	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Credential{}, core.NewTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBody))
	if err != nil {
		return Credential{}, core.NewTransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Credential{Raw: rawOrNil(body)}, core.NewCredentialError("token_endpoint_status",
			fmt.Sprintf("token endpoint returned %d", resp.StatusCode))
	}
	return ParseCredential(body)
}

// ParseCredential extracts client_secret.value from a token response.
func ParseCredential(body []byte) (Credential, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Credential{}, core.NewCredentialError("invalid_token_response", "token response is not valid JSON")
	}
	cred := Credential{Raw: rawOrNil(body)}
	if tr.ClientSecret == nil || strings.TrimSpace(tr.ClientSecret.Value) == "" {
		return cred, ErrNoEphemeralKey
	}
	cred.Value = tr.ClientSecret.Value
	if tr.ClientSecret.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(tr.ClientSecret.ExpiresAt, 0)
	}
	return cred, nil
}

func rawOrNil(b []byte) json.RawMessage {
	if !json.Valid(b) {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}
