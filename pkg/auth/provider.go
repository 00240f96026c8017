// Package auth acquires bearer tokens for the upstream provider and the
// title completion endpoint. Two providers exist: a static API key, and an
// OAuth2 client-credentials grant with token caching.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/config"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/httpclient"
)

// ErrNoCredential means no credential source is configured.
var ErrNoCredential = errors.New("no credential configured")

// ErrUnauthorized means the token endpoint rejected the configured
// credentials.
var ErrUnauthorized = errors.New("credential request rejected")

// expiryMargin is subtracted from token lifetimes so callers never send a
// token that expires mid-handshake.
const expiryMargin = 30 * time.Second

// TokenProvider yields a bearer token for the configured scope. Providers
// are safe for concurrent use and may cache.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// NewProvider builds a provider from credential config: a static key when
// present, otherwise a client-credentials grant.
func NewProvider(cfg config.CredentialConfig) (TokenProvider, error) {
	if cfg.APIKey != "" {
		return NewStaticProvider(cfg.APIKey), nil
	}
	if cfg.TokenURL != "" && cfg.ClientID != "" && cfg.ClientSecret != "" {
		return NewClientCredentialsProvider(cfg), nil
	}
	return nil, ErrNoCredential
}

// StaticProvider returns a fixed API key as the bearer token.
type StaticProvider struct {
	token string
}

func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{token: token}
}

func (p *StaticProvider) Token(ctx context.Context) (string, error) {
	if p.token == "" {
		return "", ErrNoCredential
	}
	return p.token, nil
}

// ClientCredentialsProvider performs the OAuth2 client-credentials grant
// and caches the token until shortly before expiry.
type ClientCredentialsProvider struct {
	tokenURL     string
	clientID     string
	clientSecret string
	scope        string
	client       *httpclient.Client

	mu     sync.Mutex
	cached string
	expiry time.Time
}

type ccOption func(*ClientCredentialsProvider)

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(client *httpclient.Client) ccOption {
	return func(p *ClientCredentialsProvider) {
		p.client = client
	}
}

func NewClientCredentialsProvider(cfg config.CredentialConfig, opts ...ccOption) *ClientCredentialsProvider {
	p := &ClientCredentialsProvider{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scope:        cfg.Scope,
		client:       httpclient.New(httpclient.WithHTTPClient(&http.Client{Timeout: 15 * time.Second})),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (p *ClientCredentialsProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" && time.Now().Before(p.expiry) {
		return p.cached, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
		"scope":         {p.scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// The retrying client returns both a response and an error for
	// non-2xx statuses, so inspect the response before the error.
	resp, err := p.client.Do(req)
	if resp == nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned HTTP %d: %s", resp.StatusCode, truncateBody(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	p.cached = tr.AccessToken
	p.expiry = tokenExpiry(tr).Add(-expiryMargin)

	return p.cached, nil
}

// tokenExpiry prefers expires_in, falls back to the JWT exp claim, and as a
// last resort assumes five minutes.
func tokenExpiry(tr tokenResponse) time.Time {
	if tr.ExpiresIn > 0 {
		return time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	if tok, err := jwt.Parse([]byte(tr.AccessToken), jwt.WithVerify(false), jwt.WithValidate(false)); err == nil {
		if exp := tok.Expiration(); !exp.IsZero() {
			return exp
		}
	}

	return time.Now().Add(5 * time.Minute)
}

func truncateBody(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

var (
	_ TokenProvider = (*StaticProvider)(nil)
	_ TokenProvider = (*ClientCredentialsProvider)(nil)
)
