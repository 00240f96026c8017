package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/config"
)

const (
	handshakeTimeout = 30 * time.Second
	realtimePath     = "/openai/realtime"
	userAgent        = "voice-gateway/1.0"
)

var (
	// ErrAuthFailed marks a handshake rejected with 401 or 403.
	ErrAuthFailed = errors.New("upstream authentication failed")

	// ErrHandshakeFailed marks any other failed upstream handshake.
	ErrHandshakeFailed = errors.New("upstream handshake failed")
)

// UpstreamURL derives the WebSocket URL for the configured realtime
// deployment. http and https endpoints map onto ws and wss.
func UpstreamURL(cfg config.UpstreamConfig) (string, error) {
	parsed, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid upstream endpoint: %w", err)
	}
	switch parsed.Scheme {
	case "https", "wss":
		parsed.Scheme = "wss"
	case "http", "ws":
		parsed.Scheme = "ws"
	default:
		return "", fmt.Errorf("invalid upstream endpoint scheme %q", parsed.Scheme)
	}
	parsed.Path = realtimePath

	query := url.Values{}
	query.Set("api-version", cfg.APIVersion)
	query.Set("deployment", cfg.Deployment)
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}

// Dial opens the upstream realtime socket with a bearer token. The
// handshake is bounded by a 30 second timeout on top of ctx.
func Dial(ctx context.Context, cfg config.UpstreamConfig, token string) (*Conn, error) {
	target, err := UpstreamURL(cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("x-client-request-id", uuid.NewString())
	header.Set("x-useragent", userAgent)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
		}
		if resp != nil {
			return nil, fmt.Errorf("%w: status %d: %v", ErrHandshakeFailed, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	return NewConn(ws), nil
}
