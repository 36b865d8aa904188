package live

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Credential is what the issuance endpoint hands back for one connection.
type Credential struct {
	URL       string
	Token     string
	Model     string
	ExpiresAt time.Time
}

// Expired reports whether c should be refreshed given buffer of headroom.
// A zero ExpiresAt is always treated as expired.
func (c *Credential) Expired(now time.Time, buffer time.Duration) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(c.ExpiresAt.Add(-buffer))
}

// CredentialProvider issues a credential for a session. Fetch is called once
// per connection attempt, including reconnects.
type CredentialProvider interface {
	Fetch(ctx context.Context, session SessionConfig) (*Credential, error)
}

type credentialRequest struct {
	SessionID string                 `json:"sessionId"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Both response shapes are accepted: {url, credential, model} and {token, model}.
type credentialResponse struct {
	URL        string  `json:"url"`
	Credential string  `json:"credential"`
	Token      string  `json:"token"`
	Model      string  `json:"model"`
	ExpiresAt  float64 `json:"expiresAt"`
}

// TokenManager fetches ephemeral credentials from an HTTP issuance endpoint
// and caches them until shortly before they expire.
type TokenManager struct {
	endpoint      string
	wsEndpoint    string
	refreshBuffer time.Duration
	api           *apiClient
	log           *Logger
	now           func() time.Time

	mu      sync.Mutex
	session string
	cached  *Credential
}

func NewTokenManager(cfg *ClientConfig) *TokenManager {
	return &TokenManager{
		endpoint:      cfg.TokenEndpoint,
		wsEndpoint:    cfg.WsEndpoint,
		refreshBuffer: cfg.TokenRefreshBuffer,
		api:           newAPIClient(cfg.Headers, cfg.ConnectTimeout),
		log:           cfg.logger().WithComponent("credentials"),
		now:           time.Now,
	}
}

func (tm *TokenManager) Fetch(ctx context.Context, session SessionConfig) (*Credential, error) {
	tm.mu.Lock()
	if tm.cached != nil && tm.session == session.SessionID && !tm.cached.Expired(tm.now(), tm.refreshBuffer) {
		cred := *tm.cached
		tm.mu.Unlock()
		tm.log.Debug("Using cached credential")
		return &cred, nil
	}
	tm.mu.Unlock()

	cred, err := tm.refresh(ctx, session)
	if err != nil {
		return nil, err
	}

	tm.mu.Lock()
	tm.session = session.SessionID
	tm.cached = nil
	if !cred.ExpiresAt.IsZero() {
		c := *cred
		tm.cached = &c
	}
	tm.mu.Unlock()
	return cred, nil
}

func (tm *TokenManager) refresh(ctx context.Context, session SessionConfig) (*Credential, error) {
	var resp credentialResponse
	req := credentialRequest{SessionID: session.SessionID, Context: session.Context}
	if err := tm.api.postJSON(ctx, tm.endpoint, req, &resp); err != nil {
		if le, ok := err.(*LiveError); ok {
			tm.log.LogError(le)
		}
		return nil, err
	}

	token := resp.Credential
	if token == "" {
		token = resp.Token
	}
	if token == "" && resp.URL == "" {
		return nil, NewAuthError(fmt.Errorf("no credential received"))
	}

	cred := &Credential{URL: resp.URL, Token: token, Model: resp.Model}
	if cred.URL == "" {
		u, err := tm.buildURL(token)
		if err != nil {
			return nil, err
		}
		cred.URL = u
	}

	switch {
	case resp.ExpiresAt > 0:
		cred.ExpiresAt = time.UnixMilli(int64(resp.ExpiresAt))
	case token != "":
		cred.ExpiresAt = jwtExpiry(token)
	}

	tm.log.WithFields(map[string]interface{}{
		"model":      cred.Model,
		"expires_at": cred.ExpiresAt,
	}).Debug("Credential issued")
	return cred, nil
}

// buildURL attaches token to the configured websocket endpoint.
func (tm *TokenManager) buildURL(token string) (string, error) {
	if tm.wsEndpoint == "" {
		return "", NewConfigError("credential response has no url and ws_endpoint is not set")
	}
	u, err := url.Parse(tm.wsEndpoint)
	if err != nil {
		return "", WrapError(err, ErrCodeConfigInvalid, "invalid ws_endpoint")
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Invalidate drops the cached credential so the next Fetch goes to the network.
func (tm *TokenManager) Invalidate() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.cached = nil
}

// jwtExpiry reads the exp claim of a JWT-shaped credential without verifying
// it. Opaque tokens yield the zero time.
func jwtExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}
	}
	return time.Unix(int64(exp), 0)
}

// StaticCredentials always returns the same URL.
type StaticCredentials struct {
	URL   string
	Model string
}

func (s StaticCredentials) Fetch(ctx context.Context, session SessionConfig) (*Credential, error) {
	if s.URL == "" {
		return nil, NewConfigError("static credential has no url")
	}
	return &Credential{URL: s.URL, Model: s.Model}, nil
}
