package gigachat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shrimpsizemoose/trekker/logger"
	"golang.org/x/sync/singleflight"

	"github.com/shrimpsizemoose/promptsmith/internal/metrics"
)

// expirySkew is how long before expiry a cached token stops being handed out.
const expirySkew = 60 * time.Second

const maxResponseSize = 1 << 20

// CachedToken is a bearer token together with its absolute expiry.
type CachedToken struct {
	Token     string
	ExpiresAt time.Time
}

func (t CachedToken) validAt(now time.Time) bool {
	return t.Token != "" && now.Add(expirySkew).Before(t.ExpiresAt)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
	TokenType   string `json:"token_type"`
}

// TokenSource hands out a bearer token for the provider, refreshing it when
// it is absent, about to expire or was invalidated. Concurrent refreshes are
// collapsed into a single token exchange.
type TokenSource struct {
	httpClient *http.Client
	authURL    string
	credential string
	scope      string
	defaultTTL time.Duration
	timeout    time.Duration

	now      func() time.Time
	newRqUID func() string

	mu     sync.RWMutex
	cached *CachedToken
	group  singleflight.Group
}

func NewTokenSource(cfg Config, httpClient *http.Client) *TokenSource {
	cfg = cfg.withDefaults()
	return &TokenSource{
		httpClient: httpClient,
		authURL:    cfg.AuthURL,
		credential: strings.TrimSpace(cfg.Credential),
		scope:      cfg.Scope,
		defaultTTL: cfg.DefaultTokenTTL,
		timeout:    cfg.AuthTimeout,
		now:        time.Now,
		newRqUID:   uuid.NewString,
	}
}

// AccessToken returns a token that stays valid for at least another minute.
func (ts *TokenSource) AccessToken(ctx context.Context) (string, error) {
	if token, ok := ts.valid(); ok {
		return token, nil
	}

	ch := ts.group.DoChan("token", func() (interface{}, error) {
		// another caller may have finished a refresh while we queued
		if token, ok := ts.valid(); ok {
			return token, nil
		}
		// the exchange is shared, so one caller going away must not fail the rest
		return ts.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: waiting for token: %v", ErrNetwork, ctx.Err())
	}
}

// Invalidate drops the cached token so the next call re-authenticates.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.cached = nil
	ts.mu.Unlock()
}

// Cached reports the current cache entry, valid or not.
func (ts *TokenSource) Cached() (CachedToken, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.cached == nil {
		return CachedToken{}, false
	}
	return *ts.cached, true
}

func (ts *TokenSource) valid() (string, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.cached != nil && ts.cached.validAt(ts.now()) {
		return ts.cached.Token, true
	}
	return "", false
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	if err := checkCredential(ts.credential); err != nil {
		metrics.TokenRefreshTotal.WithLabelValues(Kind(err)).Inc()
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, ts.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("scope", ts.scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: failed to build token request: %v", ErrConfiguration, err)
	}
	rqUID := ts.newRqUID()
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", rqUID)
	req.Header.Set("Authorization", "Basic "+ts.credential)

	start := time.Now()
	token, err := ts.exchange(req)
	outcome := "ok"
	if err != nil {
		outcome = Kind(err)
	}
	metrics.UpstreamRequestDuration.WithLabelValues("token", outcome).Observe(time.Since(start).Seconds())
	metrics.TokenRefreshTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		logger.Error.Printf("Token exchange failed (RqUID %s, kind %s): %v", rqUID, outcome, err)
		return "", err
	}

	ts.mu.Lock()
	ts.cached = token
	ts.mu.Unlock()

	logger.Debug.Printf("Fetched access token (RqUID %s), expires at %s", rqUID, token.ExpiresAt.UTC().Format(time.RFC3339))
	return token.Token, nil
}

func (ts *TokenSource) exchange(req *http.Request) (*CachedToken, error) {
	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError("token exchange", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read token response: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			Kind:   authStatusKind(resp.StatusCode, body),
			Call:   "token exchange",
			Status: resp.StatusCode,
			Detail: upstreamDetail(body),
		}
	}

	var data tokenResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: failed to parse token response: %v", ErrUnknownAuth, err)
	}
	if data.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response has no access_token", ErrUnknownAuth)
	}

	expiresAt := ts.now().Add(ts.defaultTTL)
	if data.ExpiresAt > 0 {
		expiresAt = time.Unix(data.ExpiresAt, 0)
	}

	return &CachedToken{Token: data.AccessToken, ExpiresAt: expiresAt}, nil
}

func authStatusKind(status int, body []byte) error {
	text := string(body)
	switch {
	case status == http.StatusBadRequest || strings.Contains(text, "Can't decode"):
		return ErrAuthDecode
	case status == http.StatusUnauthorized || strings.Contains(text, "Authorization error"):
		return ErrAuthRejected
	}
	return ErrUnknownAuth
}

// checkCredential verifies the credential looks like Base64(client_id:client_secret).
func checkCredential(credential string) error {
	if credential == "" {
		return fmt.Errorf("%w: GigaChat credential is not set", ErrConfiguration)
	}
	if strings.HasPrefix(credential, "Basic ") {
		return fmt.Errorf("%w: GigaChat credential must not include the \"Basic \" prefix", ErrConfiguration)
	}
	if _, err := base64.StdEncoding.DecodeString(credential); err != nil {
		return fmt.Errorf("%w: GigaChat credential is not valid Base64 (length %d): %v", ErrConfiguration, len(credential), err)
	}
	return nil
}
