package gigachat

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenServedFromCache(t *testing.T) {
	p, srv := newFakeProvider(t)
	c, now := newTestClient(t, testConfig(srv))

	for _, ahead := range []time.Duration{61 * time.Second, 10 * time.Minute, 24 * time.Hour} {
		seedToken(c, "cached", now.Add(ahead))

		token, err := c.tokens.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "cached", token)
	}

	tokenCalls, _ := p.calls()
	assert.Zero(t, tokenCalls)
}

func TestAccessTokenRefreshesWhenExpiring(t *testing.T) {
	tests := []struct {
		name  string
		seed  bool
		ahead time.Duration
	}{
		{name: "absent"},
		{name: "exactly at skew", seed: true, ahead: 60 * time.Second},
		{name: "inside skew", seed: true, ahead: 30 * time.Second},
		{name: "already expired", seed: true, ahead: -time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, srv := newFakeProvider(t)
			c, now := newTestClient(t, testConfig(srv))
			if tt.seed {
				seedToken(c, "stale", now.Add(tt.ahead))
			}

			token, err := c.tokens.AccessToken(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "fresh-token", token)

			tokenCalls, _ := p.calls()
			assert.Equal(t, 1, tokenCalls)

			cached, ok := c.tokens.Cached()
			require.True(t, ok)
			assert.Equal(t, "fresh-token", cached.Token)
		})
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	p, srv := newFakeProvider(t)
	c, now := newTestClient(t, testConfig(srv))

	expiresAt := now.Add(1800 * time.Second).Unix()
	p.setToken(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "T", "expires_at": expiresAt})
	})

	token, err := c.tokens.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T", token)

	*now = now.Add(28*time.Minute + 59*time.Second)

	token, err = c.tokens.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T", token)

	tokenCalls, _ := p.calls()
	assert.Equal(t, 1, tokenCalls)
}

func TestAccessTokenDefaultLifetime(t *testing.T) {
	t.Run("package default", func(t *testing.T) {
		_, srv := newFakeProvider(t)
		c, now := newTestClient(t, testConfig(srv))

		_, err := c.tokens.AccessToken(context.Background())
		require.NoError(t, err)

		cached, ok := c.tokens.Cached()
		require.True(t, ok)
		assert.Equal(t, now.Add(30*time.Minute), cached.ExpiresAt)
	})

	t.Run("configured", func(t *testing.T) {
		_, srv := newFakeProvider(t)
		cfg := testConfig(srv)
		cfg.DefaultTokenTTL = 10 * time.Minute
		c, now := newTestClient(t, cfg)

		_, err := c.tokens.AccessToken(context.Background())
		require.NoError(t, err)

		cached, _ := c.tokens.Cached()
		assert.Equal(t, now.Add(10*time.Minute), cached.ExpiresAt)
	})
}

func TestAccessTokenRequestShape(t *testing.T) {
	p, srv := newFakeProvider(t)
	c, _ := newTestClient(t, testConfig(srv))

	_, err := c.tokens.AccessToken(context.Background())
	require.NoError(t, err)
	c.tokens.Invalidate()
	_, err = c.tokens.AccessToken(context.Background())
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()

	assert.Equal(t, "Basic "+testCredential, p.tokenAuth)
	assert.Equal(t, DefaultScope, p.tokenForm.Get("scope"))
	require.Len(t, p.rqUIDs, 2)
	for _, id := range p.rqUIDs {
		parsed, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(4), parsed.Version())
	}
	assert.NotEqual(t, p.rqUIDs[0], p.rqUIDs[1])
}

func TestAccessTokenFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name:    "decode failure",
			handler: replyRaw(http.StatusBadRequest, `{"code":4,"message":"Can't decode 'Authorization' header"}`),
			want:    ErrAuthDecode,
		},
		{
			name:    "rejected",
			handler: replyRaw(http.StatusUnauthorized, `{"code":6,"message":"Authorization error: header is incorrect"}`),
			want:    ErrAuthRejected,
		},
		{
			name:    "server error",
			handler: replyRaw(http.StatusInternalServerError, `oops`),
			want:    ErrUnknownAuth,
		},
		{
			name:    "malformed json",
			handler: replyRaw(http.StatusOK, `{"access_token":`),
			want:    ErrUnknownAuth,
		},
		{
			name:    "missing token",
			handler: replyRaw(http.StatusOK, `{"expires_at": 1}`),
			want:    ErrUnknownAuth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, srv := newFakeProvider(t)
			p.setToken(tt.handler)
			c, _ := newTestClient(t, testConfig(srv))

			_, err := c.tokens.AccessToken(context.Background())
			require.ErrorIs(t, err, tt.want)

			_, ok := c.tokens.Cached()
			assert.False(t, ok, "cache must stay absent after a failed exchange")
		})
	}
}

func TestAccessTokenFailureKeepsPreviousEntry(t *testing.T) {
	p, srv := newFakeProvider(t)
	p.setToken(replyRaw(http.StatusBadRequest, `Can't decode 'Authorization' header`))
	c, now := newTestClient(t, testConfig(srv))

	stale := CachedToken{Token: "stale", ExpiresAt: now.Add(10 * time.Second)}
	seedToken(c, stale.Token, stale.ExpiresAt)

	_, err := c.tokens.AccessToken(context.Background())
	require.ErrorIs(t, err, ErrAuthDecode)

	cached, ok := c.tokens.Cached()
	require.True(t, ok)
	assert.Equal(t, stale, cached)
}

func TestAccessTokenConfigurationErrors(t *testing.T) {
	for name, credential := range map[string]string{
		"empty":        "",
		"not base64":   "client-id:client-secret",
		"basic prefix": "Basic " + testCredential,
	} {
		t.Run(name, func(t *testing.T) {
			p, srv := newFakeProvider(t)
			cfg := testConfig(srv)
			cfg.Credential = credential
			c, _ := newTestClient(t, cfg)

			_, err := c.tokens.AccessToken(context.Background())
			require.ErrorIs(t, err, ErrConfiguration)
			assert.NotContains(t, err.Error(), "client-secret")

			tokenCalls, _ := p.calls()
			assert.Zero(t, tokenCalls)
		})
	}
}

func TestAccessTokenConcurrentRefreshIsShared(t *testing.T) {
	p, srv := newFakeProvider(t)
	p.setToken(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "shared"})
	})
	c, _ := newTestClient(t, testConfig(srv))

	const callers = 16
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = c.tokens.AccessToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", tokens[i])
	}
	tokenCalls, _ := p.calls()
	assert.Equal(t, 1, tokenCalls)
}

func TestTrustExceptionIsScopedToConfig(t *testing.T) {
	_, srv := newFakeProvider(t)
	cfg := testConfig(srv)
	cfg.InsecureSkipVerify = false
	c, _ := newTestClient(t, cfg)

	_, err := c.tokens.AccessToken(context.Background())
	require.ErrorIs(t, err, ErrTLS)
}

func TestAccessTokenNetworkError(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	cfg := testConfig(srv)
	srv.Close()

	c, _ := newTestClient(t, cfg)

	_, err := c.tokens.AccessToken(context.Background())
	require.ErrorIs(t, err, ErrNetwork)
}

func TestAccessTokenTimeout(t *testing.T) {
	p, srv := newFakeProvider(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	p.setToken(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	cfg := testConfig(srv)
	cfg.AuthTimeout = 50 * time.Millisecond
	c, _ := newTestClient(t, cfg)

	_, err := c.tokens.AccessToken(context.Background())
	require.ErrorIs(t, err, ErrNetwork)
}

func TestAccessTokenSurvivesCancelledPeer(t *testing.T) {
	p, srv := newFakeProvider(t)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	p.setToken(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "shared"})
	})
	c, _ := newTestClient(t, testConfig(srv))

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.tokens.AccessToken(ctxA)
		errA <- err
	}()
	<-started

	type result struct {
		token string
		err   error
	}
	resB := make(chan result, 1)
	go func() {
		token, err := c.tokens.AccessToken(context.Background())
		resB <- result{token, err}
	}()

	cancelA()
	require.ErrorIs(t, <-errA, ErrNetwork)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, "shared", b.token)

	cached, ok := c.tokens.Cached()
	require.True(t, ok)
	assert.Equal(t, "shared", cached.Token)

	tokenCalls, _ := p.calls()
	assert.Equal(t, 1, tokenCalls)
}

func TestAccessTokenHandshakeFailuresAreTLS(t *testing.T) {
	tests := []struct {
		name string
		tls  *tls.Config
	}{
		{"client certificate required", &tls.Config{ClientAuth: tls.RequireAnyClientCert}},
		{"protocol version mismatch", &tls.Config{MaxVersion: tls.VersionTLS11}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"access_token": "never"})
			}))
			srv.TLS = tt.tls
			srv.StartTLS()
			t.Cleanup(srv.Close)

			c, _ := newTestClient(t, testConfig(srv))

			_, err := c.tokens.AccessToken(context.Background())
			require.ErrorIs(t, err, ErrTLS)
			assert.Equal(t, "tls", Kind(err))
		})
	}
}
