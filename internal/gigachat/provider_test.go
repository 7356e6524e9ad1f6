package gigachat

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// base64("client-id:client-secret")
const testCredential = "Y2xpZW50LWlkOmNsaWVudC1zZWNyZXQ="

// fakeProvider stands in for both GigaChat endpoints behind a TLS listener
// with a self-signed certificate.
type fakeProvider struct {
	mu sync.Mutex

	tokenCalls int
	chatCalls  int
	rqUIDs     []string
	tokenAuth  string
	tokenForm  url.Values
	chatAuth   string
	chatBody   chatRequest

	tokenHandler http.HandlerFunc
	chatHandler  http.HandlerFunc
}

func newFakeProvider(t *testing.T) (*fakeProvider, *httptest.Server) {
	t.Helper()

	p := &fakeProvider{
		tokenHandler: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "fresh-token"})
		},
		chatHandler: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "ok"}}},
			})
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))

		p.mu.Lock()
		p.tokenCalls++
		p.rqUIDs = append(p.rqUIDs, r.Header.Get("RqUID"))
		p.tokenAuth = r.Header.Get("Authorization")
		p.tokenForm = form
		handler := p.tokenHandler
		p.mu.Unlock()

		handler(w, r)
	})
	mux.HandleFunc("POST /chat", func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		p.mu.Lock()
		p.chatCalls++
		p.chatAuth = r.Header.Get("Authorization")
		p.chatBody = req
		handler := p.chatHandler
		p.mu.Unlock()

		handler(w, r)
	})

	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)
	return p, srv
}

func (p *fakeProvider) calls() (token, chat int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenCalls, p.chatCalls
}

func (p *fakeProvider) setToken(h http.HandlerFunc) {
	p.mu.Lock()
	p.tokenHandler = h
	p.mu.Unlock()
}

func (p *fakeProvider) setChat(h http.HandlerFunc) {
	p.mu.Lock()
	p.chatHandler = h
	p.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func replyRaw(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func testConfig(srv *httptest.Server) Config {
	return Config{
		AuthURL:            srv.URL + "/oauth",
		APIURL:             srv.URL + "/chat",
		Credential:         testCredential,
		InsecureSkipVerify: true,
		AuthTimeout:        5 * time.Second,
		CompletionTimeout:  5 * time.Second,
	}
}

// newTestClient returns a client whose clock is frozen at the returned time.
func newTestClient(t *testing.T, cfg Config) (*Client, *time.Time) {
	t.Helper()

	c, err := NewClient(cfg)
	require.NoError(t, err)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.tokens.now = func() time.Time { return now }
	return c, &now
}

func seedToken(c *Client, token string, expiresAt time.Time) {
	c.tokens.mu.Lock()
	c.tokens.cached = &CachedToken{Token: token, ExpiresAt: expiresAt}
	c.tokens.mu.Unlock()
}
