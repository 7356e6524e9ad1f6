package gigachat

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"
)

const (
	DefaultAuthURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	DefaultAPIURL  = "https://gigachat.devices.sberbank.ru/api/v1/chat/completions"
	DefaultScope   = "GIGACHAT_API_PERS"
	DefaultModel   = "GigaChat"

	DefaultTemperature       = 0.7
	DefaultMaxTokens         = 2000
	DefaultTokenTTL          = 30 * time.Minute
	DefaultAuthTimeout       = 15 * time.Second
	DefaultCompletionTimeout = 60 * time.Second
)

// Config describes one GigaChat deployment. Zero values fall back to the
// package defaults.
type Config struct {
	AuthURL    string
	APIURL     string
	Credential string
	Scope      string
	Model      string

	// Temperature is a pointer so an explicit 0 survives withDefaults.
	Temperature *float64
	MaxTokens   int

	// DefaultTokenTTL is used when the token response carries no expires_at.
	DefaultTokenTTL   time.Duration
	AuthTimeout       time.Duration
	CompletionTimeout time.Duration

	// CAFile is a PEM bundle with the provider's root certificate. When it is
	// set the provider's chain is verified against it.
	CAFile string
	// InsecureSkipVerify disables certificate verification for this provider
	// only. GigaChat endpoints chain up to the Russian Ministry of Digital
	// Development root CA, which stock trust stores do not carry; prefer CAFile.
	InsecureSkipVerify bool
}

func (c Config) withDefaults() Config {
	if c.AuthURL == "" {
		c.AuthURL = DefaultAuthURL
	}
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Temperature == nil {
		t := DefaultTemperature
		c.Temperature = &t
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.DefaultTokenTTL == 0 {
		c.DefaultTokenTTL = DefaultTokenTTL
	}
	if c.AuthTimeout == 0 {
		c.AuthTimeout = DefaultAuthTimeout
	}
	if c.CompletionTimeout == 0 {
		c.CompletionTimeout = DefaultCompletionTimeout
	}
	return c
}

// newHTTPClient builds the client used for both provider calls. Its TLS
// settings never leak into other outbound traffic.
func newHTTPClient(cfg Config) (*http.Client, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	switch {
	case cfg.CAFile != "":
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read CA file %s: %v", ErrConfiguration, cfg.CAFile, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates found in %s", ErrConfiguration, cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	case cfg.InsecureSkipVerify:
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // provider-specific trust exception, see Config.InsecureSkipVerify
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	return &http.Client{Transport: transport}, nil
}
