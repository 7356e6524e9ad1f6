package gigachat

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrConfiguration     = errors.New("configuration error")
	ErrAuthDecode        = errors.New("authorization header could not be decoded")
	ErrAuthRejected      = errors.New("authorization rejected")
	ErrNetwork           = errors.New("network error")
	ErrTLS               = errors.New("tls error")
	ErrUnknownAuth       = errors.New("unknown authentication error")
	ErrEmptyCompletion   = errors.New("empty completion")
	ErrAuthExpired       = errors.New("access token expired")
	ErrMalformedResponse = errors.New("malformed response")
	ErrUpstream          = errors.New("upstream error")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidInput, "invalid_input"},
	{ErrConfiguration, "configuration"},
	{ErrAuthDecode, "auth_decode"},
	{ErrAuthRejected, "auth_rejected"},
	{ErrNetwork, "network"},
	{ErrTLS, "tls"},
	{ErrUnknownAuth, "unknown_auth"},
	{ErrEmptyCompletion, "empty_completion"},
	{ErrAuthExpired, "auth_expired"},
	{ErrMalformedResponse, "malformed_response"},
	{ErrUpstream, "upstream"},
}

// StatusError is a non-2xx answer from the provider. It unwraps to its Kind.
type StatusError struct {
	Kind   error
	Call   string
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v: %s returned HTTP %d", e.Kind, e.Call, e.Status)
	}
	return fmt.Sprintf("%v: %s returned HTTP %d: %s", e.Kind, e.Call, e.Status, e.Detail)
}

func (e *StatusError) Unwrap() error {
	return e.Kind
}

// Kind returns a short label for err suitable for logs and metric labels.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

// Retryable reports whether repeating the call may succeed. Configuration and
// credential decode problems need an operator; everything else is worth
// another attempt at the caller's discretion.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrAuthDecode):
		return false
	case errors.Is(err, ErrUpstream):
		var se *StatusError
		if errors.As(err, &se) {
			return se.Status >= 500 || se.Status == 429
		}
		return true
	}
	return true
}

// UserMessage maps err to text that is safe to show to the end user.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "Prompt must not be empty"
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrAuthDecode):
		return "The model service is misconfigured. Please contact the administrator."
	case errors.Is(err, ErrAuthRejected), errors.Is(err, ErrAuthExpired):
		return "Authorization with the model service failed. Please try again."
	case errors.Is(err, ErrNetwork):
		return "Could not reach the model service. Please try again later."
	case errors.Is(err, ErrTLS):
		return "Secure connection to the model service failed. Please try again later."
	case errors.Is(err, ErrEmptyCompletion):
		return "The model returned an empty answer. Please try again."
	case errors.Is(err, ErrUpstream):
		var se *StatusError
		if errors.As(err, &se) && se.Detail != "" {
			return fmt.Sprintf("The model service returned an error (HTTP %d): %s", se.Status, se.Detail)
		}
		return "The model service returned an error. Please try again."
	case errors.Is(err, ErrMalformedResponse), errors.Is(err, ErrUnknownAuth):
		return "Unexpected answer from the model service. Please try again."
	}
	return "Failed to generate the prompt"
}

// classifyTransportError sorts an http.Client.Do failure into ErrTLS or ErrNetwork.
func classifyTransportError(call string, err error) error {
	if isTLSFailure(err) {
		return fmt.Errorf("%w: %s: %v", ErrTLS, call, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrNetwork, call, err)
}

func isTLSFailure(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		authorityEr x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &verifyErr),
		errors.As(err, &recordErr),
		errors.As(err, &alertErr),
		errors.As(err, &authorityEr),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidErr):
		return true
	}

	// alerts sent by the peer surface as "remote error: tls: ..."; local
	// handshake failures such as version mismatches only carry a "tls: " text
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "remote error" {
		return true
	}
	if strings.Contains(err.Error(), "remote error: tls: ") {
		return true
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if strings.HasPrefix(e.Error(), "tls: ") {
			return true
		}
	}
	return false
}

const maxDetailLen = 300

// upstreamDetail extracts a short provider message from an error body.
func upstreamDetail(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Message != "":
			msg = payload.Message
		case payload.Error != nil:
			if s, ok := payload.Error.(string); ok {
				msg = s
			}
		}
	}
	if msg == "" {
		msg = string(body)
	}
	msg = strings.TrimSpace(msg)
	if r := []rune(msg); len(r) > maxDetailLen {
		msg = string(r[:maxDetailLen]) + "..."
	}
	return msg
}
