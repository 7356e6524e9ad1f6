package app

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shrimpsizemoose/trekker/logger"
)

var ErrAdminDisabled = errors.New("admin endpoints are disabled")

// Auth guards operator endpoints with a static bearer token.
type Auth struct {
	adminToken string
}

func NewAuth(config *Config) *Auth {
	return &Auth{adminToken: config.Server.AdminToken}
}

func (a *Auth) ValidateAdmin(r *http.Request) error {
	if a.adminToken == "" {
		return ErrAdminDisabled
	}

	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return fmt.Errorf("Invalid authorization header format")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")

	if subtle.ConstantTimeCompare([]byte(token), []byte(a.adminToken)) != 1 {
		logger.Debug.Printf("Admin token mismatch from %s", r.RemoteAddr)
		return fmt.Errorf("invalid token")
	}
	return nil
}
