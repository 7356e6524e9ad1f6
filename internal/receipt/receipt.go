// Package receipt issues and verifies signed proofs of a completed one-time
// payment, so a client can restore paid access after its quota record is lost.
package receipt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const issuer = "promptsmith"

var (
	ErrInvalidReceipt = errors.New("invalid access receipt")
	ErrNoSecret       = errors.New("receipt secret is not configured")
)

type Claims struct {
	jwt.RegisteredClaims
	ClientID  string `json:"client_id"`
	PaymentID string `json:"payment_id"`
}

type Issuer struct {
	secret []byte
	now    func() time.Time
}

func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Issuer{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a receipt for lifetime access. Receipts carry no expiry.
func (i *Issuer) Issue(clientID, paymentID string) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  clientID,
			IssuedAt: jwt.NewNumericDate(i.now()),
			ID:       uuid.NewString(),
		},
		ClientID:  clientID,
		PaymentID: paymentID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign receipt: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and that the receipt belongs to clientID.
func (i *Issuer) Verify(tokenString, clientID string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidReceipt
	}
	if claims.Issuer != issuer || claims.ClientID == "" || claims.ClientID != clientID {
		return nil, fmt.Errorf("%w: issued for another client", ErrInvalidReceipt)
	}
	return claims, nil
}
