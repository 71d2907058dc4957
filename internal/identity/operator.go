// Package identity issues and verifies operator session tokens for the
// daemon's HTTP surface. Tokens are HS256 JWTs signed with a key derived from
// the gate's root secret, so an operator session is only as durable as the
// gate's key material.
package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// OperatorClaims are the JWT claims for an operator session.
type OperatorClaims struct {
	jwt.RegisteredClaims
	OperatorID string `json:"operator_id"`
	Role       string `json:"role,omitempty"`
}

// OperatorTokenIssuer issues and verifies operator session JWTs.
type OperatorTokenIssuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

// NewOperatorTokenIssuer creates an OperatorTokenIssuer.
//
//	key       — HMAC signing key (the gate's derived token key).
//	issuerURL — The "iss" claim value; the daemon's base URL.
//	ttl       — Token lifetime (default: 8 hours).
func NewOperatorTokenIssuer(key []byte, issuerURL string, ttl time.Duration) *OperatorTokenIssuer {
	if ttl == 0 {
		ttl = 8 * time.Hour
	}
	return &OperatorTokenIssuer{key: key, issuer: issuerURL, ttl: ttl}
}

// Issue creates a signed operator session token.
func (o *OperatorTokenIssuer) Issue(operatorID, role string) (string, error) {
	now := time.Now().UTC()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    o.issuer,
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(o.ttl)),
			ID:        uuid.New().String(),
		},
		OperatorID: operatorID,
		Role:       role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(o.key)
	if err != nil {
		return "", fmt.Errorf("sign operator token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an operator session token, returning its
// claims.
func (o *OperatorTokenIssuer) Verify(tokenStr string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&OperatorClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return o.key, nil
		},
		jwt.WithIssuer(o.issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("parse operator token: %w", err)
	}
	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid operator token")
	}
	return claims, nil
}
