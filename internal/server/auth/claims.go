// Package auth signs and verifies the JWTs handed to clients and issues
// access/refresh pairs.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the decoded claim set of a token.
type Claims struct {
	Subject     string
	ID          string
	Issuer      string
	Kind        Kind
	Fingerprint string
	IssuedAt    time.Time
	NotBefore   time.Time
	ExpiresAt   time.Time
}

// wireClaims is the JSON shape: registered claims plus type and fingerprint.
type wireClaims struct {
	Type        string `json:"type"`
	Fingerprint string `json:"fingerprint,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) toWire() wireClaims {
	return wireClaims{
		Type:        c.Kind.name,
		Fingerprint: c.Fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Subject,
			ID:        c.ID,
			Issuer:    c.Issuer,
			IssuedAt:  numericDate(c.IssuedAt),
			NotBefore: numericDate(c.NotBefore),
			ExpiresAt: numericDate(c.ExpiresAt),
		},
	}
}

func numericDate(t time.Time) *jwt.NumericDate {
	if t.IsZero() {
		return nil
	}
	return jwt.NewNumericDate(t)
}

func timeOf(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time.UTC()
}
