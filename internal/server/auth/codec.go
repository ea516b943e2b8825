package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Anthony-Michael/replyrocket-auth/internal/common"
	"github.com/Anthony-Michael/replyrocket-auth/internal/timex"
)

// Names of the checks Verify performs, in order. They appear in logs only.
const (
	CheckSignature   = "signature"
	CheckExpiry      = "exp"
	CheckNotBefore   = "nbf"
	CheckIssuedAt    = "iat"
	CheckKind        = "type"
	CheckIssuer      = "iss"
	CheckSubject     = "sub"
	CheckTokenID     = "jti"
	CheckFingerprint = "fingerprint"
)

// RejectionError reports why a token was refused. It matches
// common.ErrAuthentication; Check, TokenID and Subject are for logging and
// must not be returned to clients.
type RejectionError struct {
	Check   string
	TokenID string
	Subject string
	Err     error
}

func (e *RejectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token rejected: %s: %v", e.Check, e.Err)
	}
	return "token rejected: " + e.Check
}

func (e *RejectionError) Unwrap() []error {
	if e.Err != nil {
		return []error{common.ErrAuthentication, e.Err}
	}
	return []error{common.ErrAuthentication}
}

// RejectionCheck returns the failed check name carried by err, or "".
func RejectionCheck(err error) string {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Check
	}
	return ""
}

// Codec signs and verifies HS256 tokens with one symmetric key.
type Codec struct {
	secret []byte
	issuer string
	clock  timex.Clock
}

func NewCodec(secret []byte, issuer string, clock timex.Clock) *Codec {
	return &Codec{secret: secret, issuer: issuer, clock: clock}
}

func (c *Codec) Issuer() string { return c.issuer }

// Sign encodes claims as a compact HS256 JWT.
func (c *Codec) Sign(claims Claims) (string, error) {
	if !claims.Kind.valid() {
		return "", fmt.Errorf("sign token: invalid kind %q", claims.Kind.name)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims.toWire())
	s, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

type verifyOptions struct {
	fingerprint    string
	useFingerprint bool
}

type VerifyOption func(*verifyOptions)

// WithFingerprint requires the token's fingerprint claim to equal fp.
func WithFingerprint(fp string) VerifyOption {
	return func(o *verifyOptions) {
		o.fingerprint = fp
		o.useFingerprint = true
	}
}

// Verify decodes token and accepts it only if it is of the given kind.
// Any failure is a *RejectionError.
func (c *Codec) Verify(token string, kind Kind, opts ...VerifyOption) (Claims, error) {
	var o verifyOptions
	for _, opt := range opts {
		opt(&o)
	}

	// Time checks are done below so each failure is reported under its own name.
	wire := &wireClaims{}
	_, err := jwt.ParseWithClaims(token, wire, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return Claims{}, &RejectionError{Check: CheckSignature, TokenID: wire.ID, Subject: wire.Subject, Err: err}
	}

	reject := func(check string) (Claims, error) {
		return Claims{}, &RejectionError{Check: check, TokenID: wire.ID, Subject: wire.Subject}
	}

	now := c.clock.Now()
	switch {
	case wire.ExpiresAt == nil || !now.Before(wire.ExpiresAt.Time):
		return reject(CheckExpiry)
	case wire.NotBefore == nil || now.Before(wire.NotBefore.Time):
		return reject(CheckNotBefore)
	case wire.IssuedAt == nil:
		return reject(CheckIssuedAt)
	}

	got, ok := kindFromClaim(wire.Type)
	if !ok || !kind.valid() || got != kind {
		return reject(CheckKind)
	}
	if wire.Issuer != c.issuer {
		return reject(CheckIssuer)
	}
	if wire.Subject == "" {
		return reject(CheckSubject)
	}
	if wire.ID == "" {
		return reject(CheckTokenID)
	}
	if o.useFingerprint && subtle.ConstantTimeCompare([]byte(wire.Fingerprint), []byte(o.fingerprint)) != 1 {
		return reject(CheckFingerprint)
	}

	return Claims{
		Subject:     wire.Subject,
		ID:          wire.ID,
		Issuer:      wire.Issuer,
		Kind:        got,
		Fingerprint: wire.Fingerprint,
		IssuedAt:    timeOf(wire.IssuedAt),
		NotBefore:   timeOf(wire.NotBefore),
		ExpiresAt:   timeOf(wire.ExpiresAt),
	}, nil
}
