package auth

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Anthony-Michael/replyrocket-auth/internal/common"
	"github.com/Anthony-Michael/replyrocket-auth/internal/timex"
)

// fingerprintBytes is the amount of randomness in a pair's fingerprint.
const fingerprintBytes = 32

// Pair is the result of a login or a refresh.
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	// RefreshTokenID is the jti of RefreshToken, used to reference it in logs.
	RefreshTokenID string
	Fingerprint    string
}

// Issuer builds and signs claim sets for a user.
type Issuer struct {
	codec      *Codec
	clock      timex.Clock
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewIssuer(codec *Codec, clock timex.Clock, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{codec: codec, clock: clock, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// IssuePair mints an access and a refresh token for userID. Each gets its own
// jti; both carry one new fingerprint.
func (i *Issuer) IssuePair(userID string) (Pair, error) {
	fp, err := common.MakeRandHexString(fingerprintBytes)
	if err != nil {
		return Pair{}, fmt.Errorf("generate fingerprint: %w", err)
	}

	now := i.clock.Now()

	access, _, accessExp, err := i.sign(userID, Access, fp, now, i.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshID, refreshExp, err := i.sign(userID, Refresh, fp, now, i.refreshTTL)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		RefreshTokenID:   refreshID,
		Fingerprint:      fp,
	}, nil
}

// IssueAccess mints a lone access token, keeping the caller's fingerprint.
func (i *Issuer) IssueAccess(userID, fingerprint string) (string, time.Time, error) {
	token, _, exp, err := i.sign(userID, Access, fingerprint, i.clock.Now(), i.accessTTL)
	return token, exp, err
}

// sign works in whole seconds, the resolution of the JWT time claims, so the
// returned expiry equals the exp a verifier decodes.
func (i *Issuer) sign(userID string, kind Kind, fp string, now time.Time, ttl time.Duration) (token, jti string, exp time.Time, err error) {
	now = now.Truncate(time.Second)
	jti = uuid.NewString()
	exp = now.Add(ttl)
	token, err = i.codec.Sign(Claims{
		Subject:     userID,
		ID:          jti,
		Issuer:      i.codec.Issuer(),
		Kind:        kind,
		Fingerprint: fp,
		IssuedAt:    now,
		NotBefore:   now,
		ExpiresAt:   exp,
	})
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, jti, exp, nil
}
