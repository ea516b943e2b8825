package models

import "time"

// RevocationReason records why a ledger entry stopped being usable.
type RevocationReason string

const (
	ReasonRotated        RevocationReason = "rotated"
	ReasonLogout         RevocationReason = "logout"
	ReasonLogoutAll      RevocationReason = "logout_all"
	ReasonExpired        RevocationReason = "expired"
	ReasonPasswordChange RevocationReason = "password_change"
	ReasonReuseDetected  RevocationReason = "reuse_detected"
)

// RefreshToken is a ledger entry. TokenHash is the hex SHA-256 of the token
// string; the token itself is not stored.
type RefreshToken struct {
	ID            string           `db:"id"`
	UserID        string           `db:"user_id"`
	TokenHash     string           `db:"token_hash"`
	Fingerprint   string           `db:"fingerprint"`
	ExpiresAt     time.Time        `db:"expires_at"`
	Revoked       bool             `db:"revoked"`
	RevokedReason RevocationReason `db:"revoked_reason"`
	CreatedAt     time.Time        `db:"created_at"`
}

// Usable reports whether the entry may still be redeemed at now.
func (t *RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
