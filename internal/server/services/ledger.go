// Package services contains the server-side credential logic: the refresh
// token ledger, the session state machine, and the request guard.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Anthony-Michael/replyrocket-auth/internal/common"
	"github.com/Anthony-Michael/replyrocket-auth/internal/dbx"
	"github.com/Anthony-Michael/replyrocket-auth/internal/logging"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/models"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/repositories/repomanager"
	"github.com/Anthony-Michael/replyrocket-auth/internal/timex"
)

// HashToken is the ledger key for a refresh token string.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// tokenRef identifies a token in logs without revealing it.
func tokenRef(token string) string {
	return HashToken(token)[:12]
}

// Ledger records issued refresh tokens. Methods take the DBTX to run on so
// callers can compose them inside one transaction. Lookup, Revoke and Consume
// return a nil entry and nil error when there is nothing to return.
type Ledger struct {
	repos  repomanager.RepositoryManager
	clock  timex.Clock
	logger logging.Logger
}

func NewLedger(rm repomanager.RepositoryManager, clock timex.Clock, logger logging.Logger) *Ledger {
	return &Ledger{repos: rm, clock: clock, logger: logger.With("module", "ledger")}
}

// Store records a freshly issued, unrevoked token.
func (l *Ledger) Store(ctx context.Context, q dbx.DBTX, token, userID, fingerprint string, expiresAt time.Time) (*models.RefreshToken, error) {
	entry := &models.RefreshToken{
		ID:          uuid.NewString(),
		UserID:      userID,
		TokenHash:   HashToken(token),
		Fingerprint: fingerprint,
		ExpiresAt:   expiresAt,
		CreatedAt:   l.clock.Now(),
	}
	if err := l.repos.RefreshTokens(q).Create(ctx, entry); err != nil {
		return nil, dbErr("store refresh token", err)
	}
	return entry, nil
}

func (l *Ledger) Lookup(ctx context.Context, q dbx.DBTX, token string) (*models.RefreshToken, error) {
	entry, err := l.repos.RefreshTokens(q).Find(ctx, HashToken(token))
	return noneIfNotFound(entry, err, "lookup refresh token")
}

// Revoke flips token to revoked. It returns the entry only if this call did
// the flip; revoking an absent or already revoked token is a no-op.
func (l *Ledger) Revoke(ctx context.Context, q dbx.DBTX, token string, reason models.RevocationReason) (*models.RefreshToken, error) {
	entry, err := l.repos.RefreshTokens(q).Revoke(ctx, HashToken(token), reason)
	return noneIfNotFound(entry, err, "revoke refresh token")
}

// Consume claims token for rotation. Of any number of concurrent callers at
// most one gets the entry; the rest, and any caller presenting an unusable
// token, get nil.
func (l *Ledger) Consume(ctx context.Context, q dbx.DBTX, token string) (*models.RefreshToken, error) {
	entry, err := l.repos.RefreshTokens(q).Consume(ctx, HashToken(token), l.clock.Now())
	return noneIfNotFound(entry, err, "consume refresh token")
}

func (l *Ledger) RevokeAllForUser(ctx context.Context, q dbx.DBTX, userID string, reason models.RevocationReason) (int64, error) {
	n, err := l.repos.RefreshTokens(q).RevokeAllForUser(ctx, userID, reason)
	if err != nil {
		return 0, dbErr("revoke user refresh tokens", err)
	}
	return n, nil
}

// IsUsable reports !revoked && now < expires_at. An entry found past expiry
// but not yet revoked is flipped to revoked on the way.
func (l *Ledger) IsUsable(ctx context.Context, q dbx.DBTX, entry *models.RefreshToken) bool {
	if entry == nil || entry.Revoked {
		return false
	}
	now := l.clock.Now()
	if entry.Usable(now) {
		return true
	}

	flipped, err := l.repos.RefreshTokens(q).MarkExpired(ctx, entry.ID, now)
	if err != nil {
		l.logger.Warn(ctx, "mark expired refresh token failed", "id", entry.ID, "error", err)
		return false
	}
	if flipped {
		entry.Revoked = true
		entry.RevokedReason = models.ReasonExpired
		l.logger.Info(ctx, "expired refresh token revoked", "id", entry.ID, "user_id", entry.UserID)
	}
	return false
}

// PurgeExpired revokes every unrevoked entry already past expiry.
func (l *Ledger) PurgeExpired(ctx context.Context, q dbx.DBTX) (int64, error) {
	n, err := l.repos.RefreshTokens(q).PurgeExpired(ctx, l.clock.Now())
	if err != nil {
		return 0, dbErr("purge expired refresh tokens", err)
	}
	return n, nil
}

// DeleteStale physically removes entries that were dead before cutoff.
func (l *Ledger) DeleteStale(ctx context.Context, q dbx.DBTX, before time.Time) (int64, error) {
	n, err := l.repos.RefreshTokens(q).DeleteStale(ctx, before)
	if err != nil {
		return 0, dbErr("delete stale refresh tokens", err)
	}
	return n, nil
}

func noneIfNotFound(entry *models.RefreshToken, err error, op string) (*models.RefreshToken, error) {
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr(op, err)
	}
	return entry, nil
}

// dbErr marks a store failure as common.ErrDatabase.
func dbErr(op string, err error) error {
	if errors.Is(err, common.ErrDatabase) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", common.ErrDatabase, op, err)
}
