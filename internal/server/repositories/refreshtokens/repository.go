package refreshtokens

import (
	"context"
	"time"

	"github.com/Anthony-Michael/replyrocket-auth/internal/server/models"
)

// Repository persists ledger entries keyed by token hash. Every state change
// is a conditional UPDATE on revoked = false, so revoked only goes
// false -> true and at most one caller observes a given flip.
type Repository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	// Find returns common.ErrorNotFound if no entry has the hash.
	Find(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	// Revoke flips an unrevoked entry and returns it; common.ErrorNotFound if
	// the entry is absent or already revoked.
	Revoke(ctx context.Context, tokenHash string, reason models.RevocationReason) (*models.RefreshToken, error)
	// Consume claims an entry for rotation: it flips the entry only if it is
	// unrevoked and not expired at now. common.ErrorNotFound otherwise.
	Consume(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error)
	// MarkExpired flips an unrevoked entry that is past expiry at now.
	MarkExpired(ctx context.Context, id string, now time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, reason models.RevocationReason) (int64, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	// DeleteStale removes rows that expired, or were revoked, before cutoff.
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}
