package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Anthony-Michael/replyrocket-auth/internal/common"
	"github.com/Anthony-Michael/replyrocket-auth/internal/dbx"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const tokenColumns = `id, user_id, token_hash, fingerprint, expires_at, revoked, revoked_reason, created_at`

func (r *PostgresRepository) Create(ctx context.Context, t *models.RefreshToken) error {
	query :=
		`INSERT INTO refresh_tokens (id, user_id, token_hash, fingerprint, expires_at, revoked, created_at)
         VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		 `

	_, err := r.db.ExecContext(ctx, query, t.ID, t.UserID, t.TokenHash, t.Fingerprint, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Find(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	query := `SELECT ` + tokenColumns + `
		 FROM refresh_tokens
		 WHERE token_hash = $1
		 `
	return r.one(ctx, query, tokenHash)
}

func (r *PostgresRepository) Revoke(ctx context.Context, tokenHash string, reason models.RevocationReason) (*models.RefreshToken, error) {
	query :=
		`UPDATE refresh_tokens
		 SET revoked = TRUE, revoked_reason = $2
		 WHERE token_hash = $1 AND revoked = FALSE
		 RETURNING ` + tokenColumns + `
		 `
	return r.one(ctx, query, tokenHash, string(reason))
}

func (r *PostgresRepository) Consume(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error) {
	query :=
		`UPDATE refresh_tokens
		 SET revoked = TRUE, revoked_reason = $3
		 WHERE token_hash = $1 AND revoked = FALSE AND expires_at > $2
		 RETURNING ` + tokenColumns + `
		 `
	return r.one(ctx, query, tokenHash, now, string(models.ReasonRotated))
}

func (r *PostgresRepository) MarkExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	query :=
		`UPDATE refresh_tokens
		 SET revoked = TRUE, revoked_reason = $3
		 WHERE id = $1 AND revoked = FALSE AND expires_at <= $2
		 `
	n, err := r.exec(ctx, query, id, now, string(models.ReasonExpired))
	return n > 0, err
}

func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID string, reason models.RevocationReason) (int64, error) {
	query :=
		`UPDATE refresh_tokens
		 SET revoked = TRUE, revoked_reason = $2
		 WHERE user_id = $1 AND revoked = FALSE
		 `
	return r.exec(ctx, query, userID, string(reason))
}

func (r *PostgresRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	query :=
		`UPDATE refresh_tokens
		 SET revoked = TRUE, revoked_reason = $2
		 WHERE revoked = FALSE AND expires_at <= $1
		 `
	return r.exec(ctx, query, now, string(models.ReasonExpired))
}

func (r *PostgresRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	query :=
		`DELETE FROM refresh_tokens
		 WHERE expires_at < $1 OR (revoked = TRUE AND created_at < $1)
		 `
	return r.exec(ctx, query, before)
}

func (r *PostgresRepository) one(ctx context.Context, query string, args ...any) (*models.RefreshToken, error) {
	var (
		t      models.RefreshToken
		reason sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&t.ID, &t.UserID, &t.TokenHash, &t.Fingerprint, &t.ExpiresAt, &t.Revoked, &reason, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	t.RevokedReason = models.RevocationReason(reason.String)
	return &t, nil
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
