package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Anthony-Michael/replyrocket-auth/internal/common"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var tokenCols = []string{"id", "user_id", "token_hash", "fingerprint", "expires_at", "revoked", "revoked_reason", "created_at"}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+refresh_tokens\b.*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*FALSE,\s*\$6\)\s*$`

	now := time.Now()
	mock.ExpectExec(q).
		WithArgs("rt1", "u1", "hash1", "fp", now.Add(time.Hour), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.RefreshToken{
		ID: "rt1", UserID: "u1", TokenHash: "hash1", Fingerprint: "fp",
		ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+refresh_tokens`).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), &models.RefreshToken{ID: "rt1"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestFind_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*user_id,.*FROM\s+refresh_tokens\s+WHERE\s+token_hash\s*=\s*\$1\s*$`

	expires := time.Now().Add(10 * time.Minute)
	mock.ExpectQuery(q).
		WithArgs("hash1").
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow("rt1", "u1", "hash1", "fp", expires, true, "rotated", time.Now()))

	got, err := repo.Find(context.Background(), "hash1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UserID != "u1" || !got.ExpiresAt.Equal(expires) || !got.Revoked || got.RevokedReason != models.ReasonRotated {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestFind_NullReason(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+refresh_tokens`).
		WithArgs("hash1").
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow("rt1", "u1", "hash1", "", time.Now(), false, nil, time.Now()))

	got, err := repo.Find(context.Background(), "hash1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RevokedReason != "" {
		t.Fatalf("expected empty reason, got %q", got.RevokedReason)
	}
}

func TestFind_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+refresh_tokens`).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := repo.Find(context.Background(), "nope")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestRevoke_Conditional(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+refresh_tokens\s+SET\s+revoked\s*=\s*TRUE,\s*revoked_reason\s*=\s*\$2\s+WHERE\s+token_hash\s*=\s*\$1\s+AND\s+revoked\s*=\s*FALSE\s+RETURNING\s+id,.*$`

	mock.ExpectQuery(q).
		WithArgs("hash1", "logout").
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow("rt1", "u1", "hash1", "fp", time.Now(), true, "logout", time.Now()))

	got, err := repo.Revoke(context.Background(), "hash1", models.ReasonLogout)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Revoked || got.RevokedReason != models.ReasonLogout {
		t.Fatalf("unexpected row: %+v", got)
	}

	// Already revoked: the conditional update matches no row.
	mock.ExpectQuery(q).WithArgs("hash1", "logout").WillReturnRows(sqlmock.NewRows(tokenCols))
	if _, err := repo.Revoke(context.Background(), "hash1", models.ReasonLogout); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound on second revoke, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsume_OnlyUnrevokedAndUnexpired(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+refresh_tokens\s+SET\s+revoked\s*=\s*TRUE,\s*revoked_reason\s*=\s*\$3\s+WHERE\s+token_hash\s*=\s*\$1\s+AND\s+revoked\s*=\s*FALSE\s+AND\s+expires_at\s*>\s*\$2\s+RETURNING\s+id,.*$`

	now := time.Now()
	mock.ExpectQuery(q).
		WithArgs("hash1", now, "rotated").
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow("rt1", "u1", "hash1", "fp", now.Add(time.Hour), true, "rotated", now))

	got, err := repo.Consume(context.Background(), "hash1", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "rt1" || got.RevokedReason != models.ReasonRotated {
		t.Fatalf("unexpected row: %+v", got)
	}

	mock.ExpectQuery(q).WithArgs("hash1", now, "rotated").WillReturnError(sql.ErrNoRows)
	if _, err := repo.Consume(context.Background(), "hash1", now); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound for a lost claim, got %v", err)
	}
}

func TestMarkExpired(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+refresh_tokens\s+SET\s+revoked\s*=\s*TRUE,\s*revoked_reason\s*=\s*\$3\s+WHERE\s+id\s*=\s*\$1\s+AND\s+revoked\s*=\s*FALSE\s+AND\s+expires_at\s*<=\s*\$2\s*$`

	now := time.Now()
	mock.ExpectExec(q).WithArgs("rt1", now, "expired").WillReturnResult(sqlmock.NewResult(0, 1))
	flipped, err := repo.MarkExpired(context.Background(), "rt1", now)
	if err != nil || !flipped {
		t.Fatalf("expected flip, got %v %v", flipped, err)
	}

	mock.ExpectExec(q).WithArgs("rt1", now, "expired").WillReturnResult(sqlmock.NewResult(0, 0))
	flipped, err = repo.MarkExpired(context.Background(), "rt1", now)
	if err != nil || flipped {
		t.Fatalf("expected no flip, got %v %v", flipped, err)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+refresh_tokens\s+SET\s+revoked\s*=\s*TRUE,\s*revoked_reason\s*=\s*\$2\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+revoked\s*=\s*FALSE\s*$`

	mock.ExpectExec(q).WithArgs("u1", "logout_all").WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RevokeAllForUser(context.Background(), "u1", models.ReasonLogoutAll)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked, got %d", n)
	}
}

func TestPurgeExpired(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+refresh_tokens\s+SET\s+revoked\s*=\s*TRUE,\s*revoked_reason\s*=\s*\$2\s+WHERE\s+revoked\s*=\s*FALSE\s+AND\s+expires_at\s*<=\s*\$1\s*$`

	now := time.Now()
	mock.ExpectExec(q).WithArgs(now, "expired").WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(q).WithArgs(now, "expired").WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := repo.PurgeExpired(context.Background(), now)
	if err != nil || n != 5 {
		t.Fatalf("first purge: n=%d err=%v", n, err)
	}
	n, err = repo.PurgeExpired(context.Background(), now)
	if err != nil || n != 0 {
		t.Fatalf("second purge must be a no-op: n=%d err=%v", n, err)
	}
}

func TestDeleteStale(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+expires_at\s*<\s*\$1\s+OR\s+\(revoked\s*=\s*TRUE\s+AND\s+created_at\s*<\s*\$1\)\s*$`

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectExec(q).WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.DeleteStale(context.Background(), cutoff)
	if err != nil || n != 2 {
		t.Fatalf("DeleteStale: n=%d err=%v", n, err)
	}
}

func TestExec_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE\s+refresh_tokens`).WillReturnError(errors.New("conn reset"))

	_, err := repo.RevokeAllForUser(context.Background(), "u1", models.ReasonLogoutAll)
	if err == nil || !regexp.MustCompile(`db error: .*conn reset`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}
