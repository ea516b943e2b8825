package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Anthony-Michael/replyrocket-auth/internal/common"
	"github.com/Anthony-Michael/replyrocket-auth/internal/cryptox"
	"github.com/Anthony-Michael/replyrocket-auth/internal/dbx"
	"github.com/Anthony-Michael/replyrocket-auth/internal/logging"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/auth"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/models"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/repositories/refreshtokens"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/repositories/users"
	"github.com/Anthony-Michael/replyrocket-auth/internal/timex"
)

// --- in-memory users repository ---

type memUsers struct {
	mu   sync.Mutex
	byID map[string]*models.User

	getErr error
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]*models.User{}}
}

func (m *memUsers) Create(ctx context.Context, u *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Email == u.Email {
			return nil, common.ErrorAlreadyExists
		}
	}
	cp := *u
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	u, ok := m.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, u := range m.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (m *memUsers) UpdatePassword(ctx context.Context, id, hashed string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.HashedPassword = hashed
	return nil
}

func (m *memUsers) setActive(id string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].IsActive = active
}

// --- in-memory refresh token repository ---
//
// Every mutation happens under one mutex and re-checks its condition, the
// same guarantee the conditional UPDATEs give in Postgres.

type memTokens struct {
	mu     sync.Mutex
	byHash map[string]*models.RefreshToken

	failWith error
}

func newMemTokens() *memTokens {
	return &memTokens{byHash: map[string]*models.RefreshToken{}}
}

func (m *memTokens) Create(ctx context.Context, t *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if _, dup := m.byHash[t.TokenHash]; dup {
		return errors.New("duplicate token hash")
	}
	cp := *t
	cp.Revoked = false
	m.byHash[t.TokenHash] = &cp
	return nil
}

func (m *memTokens) Find(ctx context.Context, hash string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	t, ok := m.byHash[hash]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTokens) Revoke(ctx context.Context, hash string, reason models.RevocationReason) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	t, ok := m.byHash[hash]
	if !ok || t.Revoked {
		return nil, common.ErrorNotFound
	}
	t.Revoked, t.RevokedReason = true, reason
	cp := *t
	return &cp, nil
}

func (m *memTokens) Consume(ctx context.Context, hash string, now time.Time) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	t, ok := m.byHash[hash]
	if !ok || t.Revoked || !t.ExpiresAt.After(now) {
		return nil, common.ErrorNotFound
	}
	t.Revoked, t.RevokedReason = true, models.ReasonRotated
	cp := *t
	return &cp, nil
}

func (m *memTokens) MarkExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byHash {
		if t.ID == id && !t.Revoked && !t.ExpiresAt.After(now) {
			t.Revoked, t.RevokedReason = true, models.ReasonExpired
			return true, nil
		}
	}
	return false, nil
}

func (m *memTokens) RevokeAllForUser(ctx context.Context, userID string, reason models.RevocationReason) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	var n int64
	for _, t := range m.byHash {
		if t.UserID == userID && !t.Revoked {
			t.Revoked, t.RevokedReason = true, reason
			n++
		}
	}
	return n, nil
}

func (m *memTokens) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.byHash {
		if !t.Revoked && !t.ExpiresAt.After(now) {
			t.Revoked, t.RevokedReason = true, models.ReasonExpired
			n++
		}
	}
	return n, nil
}

func (m *memTokens) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for h, t := range m.byHash {
		if t.ExpiresAt.Before(before) || (t.Revoked && t.CreatedAt.Before(before)) {
			delete(m.byHash, h)
			n++
		}
	}
	return n, nil
}

func (m *memTokens) all() []models.RefreshToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RefreshToken, 0, len(m.byHash))
	for _, t := range m.byHash {
		out = append(out, *t)
	}
	return out
}

func (m *memTokens) get(token string) models.RefreshToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.byHash[HashToken(token)]
}

func (m *memTokens) forUser(userID string) []models.RefreshToken {
	var out []models.RefreshToken
	for _, t := range m.all() {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

// --- repository manager ---

type fakeRepoManager struct {
	users  *memUsers
	tokens *memTokens
}

func (f *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (f *fakeRepoManager) Users(dbx.DBTX) users.Repository { return f.users }
func (f *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository {
	return f.tokens
}

// --- harness ---

var (
	testSecret = []byte("services-test-secret-0123456789ab")
	testStart  = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
)

const (
	testAccessTTL  = 15 * time.Minute
	testRefreshTTL = 24 * time.Hour
	goodPassword   = "Str0ng#Pass"
)

type harness struct {
	svc    *SessionService
	guard  *Guard
	ledger *Ledger
	users  *memUsers
	tokens *memTokens
	clock  *timex.ManualClock
	codec  *auth.Codec
	issuer *auth.Issuer
	hasher *cryptox.Hasher
}

func newHarness(t *testing.T, configure ...func(*SessionDeps)) *harness {
	t.Helper()

	clock := timex.NewManualClock(testStart)
	codec := auth.NewCodec(testSecret, "test-issuer", clock)
	issuer := auth.NewIssuer(codec, clock, testAccessTTL, testRefreshTTL)
	hasher := cryptox.NewHasher(cryptox.Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	rm := &fakeRepoManager{users: newMemUsers(), tokens: newMemTokens()}
	logger := logging.NewNop()
	ledger := NewLedger(rm, clock, logger)

	deps := SessionDeps{
		Repos:  rm,
		Ledger: ledger,
		Codec:  codec,
		Issuer: issuer,
		Hasher: hasher,
		Clock:  clock,
		Logger: logger,
	}
	for _, c := range configure {
		c(&deps)
	}

	svc := NewSessionService(deps)
	if deps.DB == nil {
		// The fakes ignore the handle; run the body directly.
		svc.inTx = func(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
			return fn(ctx, nil)
		}
	}

	return &harness{
		svc:    svc,
		guard:  NewGuard(nil, rm, codec, logger),
		ledger: ledger,
		users:  rm.users,
		tokens: rm.tokens,
		clock:  clock,
		codec:  codec,
		issuer: issuer,
		hasher: hasher,
	}
}

func (h *harness) addUser(t *testing.T, email, password string, active, superuser bool) *models.User {
	t.Helper()
	digest, err := h.hasher.Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := h.users.Create(context.Background(), &models.User{
		ID:             "00000000-0000-4000-8000-" + padID(len(h.users.byID)+1),
		Email:          email,
		HashedPassword: digest,
		IsActive:       active,
		IsSuperuser:    superuser,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func padID(n int) string {
	const digits = "0123456789"
	b := []byte("000000000000")
	for i := len(b) - 1; n > 0 && i >= 0; i-- {
		b[i] = digits[n%10]
		n /= 10
	}
	return string(b)
}
