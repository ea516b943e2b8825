package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Anthony-Michael/replyrocket-auth/internal/common"
	"github.com/Anthony-Michael/replyrocket-auth/internal/cryptox"
	"github.com/Anthony-Michael/replyrocket-auth/internal/dbx"
	"github.com/Anthony-Michael/replyrocket-auth/internal/logging"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/auth"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/models"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/repositories/repomanager"
	"github.com/Anthony-Michael/replyrocket-auth/internal/timex"
)

var (
	errBadCredentials  = fmt.Errorf("%w: incorrect email or password", common.ErrAuthentication)
	errInvalidRefresh  = fmt.Errorf("%w: invalid refresh token", common.ErrAuthentication)
	errInactiveAccount = fmt.Errorf("%w: inactive user account", common.ErrPermissionDenied)
)

// Session is what a successful login or refresh hands to the transport.
type Session struct {
	User *models.User
	Pair auth.Pair
}

// SessionDeps lists the collaborators of a SessionService.
type SessionDeps struct {
	DB     *sql.DB
	Repos  repomanager.RepositoryManager
	Ledger *Ledger
	Codec  *auth.Codec
	Issuer *auth.Issuer
	Hasher *cryptox.Hasher
	Clock  timex.Clock
	Logger logging.Logger

	// RevokeFamilyOnReuse revokes every entry of a user when one of their
	// rotated tokens is presented again.
	RevokeFamilyOnReuse bool
}

// SessionService implements login, rotation on refresh, and logout.
//
// Per ledger entry: Active -> Rotated | Revoked | Expired, never back.
type SessionService struct {
	db                  *sql.DB
	repos               repomanager.RepositoryManager
	ledger              *Ledger
	codec               *auth.Codec
	issuer              *auth.Issuer
	hasher              *cryptox.Hasher
	clock               timex.Clock
	logger              logging.Logger
	revokeFamilyOnReuse bool

	// inTx runs fn in one transaction; replaced in tests.
	inTx func(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error
}

func NewSessionService(d SessionDeps) *SessionService {
	s := &SessionService{
		db:                  d.DB,
		repos:               d.Repos,
		ledger:              d.Ledger,
		codec:               d.Codec,
		issuer:              d.Issuer,
		hasher:              d.Hasher,
		clock:               d.Clock,
		logger:              d.Logger.With("module", "sessions"),
		revokeFamilyOnReuse: d.RevokeFamilyOnReuse,
	}
	s.inTx = func(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
		return dbx.WithTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, fn)
	}
	return s
}

// Login checks email and password and opens a new session.
func (s *SessionService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = common.NormalizeEmail(email)

	user, err := s.repos.Users(s.db).GetByEmail(ctx, email)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		s.hasher.Verify(password, s.hasher.DummyDigest())
		s.logger.Warn(ctx, "login rejected", "reason", "unknown_email")
		return nil, errBadCredentials
	case err != nil:
		return nil, dbErr("load user", err)
	}

	if !s.hasher.Verify(password, user.HashedPassword) {
		s.logger.Warn(ctx, "login rejected", "reason", "bad_password", "user_id", user.ID)
		return nil, errBadCredentials
	}
	if !user.IsActive {
		s.logger.Warn(ctx, "login rejected", "reason", "inactive_user", "user_id", user.ID)
		return nil, errInactiveAccount
	}

	s.upgradeDigest(ctx, user, password)

	pair, err := s.issuer.IssuePair(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	if _, err := s.ledger.Store(ctx, s.db, pair.RefreshToken, user.ID, pair.Fingerprint, pair.RefreshExpiresAt); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "login succeeded", "user_id", user.ID, "jti", pair.RefreshTokenID)
	return &Session{User: user, Pair: pair}, nil
}

// Refresh redeems refreshToken for a new pair. A token is redeemable once;
// every refusal is the same error and the cause goes to the log.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, s.rejectRefresh(ctx, "missing_token")
	}

	var (
		session  *Session
		rejected error
	)
	err := s.inTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		entry, err := s.ledger.Consume(ctx, tx, refreshToken)
		if err != nil {
			return err
		}
		if entry == nil {
			// Commit whatever the diagnosis changed (lazy expiry, family revocation).
			rejected, err = s.diagnoseMiss(ctx, tx, refreshToken)
			return err
		}

		claims, err := s.codec.Verify(refreshToken, auth.Refresh, auth.WithFingerprint(entry.Fingerprint))
		if err != nil {
			rejected = s.rejectRefresh(ctx, "claims_"+auth.RejectionCheck(err), "user_id", entry.UserID, "jti", rejectionJTI(err))
			return rejected
		}
		if claims.Subject != entry.UserID {
			rejected = s.rejectRefresh(ctx, "owner_mismatch", "user_id", entry.UserID, "jti", claims.ID)
			return rejected
		}

		user, err := s.repos.Users(tx).GetByID(ctx, entry.UserID)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			rejected = s.rejectRefresh(ctx, "unknown_user", "user_id", entry.UserID, "jti", claims.ID)
			return rejected
		case err != nil:
			return dbErr("load user", err)
		case !user.IsActive:
			rejected = s.rejectRefresh(ctx, "inactive_user", "user_id", user.ID, "jti", claims.ID)
			return rejected
		}

		pair, err := s.issuer.IssuePair(user.ID)
		if err != nil {
			return fmt.Errorf("issue tokens: %w", err)
		}
		if _, err := s.ledger.Store(ctx, tx, pair.RefreshToken, user.ID, pair.Fingerprint, pair.RefreshExpiresAt); err != nil {
			return err
		}
		session = &Session{User: user, Pair: pair}

		s.logger.Info(ctx, "refresh token rotated", "user_id", user.ID, "parent_jti", claims.ID, "jti", pair.RefreshTokenID)
		return nil
	})

	if rejected != nil {
		return nil, rejected
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// diagnoseMiss explains why Consume found nothing. rejection is what the
// caller gets; err is a store failure.
func (s *SessionService) diagnoseMiss(ctx context.Context, tx dbx.DBTX, token string) (rejection, err error) {
	entry, err := s.ledger.Lookup(ctx, tx, token)
	if err != nil {
		return nil, err
	}

	switch {
	case entry == nil:
		return s.rejectRefresh(ctx, "unknown_token", "token_ref", tokenRef(token)), nil

	case !entry.Revoked:
		// Consume skips entries past expiry; flip them now.
		s.ledger.IsUsable(ctx, tx, entry)
		return s.rejectRefresh(ctx, "expired", "user_id", entry.UserID, "token_ref", tokenRef(token)), nil

	case entry.RevokedReason == models.ReasonRotated:
		args := []any{"user_id", entry.UserID, "token_ref", tokenRef(token)}
		if s.revokeFamilyOnReuse {
			n, err := s.ledger.RevokeAllForUser(ctx, tx, entry.UserID, models.ReasonReuseDetected)
			if err != nil {
				return nil, err
			}
			args = append(args, "family_revoked", n)
		}
		return s.rejectRefresh(ctx, "reuse_detected", args...), nil

	default:
		return s.rejectRefresh(ctx, "revoked", "user_id", entry.UserID, "reason", string(entry.RevokedReason)), nil
	}
}

func (s *SessionService) rejectRefresh(ctx context.Context, check string, args ...any) error {
	s.logger.Warn(ctx, "refresh rejected", append([]any{"check", check}, args...)...)
	return errInvalidRefresh
}

func rejectionJTI(err error) string {
	var re *auth.RejectionError
	if errors.As(err, &re) {
		return re.TokenID
	}
	return ""
}

// Logout revokes refreshToken if it is still active. Store failures are
// logged and swallowed so the caller can always clear the client.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return
	}

	entry, err := s.ledger.Revoke(ctx, s.db, refreshToken, models.ReasonLogout)
	if err != nil {
		s.logger.Error(ctx, "logout revoke failed", "token_ref", tokenRef(refreshToken), "error", err)
		return
	}
	if entry != nil {
		s.logger.Info(ctx, "logged out", "user_id", entry.UserID)
	}
}

// LogoutAll revokes every active entry of userID and returns how many.
func (s *SessionService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.ledger.RevokeAllForUser(ctx, s.db, userID, models.ReasonLogoutAll)
	if err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "logged out everywhere", "user_id", userID, "revoked", n)
	return n, nil
}

// IssueAccessToken mints a standalone access token for an active user,
// without a ledger entry or fingerprint. Used by operators, not by clients.
func (s *SessionService) IssueAccessToken(ctx context.Context, email string) (string, time.Time, error) {
	user, err := s.repos.Users(s.db).GetByEmail(ctx, common.NormalizeEmail(email))
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return "", time.Time{}, fmt.Errorf("%w: no user with email %q", common.ErrorNotFound, email)
	case err != nil:
		return "", time.Time{}, dbErr("load user", err)
	}
	if !user.IsActive {
		return "", time.Time{}, errInactiveAccount
	}

	token, exp, err := s.issuer.IssueAccess(user.ID, "")
	if err != nil {
		return "", time.Time{}, fmt.Errorf("issue token: %w", err)
	}
	s.logger.Info(ctx, "access token issued", "user_id", user.ID, "expires_at", exp)
	return token, exp, nil
}

// RegisterOption adjusts a user before it is created.
type RegisterOption func(*models.User)

// AsSuperuser creates the user with the elevated flag set.
func AsSuperuser() RegisterOption {
	return func(u *models.User) { u.IsSuperuser = true }
}

// Register creates an active user.
func (s *SessionService) Register(ctx context.Context, email, password, fullName string, opts ...RegisterOption) (*models.User, error) {
	email = common.NormalizeEmail(email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, fmt.Errorf("%w: invalid email address", common.ErrorInvalidInput)
	}
	if err := cryptox.ValidatePasswordStrength(password); err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		ID:             uuid.NewString(),
		Email:          email,
		HashedPassword: digest,
		FullName:       strings.TrimSpace(fullName),
		IsActive:       true,
	}
	for _, opt := range opts {
		opt(user)
	}

	created, err := s.repos.Users(s.db).Create(ctx, user)
	switch {
	case errors.Is(err, common.ErrorAlreadyExists):
		return nil, fmt.Errorf("%w: user with this email already exists", common.ErrorAlreadyExists)
	case err != nil:
		return nil, dbErr("create user", err)
	}

	s.logger.Info(ctx, "user registered", "user_id", created.ID, "superuser", created.IsSuperuser)
	return created, nil
}

// ChangePassword replaces the password of userID and ends all its sessions.
func (s *SessionService) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.repos.Users(s.db).GetByID(ctx, userID)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return fmt.Errorf("%w: unknown user", common.ErrAuthentication)
	case err != nil:
		return dbErr("load user", err)
	}

	if !s.hasher.Verify(current, user.HashedPassword) {
		s.logger.Warn(ctx, "password change rejected", "reason", "bad_password", "user_id", userID)
		return fmt.Errorf("%w: current password is incorrect", common.ErrorInvalidInput)
	}
	if current == next {
		return fmt.Errorf("%w: new password must differ from the current one", common.ErrorInvalidInput)
	}
	if err := cryptox.ValidatePasswordStrength(next); err != nil {
		return err
	}

	digest, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	var revoked int64
	err = s.inTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Users(tx).UpdatePassword(ctx, userID, digest); err != nil {
			return dbErr("update password", err)
		}
		var err error
		revoked, err = s.ledger.RevokeAllForUser(ctx, tx, userID, models.ReasonPasswordChange)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "password changed", "user_id", userID, "revoked", revoked)
	return nil
}

// PurgeExpired revokes every expired entry. Meant for a periodic external job.
func (s *SessionService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.ledger.PurgeExpired(ctx, s.db)
	if err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "expired refresh tokens purged", "count", n)
	return n, nil
}

// DeleteStale removes ledger rows dead for longer than olderThan.
func (s *SessionService) DeleteStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.ledger.DeleteStale(ctx, s.db, s.clock.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "stale refresh tokens deleted", "count", n)
	return n, nil
}

func (s *SessionService) upgradeDigest(ctx context.Context, user *models.User, password string) {
	if !s.hasher.NeedsRehash(user.HashedPassword) {
		return
	}
	digest, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warn(ctx, "rehash failed", "user_id", user.ID, "error", err)
		return
	}
	if err := s.repos.Users(s.db).UpdatePassword(ctx, user.ID, digest); err != nil {
		s.logger.Warn(ctx, "rehash store failed", "user_id", user.ID, "error", err)
		return
	}
	user.HashedPassword = digest
	s.logger.Info(ctx, "password digest upgraded", "user_id", user.ID)
}
