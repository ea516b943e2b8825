package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Anthony-Michael/replyrocket-auth/internal/common"
	"github.com/Anthony-Michael/replyrocket-auth/internal/dbx"
	"github.com/Anthony-Michael/replyrocket-auth/internal/logging"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/auth"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/models"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/repositories/repomanager"
)

var (
	errCredentials   = fmt.Errorf("%w: could not validate credentials", common.ErrAuthentication)
	errInactiveUser  = fmt.Errorf("%w: inactive user", common.ErrPermissionDenied)
	errNotPrivileged = fmt.Errorf("%w: the user doesn't have enough privileges", common.ErrPermissionDenied)
)

// AccessLevel is what an endpoint demands of its caller.
type AccessLevel int

const (
	// AccessAuthenticated needs a valid access token for an existing user.
	AccessAuthenticated AccessLevel = iota
	// AccessActive additionally needs the user to be active.
	AccessActive
	// AccessElevated additionally needs the superuser flag.
	AccessElevated
)

// Guard resolves an access token to a user and enforces an AccessLevel.
type Guard struct {
	db     dbx.DBTX
	repos  repomanager.RepositoryManager
	codec  *auth.Codec
	logger logging.Logger
}

func NewGuard(db dbx.DBTX, rm repomanager.RepositoryManager, codec *auth.Codec, logger logging.Logger) *Guard {
	return &Guard{db: db, repos: rm, codec: codec, logger: logger.With("module", "guard")}
}

// Authenticate verifies an access token and loads its subject.
func (g *Guard) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		g.logger.Debug(ctx, "authentication rejected", "check", "missing_token")
		return nil, errCredentials
	}

	claims, err := g.codec.Verify(token, auth.Access)
	if err != nil {
		g.logger.Warn(ctx, "authentication rejected", "check", auth.RejectionCheck(err), "jti", rejectionJTI(err))
		return nil, errCredentials
	}

	user, err := g.repos.Users(g.db).GetByID(ctx, claims.Subject)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		g.logger.Warn(ctx, "authentication rejected", "check", "unknown_user", "user_id", claims.Subject, "jti", claims.ID)
		return nil, errCredentials
	case err != nil:
		return nil, dbErr("load user", err)
	}
	return user, nil
}

func (g *Guard) RequireActive(ctx context.Context, user *models.User) error {
	if !user.IsActive {
		g.logger.Warn(ctx, "access denied", "reason", "inactive_user", "user_id", user.ID)
		return errInactiveUser
	}
	return nil
}

func (g *Guard) RequireElevated(ctx context.Context, user *models.User) error {
	if err := g.RequireActive(ctx, user); err != nil {
		return err
	}
	if !user.IsSuperuser {
		g.logger.Warn(ctx, "access denied", "reason", "not_superuser", "user_id", user.ID)
		return errNotPrivileged
	}
	return nil
}

// Authorize authenticates token and checks level in one call.
func (g *Guard) Authorize(ctx context.Context, token string, level AccessLevel) (*models.User, error) {
	user, err := g.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}

	switch level {
	case AccessActive:
		err = g.RequireActive(ctx, user)
	case AccessElevated:
		err = g.RequireElevated(ctx, user)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
