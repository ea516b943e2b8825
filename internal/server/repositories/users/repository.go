package users

import (
	"context"

	"github.com/Anthony-Michael/replyrocket-auth/internal/server/models"
)

type Repository interface {
	// Create inserts user; common.ErrorAlreadyExists if the email is taken.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	// GetByEmail expects an already normalized (lower-cased) email.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, hashedPassword string) error
}
