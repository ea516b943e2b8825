// Package common defines shared constants and sentinel errors used across
// the auth service layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Validation errors. Messages wrapped around it are safe to show.
	ErrorInvalidInput = errors.New("invalid input")

	// ErrAuthentication is the only failure a caller sees for a bad credential
	// or token. The concrete reason stays in the logs.
	ErrAuthentication = errors.New("authentication failed")

	// ErrPermissionDenied means the caller is known but not allowed.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrDatabase wraps store failures so they never surface as auth failures.
	ErrDatabase = errors.New("database error")

	ErrRateLimited = errors.New("rate limited")
)
