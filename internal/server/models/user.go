package models

import "time"

type User struct {
	ID             string    `db:"id"`
	Email          string    `db:"email"`
	HashedPassword string    `db:"hashed_password"`
	FullName       string    `db:"full_name"`
	IsActive       bool      `db:"is_active"`
	IsSuperuser    bool      `db:"is_superuser"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}
