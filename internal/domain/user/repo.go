package user

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("user not found")

type UserRepository interface {
	GetByUserName(ctx context.Context, userName string) (*User, error)
	// Create inserts u and fills in its ID and CreatedAt. An existing user
	// with the same name is returned unchanged instead.
	Create(ctx context.Context, u *User) error
}
