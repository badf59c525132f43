package user

import (
	"context"
	"errors"
	"fmt"
)

// EnsureUser returns the user named userName, creating it with role when it
// does not exist. created reports whether a row was inserted.
func EnsureUser(ctx context.Context, repo UserRepository, userName, role string) (u *User, created bool, err error) {
	u, err = repo.GetByUserName(ctx, userName)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("look up user %s: %w", userName, err)
	}

	u = &User{UserName: userName, Email: userName + "@localhost", Role: role}
	if err := repo.Create(ctx, u); err != nil {
		return nil, false, err
	}
	return u, true, nil
}
