package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/upstac/upstac/internal/platform/db"
)

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

const userCols = `id, user_name, email, first_name, last_name, role, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.UserName, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) GetByUserName(ctx context.Context, userName string) (*User, error) {
	return scanUser(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+userCols+` FROM app_user WHERE user_name = $1`, userName))
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	stored, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO app_user (user_name, email, first_name, last_name, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_name) DO UPDATE SET user_name = EXCLUDED.user_name
		RETURNING `+userCols,
		u.UserName, u.Email, u.FirstName, u.LastName, u.Role))
	if err != nil {
		return fmt.Errorf("create user %s: %w", u.UserName, err)
	}
	*u = *stored
	return nil
}
