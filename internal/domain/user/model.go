package user

import "time"

// User is a registered account. Doctors are users with the DOCTOR role.
type User struct {
	ID        int64     `db:"id" json:"id"`
	UserName  string    `db:"user_name" json:"userName"`
	Email     string    `db:"email" json:"email"`
	FirstName string    `db:"first_name" json:"firstName"`
	LastName  string    `db:"last_name" json:"lastName"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
