package user

import "time"

// Role grants back-office permissions.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleStaff
}

// User is a back-office account.
type User struct {
	ID           string     `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	Name         string     `json:"name" db:"name"`
	Role         Role       `json:"role" db:"role"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Active       bool       `json:"active" db:"active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// IsActiveAdmin reports whether u can currently act as an admin.
func (u User) IsActiveAdmin() bool {
	return u.Active && u.Role == RoleAdmin
}
