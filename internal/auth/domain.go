package auth

import "time"

// Role constants used by route guards.
const (
	RoleAdmin      = "admin"
	RoleAccountant = "accountant"
	RoleClerk      = "clerk"
)

// User model.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ValidRole reports whether the role string is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleAccountant, RoleClerk:
		return true
	}
	return false
}
