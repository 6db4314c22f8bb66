package types

import "time"

// Role values accepted on User.Role.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a member of the exchange.
// It contains identity, role, the points balance and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID string `json:"uid" db:"id"`

	// Name is the user's display name.
	Name string `json:"name" db:"name"`

	// Email is the user's email address and login name.
	Email string `json:"email" db:"email"`

	// Role indicates the user's authorization level ("user" or "admin").
	Role string `json:"role" db:"role"`

	// Points is the current points balance. It never goes negative.
	Points int `json:"points" db:"points"`

	// AvatarURL is an optional profile picture.
	AvatarURL string `json:"avatar_url,omitempty" db:"avatar_url"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
