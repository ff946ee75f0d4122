package auth

import "time"

// User represents an account that can obtain identity tokens.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity is the authenticated caller produced by token verification.
// Roles are the names embedded at issue time and are informational only;
// authorization always re-reads roles from the role store.
type Identity struct {
	UserID    int64
	Roles     []string
	TokenID   string
	ExpiresAt time.Time
}

// Anonymous reports whether the identity carries no user.
func (i Identity) Anonymous() bool {
	return i.UserID <= 0
}
