package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the lobby's cached view of an account while its owner is connected.
// Accounts are owned by the identity service; we read them on connect and
// never write back anything except block list rows.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
	Avatar   string    `json:"avatar"`
	Password string    `json:"password,omitempty"`

	// BlockList holds the IDs of users this user has blocked.
	BlockList []uuid.UUID `json:"-"`

	Registered time.Time `json:"registered"`
}

// HasBlocked reports whether this user's block list contains the given user ID.
func (u *User) HasBlocked(id uuid.UUID) bool {
	for _, b := range u.BlockList {
		if b == id {
			return true
		}
	}
	return false
}

// Summary is the public projection of a user pushed to other clients.
func (u *User) Summary() map[string]interface{} {
	return map[string]interface{}{
		"id":       u.ID.String(),
		"username": u.Username,
		"role":     u.Role,
		"avatar":   u.Avatar,
	}
}
