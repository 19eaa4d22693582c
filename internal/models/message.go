package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a persisted lobby chat message.
type Message struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar"`
	Role     string    `json:"role"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}
