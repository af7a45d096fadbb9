package core

import (
	"time"

	"github.com/google/uuid"
)

// Notification is a user-facing message produced by triage, response and
// hunt runs
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// NewNotification creates a notification with generated ID and timestamp
func NewNotification(title, message string, severity Severity) *Notification {
	return &Notification{
		ID:        uuid.New().String(),
		Title:     title,
		Message:   message,
		Severity:  severity,
		CreatedAt: time.Now().UTC(),
	}
}
