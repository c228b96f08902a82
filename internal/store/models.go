package store

import (
	"errors"
	"time"

	"github.com/rahul/hitobot/internal/governance"
)

var errNotFound = errors.New("not found")

// ErrUserNotFound is returned when a chat user has never registered.
var ErrUserNotFound = errors.New("user not found")

// User is a registered chat user.
type User struct {
	TelegramID int64
	Name       string
	Role       governance.Role
	Status     governance.Status
	CreatedAt  time.Time
}

// Authorized reports whether an administrator has approved the user.
func (u User) Authorized() bool { return u.Status == governance.StatusAuthorized }

// ImportResult summarises an ingestion run.
type ImportResult struct {
	Inserted int
	Updated  int
	Deleted  int
}

// Notification identifies one delivered reminder.
type Notification struct {
	RequestID int64
	Kind      string
	Planned   string
	Recipient string
}
