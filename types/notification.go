package types

import "time"

// NotificationType groups notifications by what triggered them.
type NotificationType string

const (
	NotificationSwap   NotificationType = "swap"
	NotificationRedeem NotificationType = "redeem"
	NotificationAdmin  NotificationType = "admin"
)

// Notification is a message shown to a single user.
type Notification struct {
	ID        string           `json:"id" db:"id"`
	UserID    string           `json:"user_id" db:"user_id"`
	Title     string           `json:"title" db:"title"`
	Message   string           `json:"message" db:"message"`
	Type      NotificationType `json:"type" db:"type"`
	Read      bool             `json:"read" db:"read"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}
