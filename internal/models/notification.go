package models

import "time"

// Scope is an audience partition for notifications. Vendor scope is
// further partitioned by vendor id.
type Scope string

const (
	ScopeAdmin    Scope = "admin"
	ScopeVendor   Scope = "vendor"
	ScopeReviewer Scope = "reviewer"
	ScopeApprover Scope = "approver"
)

// Valid reports whether the scope is one of the four audiences.
func (s Scope) Valid() bool {
	switch s {
	case ScopeAdmin, ScopeVendor, ScopeReviewer, ScopeApprover:
		return true
	}
	return false
}

// Notification is an immutable in-app notification record.
type Notification struct {
	ID        string                 `json:"id"`
	Scope     Scope                  `json:"scope"`
	TargetID  *string                `json:"targetId,omitempty"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`

	// IsRead is computed per reader when listing; not stored on the row.
	IsRead bool `json:"isRead"`
}

// ReadReceipt marks that a reader has seen a notification. At most one
// receipt exists per (notification, reader) pair.
type ReadReceipt struct {
	NotificationID string    `json:"notificationId"`
	ReaderID       string    `json:"readerId"`
	ReadAt         time.Time `json:"readAt"`
}
