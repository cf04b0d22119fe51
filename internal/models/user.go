package models

import "time"

// Role is the workflow role a user acts under. Authorization of role
// membership happens upstream; the core only checks vendor verification
// on submit.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleVendor   Role = "vendor"
	RoleReviewer Role = "reviewer"
	RoleApprover Role = "approver"
)

type User struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Name      string    `json:"name"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
}
