package roles

import "time"

// GuestRoleID is the implicit role every caller holds, including anonymous ones.
const GuestRoleID = "guest"

// Role is a weighted permission group. Lower weights merge first so heavier
// roles can refine what lighter ones grant. ParentID is informational.
type Role struct {
	ID          string    `json:"id"`
	ParentID    string    `json:"parent_id,omitempty"`
	Weight      int       `json:"weight"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Guest returns the implicit guest role.
func Guest() Role {
	return Role{ID: GuestRoleID, Weight: 0}
}
