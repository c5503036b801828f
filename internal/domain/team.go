package domain

import "time"

// Team roles, in descending privilege order.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// TeamMember ties a user to a site with a role. The owner row is created
// with the site and is never removable.
type TeamMember struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"site_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	InvitedBy string    `json:"invited_by,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CanManageTeam reports whether the role may invite or remove members.
func CanManageTeam(role string) bool {
	return role == RoleOwner || role == RoleAdmin
}
