package domain

import "time"

// Invitation statuses. An invitation leaves "pending" exactly once.
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationExpired  = "expired"
)

// Invitation is a single-use, time-boxed capability granting a team role
// upon acceptance.
type Invitation struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"site_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	Status    string    `json:"status"`
	InvitedBy string    `json:"invited_by"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
