package domain

import "time"

// Site is a tracked tenant domain.
type Site struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Domain    string    `json:"domain"`
	Timezone  string    `json:"timezone"`
	CreatedAt time.Time `json:"created_at"`
}
