package domain

import "time"

// Event is one recorded page view with contextual metadata. Events are
// append-only; nothing in the normal flow updates or deletes them.
type Event struct {
	ID              string    `json:"id"`
	SiteID          string    `json:"site_id"`
	SessionID       string    `json:"session_id"`
	Page            string    `json:"page"`
	Referrer        string    `json:"referrer,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	IPAddress       string    `json:"ip_address"`
	UserAgent       string    `json:"user_agent"`
	City            string    `json:"city"`
	Country         string    `json:"country"`
	DeviceType      string    `json:"device_type"`
	OperatingSystem string    `json:"operating_system"`
	Browser         string    `json:"browser"`
}
