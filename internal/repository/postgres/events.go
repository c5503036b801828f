package postgres

import (
	"context"
	"time"

	"github.com/loupehq/loupe/internal/domain"
)

// InsertEvent appends a visit event.
func (r *Repository) InsertEvent(ctx context.Context, event *domain.Event) error {
	const query = `INSERT INTO events (
			id, site_id, session_id, page, referrer, timestamp, ip_address,
			user_agent, city, country, device_type, operating_system, browser
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.pool.Exec(ctx, query,
		event.ID, event.SiteID, event.SessionID, event.Page, event.Referrer,
		event.Timestamp, event.IPAddress, event.UserAgent, event.City,
		event.Country, event.DeviceType, event.OperatingSystem, event.Browser)
	return err
}

// ListEventsSince returns the site's events with timestamp >= since,
// oldest first.
func (r *Repository) ListEventsSince(ctx context.Context, siteID string, since time.Time) ([]domain.Event, error) {
	const query = `SELECT id, site_id, session_id, page, COALESCE(referrer, ''), timestamp,
			ip_address, user_agent, city, country, device_type, operating_system, browser
		FROM events
		WHERE site_id = $1 AND timestamp >= $2
		ORDER BY timestamp ASC`
	rows, err := r.pool.Query(ctx, query, siteID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.SiteID, &e.SessionID, &e.Page, &e.Referrer, &e.Timestamp,
			&e.IPAddress, &e.UserAgent, &e.City, &e.Country, &e.DeviceType, &e.OperatingSystem, &e.Browser); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountActiveSessions counts distinct sessions with an event since the cutoff.
func (r *Repository) CountActiveSessions(ctx context.Context, siteID string, since time.Time) (int, error) {
	const query = `SELECT COUNT(DISTINCT session_id) FROM events WHERE site_id = $1 AND timestamp >= $2`
	row := r.pool.QueryRow(ctx, query, siteID, since)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
