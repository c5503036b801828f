package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/loupehq/loupe/internal/domain"
)

// InsertEvent appends a visit event through a batch insert.
func (r *Repository) InsertEvent(ctx context.Context, event *domain.Event) error {
	batch, err := r.conn.PrepareBatch(ctx, `
		INSERT INTO events (
			id, site_id, session_id, page, referrer, timestamp, ip_address,
			user_agent, city, country, device_type, operating_system, browser
		)`)
	if err != nil {
		return fmt.Errorf("prepare event batch: %w", err)
	}
	if err := batch.Append(
		event.ID, event.SiteID, event.SessionID, event.Page, event.Referrer,
		event.Timestamp, event.IPAddress, event.UserAgent, event.City,
		event.Country, event.DeviceType, event.OperatingSystem, event.Browser,
	); err != nil {
		return fmt.Errorf("append event to batch: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send event batch: %w", err)
	}
	return nil
}

// ListEventsSince returns the site's events with timestamp >= since,
// oldest first.
func (r *Repository) ListEventsSince(ctx context.Context, siteID string, since time.Time) ([]domain.Event, error) {
	const query = `
		SELECT id, site_id, session_id, page, referrer, timestamp, ip_address,
			user_agent, city, country, device_type, operating_system, browser
		FROM events
		WHERE site_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC`
	rows, err := r.conn.Query(ctx, query, siteID, since)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.SiteID, &e.SessionID, &e.Page, &e.Referrer, &e.Timestamp,
			&e.IPAddress, &e.UserAgent, &e.City, &e.Country, &e.DeviceType, &e.OperatingSystem, &e.Browser); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountActiveSessions counts distinct sessions with an event since the cutoff.
func (r *Repository) CountActiveSessions(ctx context.Context, siteID string, since time.Time) (int, error) {
	const query = `SELECT uniqExact(session_id) FROM events WHERE site_id = ? AND timestamp >= ?`
	row := r.conn.QueryRow(ctx, query, siteID, since)
	var count uint64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return int(count), nil
}
