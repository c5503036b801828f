package stats

import (
	"fmt"
	"sort"
	"time"

	"github.com/loupehq/loupe/internal/domain"
	"github.com/loupehq/loupe/internal/geoip"
)

const topLimit = 10

// Aggregate computes a stats snapshot from a slice of events in one pass.
// It is a pure function of its inputs: visitor uniqueness is defined as
// distinct session IDs, activeWindow bounds the active-user count relative
// to now, and loc places events into hour-of-day buckets. An event with an
// empty or Unknown dimension value is excluded from that dimension's
// breakdown only, never from totals.
func Aggregate(events []domain.Event, now time.Time, activeWindow time.Duration, loc *time.Location) domain.StatsSnapshot {
	if loc == nil {
		loc = time.UTC
	}
	activeCutoff := now.Add(-activeWindow)

	sessions := make(map[string]struct{})
	activeSessions := make(map[string]struct{})
	pageViews := make(map[string]int)
	referrerViews := make(map[string]int)
	countrySessions := make(map[string]map[string]struct{})
	citySessions := make(map[string]map[string]struct{})
	deviceSessions := make(map[string]map[string]struct{})
	osSessions := make(map[string]map[string]struct{})
	browserSessions := make(map[string]map[string]struct{})
	hourSessions := make(map[int]map[string]struct{})

	for _, e := range events {
		sessions[e.SessionID] = struct{}{}
		if !e.Timestamp.Before(activeCutoff) {
			activeSessions[e.SessionID] = struct{}{}
		}
		pageViews[e.Page]++
		if e.Referrer != "" {
			referrerViews[e.Referrer]++
		}
		if e.Country != "" && e.Country != geoip.Unknown {
			addSession(countrySessions, e.Country, e.SessionID)
		}
		if e.City != "" && e.City != geoip.Unknown {
			addSession(citySessions, e.City, e.SessionID)
		}
		if e.DeviceType != "" {
			addSession(deviceSessions, e.DeviceType, e.SessionID)
		}
		if e.OperatingSystem != "" {
			addSession(osSessions, e.OperatingSystem, e.SessionID)
		}
		if e.Browser != "" {
			addSession(browserSessions, e.Browser, e.SessionID)
		}
		hour := e.Timestamp.In(loc).Hour()
		if hourSessions[hour] == nil {
			hourSessions[hour] = make(map[string]struct{})
		}
		hourSessions[hour][e.SessionID] = struct{}{}
	}

	byHour := make([]domain.HourCount, 24)
	for hour := 0; hour < 24; hour++ {
		byHour[hour] = domain.HourCount{
			Hour:     fmt.Sprintf("%02d:00", hour),
			Visitors: len(hourSessions[hour]),
		}
	}

	return domain.StatsSnapshot{
		TotalVisitors:    len(sessions),
		ActiveUsers:      len(activeSessions),
		TopPages:         topPages(pageViews, topLimit),
		TopReferrers:     topReferrers(referrerViews, topLimit),
		TopCountries:     rankSessions(countrySessions, topLimit),
		TopCities:        rankSessions(citySessions, topLimit),
		DeviceTypes:      rankSessions(deviceSessions, 0),
		OperatingSystems: rankSessions(osSessions, 0),
		Browsers:         rankSessions(browserSessions, 0),
		VisitorsByHour:   byHour,
	}
}

func addSession(m map[string]map[string]struct{}, key, sessionID string) {
	if m[key] == nil {
		m[key] = make(map[string]struct{})
	}
	m[key][sessionID] = struct{}{}
}

func topPages(views map[string]int, limit int) []domain.PageCount {
	out := make([]domain.PageCount, 0, len(views))
	for page, count := range views {
		out = append(out, domain.PageCount{Page: page, Views: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Views > out[j].Views })
	return capSlice(out, limit)
}

func topReferrers(views map[string]int, limit int) []domain.ReferrerCount {
	out := make([]domain.ReferrerCount, 0, len(views))
	for referrer, count := range views {
		out = append(out, domain.ReferrerCount{Referrer: referrer, Views: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Views > out[j].Views })
	return capSlice(out, limit)
}

// rankSessions converts per-value session sets into sorted visitor counts.
// limit == 0 keeps the full breakdown.
func rankSessions(m map[string]map[string]struct{}, limit int) []domain.DimensionCount {
	out := make([]domain.DimensionCount, 0, len(m))
	for value, sessionSet := range m {
		out = append(out, domain.DimensionCount{Value: value, Visitors: len(sessionSet)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Visitors > out[j].Visitors })
	return capSlice(out, limit)
}

func capSlice[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
