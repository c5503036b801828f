package stats

import (
	"context"
	"time"

	"log/slog"

	"github.com/loupehq/loupe/internal/config"
	"github.com/loupehq/loupe/internal/domain"
	"github.com/loupehq/loupe/internal/repository"
)

const (
	defaultLookbackDays = 7
	maxLookbackDays     = 90
)

// Service answers aggregation queries. Snapshots are recomputed from the
// event slice on every request; nothing is cached or persisted.
type Service struct {
	sites  repository.SiteRepository
	events repository.EventRepository
	logger *slog.Logger
	cfg    config.Config
	now    func() time.Time
}

// New constructs a Service.
func New(sites repository.SiteRepository, events repository.EventRepository, logger *slog.Logger, cfg config.Config) *Service {
	return &Service{
		sites:  sites,
		events: events,
		logger: logger.With("component", "stats"),
		cfg:    cfg,
		now:    time.Now,
	}
}

// Snapshot fetches the site's events over the lookback window and aggregates
// them. days outside [1, 90] falls back to the 7-day default.
func (s *Service) Snapshot(ctx context.Context, siteID string, days int) (*domain.StatsSnapshot, error) {
	if days < 1 || days > maxLookbackDays {
		days = defaultLookbackDays
	}

	site, err := s.sites.GetSiteByID(ctx, siteID)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(site.Timezone)
	if err != nil {
		loc = time.UTC
	}

	now := s.now().UTC()
	since := now.AddDate(0, 0, -days)
	events, err := s.events.ListEventsSince(ctx, siteID, since)
	if err != nil {
		return nil, err
	}

	snapshot := Aggregate(events, now, s.cfg.ActiveWindow, loc)
	return &snapshot, nil
}

// ActiveUsers counts distinct sessions within the trailing active window.
// The realtime feed calls this instead of recomputing the full snapshot.
func (s *Service) ActiveUsers(ctx context.Context, siteID string) (int, error) {
	cutoff := s.now().UTC().Add(-s.cfg.ActiveWindow)
	return s.events.CountActiveSessions(ctx, siteID, cutoff)
}
