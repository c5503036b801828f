package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/loupehq/loupe/internal/domain"
	"github.com/loupehq/loupe/internal/geoip"
	"github.com/loupehq/loupe/internal/repository"
	"github.com/loupehq/loupe/internal/useragent"
)

// Free-text fields are truncated before persistence so a hostile tracker
// cannot grow storage without bound.
const (
	maxTextLen = 500
	maxGeoLen  = 100
)

// Notifier receives a signal for every stored event.
type Notifier interface {
	EventStored(siteID string)
}

// Input is one visitor ping from the tracking snippet.
type Input struct {
	SiteID    string `json:"site_id"`
	SessionID string `json:"session_id"`
	Page      string `json:"page"`
	Referrer  string `json:"referrer"`

	// Request metadata, filled by the handler.
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

// Service runs the tracking event pipeline: validate, resolve site, drop
// bots, enrich with geo and device metadata, persist, notify.
type Service struct {
	sites    repository.SiteRepository
	events   repository.EventRepository
	geo      geoip.Resolver
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs a Service. notifier may be nil.
func New(sites repository.SiteRepository, events repository.EventRepository, geo geoip.Resolver, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		sites:    sites,
		events:   events,
		geo:      geo,
		notifier: notifier,
		logger:   logger.With("component", "ingest"),
		now:      time.Now,
	}
}

var (
	// ErrMissingFields rejects pings without site, session or page.
	ErrMissingFields = errors.New("missing required fields")
	// ErrSiteNotFound rejects pings for unregistered sites.
	ErrSiteNotFound = errors.New("site not found")
)

// Track processes one ping. The returned bool reports whether an event was
// stored; bot traffic returns (false, nil). Errors other than
// ErrMissingFields and ErrSiteNotFound indicate internal failure, which the
// endpoint hides from the caller.
func (s *Service) Track(ctx context.Context, in Input) (bool, error) {
	if strings.TrimSpace(in.SiteID) == "" || strings.TrimSpace(in.SessionID) == "" || strings.TrimSpace(in.Page) == "" {
		return false, ErrMissingFields
	}

	if _, err := s.sites.GetSiteByID(ctx, in.SiteID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrSiteNotFound
		}
		return false, err
	}

	if useragent.IsBot(in.UserAgent) {
		return false, nil
	}

	loc := s.geo.Lookup(ctx, in.IPAddress)
	info := useragent.Parse(in.UserAgent)

	event := &domain.Event{
		ID:              uuid.NewString(),
		SiteID:          in.SiteID,
		SessionID:       truncate(in.SessionID, maxTextLen),
		Page:            truncate(in.Page, maxTextLen),
		Referrer:        truncate(in.Referrer, maxTextLen),
		Timestamp:       s.now().UTC(),
		IPAddress:       truncate(in.IPAddress, maxGeoLen),
		UserAgent:       truncate(in.UserAgent, maxTextLen),
		City:            truncate(loc.City, maxGeoLen),
		Country:         truncate(loc.Country, maxGeoLen),
		DeviceType:      info.DeviceType,
		OperatingSystem: info.OperatingSystem,
		Browser:         info.Browser,
	}
	if err := s.events.InsertEvent(ctx, event); err != nil {
		return false, err
	}

	if s.notifier != nil {
		s.notifier.EventStored(in.SiteID)
	}
	return true, nil
}

func truncate(value string, max int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
