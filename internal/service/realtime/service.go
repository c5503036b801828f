package realtime

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/loupehq/loupe/internal/ws"
)

const defaultRefreshInterval = 30 * time.Second

// ActiveCounter reports the number of active sessions for a site.
type ActiveCounter interface {
	ActiveUsers(ctx context.Context, siteID string) (int, error)
}

// Service keeps active-user counts fresh for subscribed sites. Two
// independent triggers drive the same idempotent recomputation: a fixed
// interval tick and a push for every stored event. Neither ordering nor
// deduplication between them matters.
type Service struct {
	counter ActiveCounter
	hub     *ws.Hub
	every   time.Duration
	logger  *slog.Logger
	events  chan string
}

// New constructs a Service.
func New(counter ActiveCounter, hub *ws.Hub, every time.Duration, logger *slog.Logger) *Service {
	if every <= 0 {
		every = defaultRefreshInterval
	}
	if hub == nil {
		hub = ws.NewHub()
	}
	return &Service{
		counter: counter,
		hub:     hub,
		every:   every,
		logger:  logger.With("component", "realtime"),
		events:  make(chan string, 256),
	}
}

// Hub exposes the underlying subscription hub.
func (s *Service) Hub() *ws.Hub {
	return s.hub
}

// Run drives the periodic refresh and drains event notifications. It blocks
// until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	s.logger.Info("realtime feed started", "refresh_every", s.every)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("realtime feed stopped")
			return
		case <-ticker.C:
			for _, siteID := range s.hub.Sites() {
				s.refresh(ctx, siteID)
			}
		case siteID := <-s.events:
			if s.hub.HasSubscribers(siteID) {
				s.refresh(ctx, siteID)
			}
		}
	}
}

// EventStored queues a refresh for the site. It never blocks the ingest
// path: when the queue is full the periodic tick will catch up.
func (s *Service) EventStored(siteID string) {
	select {
	case s.events <- siteID:
	default:
	}
}

// Subscribe registers a client on the site's stream and immediately sends
// the current count.
func (s *Service) Subscribe(ctx context.Context, siteID string, client ws.Subscriber) {
	s.hub.Register(siteID, client)
	count, err := s.counter.ActiveUsers(ctx, siteID)
	if err != nil {
		s.logger.Warn("initial active-user count failed", "site_id", siteID, "error", err)
		return
	}
	if payload, err := marshalCount(siteID, count); err == nil {
		_ = client.Send(payload)
	}
}

// Unsubscribe removes a client from the site's stream.
func (s *Service) Unsubscribe(siteID string, client ws.Subscriber) {
	s.hub.Unregister(siteID, client)
}

func (s *Service) refresh(ctx context.Context, siteID string) {
	count, err := s.counter.ActiveUsers(ctx, siteID)
	if err != nil {
		s.logger.Warn("active-user refresh failed", "site_id", siteID, "error", err)
		return
	}
	payload, err := marshalCount(siteID, count)
	if err != nil {
		return
	}
	s.hub.Broadcast(siteID, payload)
}

func marshalCount(siteID string, count int) ([]byte, error) {
	return json.Marshal(map[string]any{
		"site_id":      siteID,
		"active_users": count,
		"at":           time.Now().UTC().Format(time.RFC3339),
	})
}
