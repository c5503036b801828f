package site

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/loupehq/loupe/internal/domain"
	"github.com/loupehq/loupe/internal/repository"
)

// domainPattern matches bare registrable domains like "example.com".
var domainPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{1,61}[a-zA-Z0-9]\.[a-zA-Z]{2,}$`)

// Service handles site registration and lookup.
type Service struct {
	sites  repository.SiteRepository
	logger *slog.Logger
}

// New constructs a Service.
func New(sites repository.SiteRepository, logger *slog.Logger) Service {
	return Service{sites: sites, logger: logger}
}

var (
	errDomainRequired = errors.New("domain is required")
	errInvalidDomain  = errors.New("invalid domain format")
	// ErrDomainTaken surfaces duplicate registrations to the conflict path.
	ErrDomainTaken = errors.New("domain already exists")
)

// Create registers a site for the owner. The owner membership row is written
// in the same transaction as the site.
func (s Service) Create(ctx context.Context, ownerID, dom, timezone string) (*domain.Site, error) {
	dom = strings.ToLower(strings.TrimSpace(dom))
	if dom == "" {
		return nil, errDomainRequired
	}
	if !domainPattern.MatchString(dom) {
		return nil, errInvalidDomain
	}
	if timezone == "" {
		timezone = "UTC"
	} else if _, err := time.LoadLocation(timezone); err != nil {
		return nil, errors.New("invalid timezone")
	}

	site := &domain.Site{
		ID:        uuid.NewString(),
		UserID:    ownerID,
		Domain:    dom,
		Timezone:  timezone,
		CreatedAt: time.Now().UTC(),
	}
	owner := &domain.TeamMember{
		ID:        uuid.NewString(),
		SiteID:    site.ID,
		UserID:    ownerID,
		Role:      domain.RoleOwner,
		CreatedAt: site.CreatedAt,
	}
	if err := s.sites.CreateSite(ctx, site, owner); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrDomainTaken
		}
		return nil, err
	}
	s.logger.Info("site created", "site_id", site.ID, "domain", site.Domain, "owner_id", ownerID)
	return site, nil
}

// ListByUser returns sites the user owns or belongs to.
func (s Service) ListByUser(ctx context.Context, userID string) ([]domain.Site, error) {
	return s.sites.ListSitesByUser(ctx, userID)
}

// Get returns a site without any access check. Public tracking endpoints use
// this to resolve site existence for anonymous visitors.
func (s Service) Get(ctx context.Context, siteID string) (*domain.Site, error) {
	return s.sites.GetSiteByID(ctx, siteID)
}
