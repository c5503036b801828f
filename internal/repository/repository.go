package repository

import (
	"context"
	"time"

	"github.com/loupehq/loupe/internal/domain"
)

// UserRepository persists dashboard accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// SiteRepository persists tracked sites.
type SiteRepository interface {
	// CreateSite inserts the site and its owner membership atomically.
	CreateSite(ctx context.Context, site *domain.Site, owner *domain.TeamMember) error
	GetSiteByID(ctx context.Context, siteID string) (*domain.Site, error)
	GetSiteByDomain(ctx context.Context, dom string) (*domain.Site, error)
	ListSitesByUser(ctx context.Context, userID string) ([]domain.Site, error)
}

// EventRepository is the append-only visit log.
type EventRepository interface {
	InsertEvent(ctx context.Context, event *domain.Event) error
	ListEventsSince(ctx context.Context, siteID string, since time.Time) ([]domain.Event, error)
	CountActiveSessions(ctx context.Context, siteID string, since time.Time) (int, error)
}

// TeamRepository manages site memberships.
type TeamRepository interface {
	InsertMember(ctx context.Context, member *domain.TeamMember) error
	GetMember(ctx context.Context, siteID, userID string) (*domain.TeamMember, error)
	GetMemberByID(ctx context.Context, memberID string) (*domain.TeamMember, error)
	ListMembers(ctx context.Context, siteID string) ([]domain.TeamMember, error)
	DeleteMember(ctx context.Context, memberID string) error
}

// InvitationRepository stores time-boxed invitation tokens.
type InvitationRepository interface {
	CreateInvitation(ctx context.Context, invitation *domain.Invitation) error
	GetInvitationByToken(ctx context.Context, token string) (*domain.Invitation, error)
	GetInvitationByID(ctx context.Context, id string) (*domain.Invitation, error)
	GetPendingInvitation(ctx context.Context, siteID, email string) (*domain.Invitation, error)
	ListPendingInvitations(ctx context.Context, siteID string) ([]domain.Invitation, error)
	// UpdateInvitationStatus transitions from "pending" only; any other
	// current status leaves the row untouched and returns ErrNotFound.
	UpdateInvitationStatus(ctx context.Context, id, status string) error
	// AcceptInvitation inserts the membership and flips the invitation to
	// "accepted" in one transaction.
	AcceptInvitation(ctx context.Context, invitation *domain.Invitation, member *domain.TeamMember) error
	DeleteInvitation(ctx context.Context, id string) error
}
