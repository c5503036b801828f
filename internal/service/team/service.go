package team

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/loupehq/loupe/internal/domain"
	"github.com/loupehq/loupe/internal/repository"
)

// Service handles team membership and invitation workflows. Role checks run
// on every call against the membership table; nothing is cached.
type Service struct {
	members     repository.TeamRepository
	invitations repository.InvitationRepository
	users       repository.UserRepository
	logger      *slog.Logger
	inviteTTL   time.Duration
	now         func() time.Time
}

// New constructs a Service.
func New(members repository.TeamRepository, invitations repository.InvitationRepository, users repository.UserRepository, logger *slog.Logger, inviteTTL time.Duration) *Service {
	if inviteTTL <= 0 {
		inviteTTL = 7 * 24 * time.Hour
	}
	return &Service{
		members:     members,
		invitations: invitations,
		users:       users,
		logger:      logger.With("component", "team"),
		inviteTTL:   inviteTTL,
		now:         time.Now,
	}
}

var (
	// ErrForbidden means the caller lacks the role for the operation.
	ErrForbidden = errors.New("insufficient permissions")
	// ErrNotMember means the caller does not belong to the site at all.
	ErrNotMember = errors.New("not a member of this site")
	// ErrAlreadyMember rejects inviting an email that already maps to a member.
	ErrAlreadyMember = errors.New("user is already a team member")
	// ErrInvitationExists rejects duplicate pending invitations.
	ErrInvitationExists = errors.New("invitation already sent to this email")
	// ErrInvalidInvitation covers unknown, consumed and expired tokens.
	ErrInvalidInvitation = errors.New("invalid or expired invitation")
	// ErrInvitationExpired is returned on the acceptance attempt that
	// discovers the expiry.
	ErrInvitationExpired = errors.New("invitation has expired")
	// ErrWrongEmail means the invitation targets another address.
	ErrWrongEmail = errors.New("this invitation is not for your email address")
	// ErrOwnerImmutable protects the owner membership row.
	ErrOwnerImmutable = errors.New("the site owner cannot be removed")

	errInvalidRole   = errors.New("role must be admin or viewer")
	errEmailRequired = errors.New("email is required")
)

// Overview bundles members and pending invitations for the team page.
type Overview struct {
	Members     []domain.TeamMember `json:"team_members"`
	Invitations []domain.Invitation `json:"invitations"`
}

// Overview lists members and pending invitations. Any member may read it.
func (s *Service) Overview(ctx context.Context, siteID, callerID string) (*Overview, error) {
	if _, err := s.requireMember(ctx, siteID, callerID); err != nil {
		return nil, err
	}
	members, err := s.members.ListMembers(ctx, siteID)
	if err != nil {
		return nil, err
	}
	invitations, err := s.invitations.ListPendingInvitations(ctx, siteID)
	if err != nil {
		return nil, err
	}
	return &Overview{Members: members, Invitations: invitations}, nil
}

// Invite issues a pending invitation. The inviter must hold owner or admin.
func (s *Service) Invite(ctx context.Context, siteID, inviterID, email, role string) (*domain.Invitation, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, errEmailRequired
	}
	if role != domain.RoleAdmin && role != domain.RoleViewer {
		return nil, errInvalidRole
	}
	if err := s.requireManager(ctx, siteID, inviterID); err != nil {
		return nil, err
	}

	if _, err := s.invitations.GetPendingInvitation(ctx, siteID, email); err == nil {
		return nil, ErrInvitationExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	// The invited address may already belong to an account with membership.
	if user, err := s.users.GetUserByEmail(ctx, email); err == nil {
		if _, err := s.members.GetMember(ctx, siteID, user.ID); err == nil {
			return nil, ErrAlreadyMember
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	invitation := &domain.Invitation{
		ID:        uuid.NewString(),
		SiteID:    siteID,
		Email:     email,
		Role:      role,
		Token:     uuid.NewString(),
		Status:    domain.InvitationPending,
		InvitedBy: inviterID,
		ExpiresAt: s.now().UTC().Add(s.inviteTTL),
		CreatedAt: s.now().UTC(),
	}
	if err := s.invitations.CreateInvitation(ctx, invitation); err != nil {
		return nil, err
	}
	s.logger.Info("invitation created", "site_id", siteID, "invitation_id", invitation.ID, "role", role)
	return invitation, nil
}

// Accept consumes an invitation token for the authenticated caller. An
// expired invitation is marked expired as a side effect of the failed
// attempt, not proactively.
func (s *Service) Accept(ctx context.Context, token, userID, userEmail string) error {
	invitation, err := s.invitations.GetInvitationByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidInvitation
		}
		return err
	}
	if invitation.Status != domain.InvitationPending {
		return ErrInvalidInvitation
	}
	if !strings.EqualFold(invitation.Email, userEmail) {
		return ErrWrongEmail
	}
	if s.now().UTC().After(invitation.ExpiresAt) {
		if err := s.invitations.UpdateInvitationStatus(ctx, invitation.ID, domain.InvitationExpired); err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("failed to mark invitation expired", "invitation_id", invitation.ID, "error", err)
		}
		return ErrInvitationExpired
	}

	member := &domain.TeamMember{
		ID:        uuid.NewString(),
		SiteID:    invitation.SiteID,
		UserID:    userID,
		Role:      invitation.Role,
		InvitedBy: invitation.InvitedBy,
		CreatedAt: s.now().UTC(),
	}
	if err := s.invitations.AcceptInvitation(ctx, invitation, member); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrAlreadyMember
		}
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidInvitation
		}
		return err
	}
	s.logger.Info("invitation accepted", "site_id", invitation.SiteID, "user_id", userID, "role", invitation.Role)
	return nil
}

// Cancel deletes a pending invitation. The caller must manage the site.
func (s *Service) Cancel(ctx context.Context, invitationID, callerID string) error {
	invitation, err := s.invitations.GetInvitationByID(ctx, invitationID)
	if err != nil {
		return err
	}
	if err := s.requireManager(ctx, invitation.SiteID, callerID); err != nil {
		return err
	}
	return s.invitations.DeleteInvitation(ctx, invitationID)
}

// RemoveMember deletes a membership row. The owner row is never removable
// through this path.
func (s *Service) RemoveMember(ctx context.Context, siteID, callerID, memberID string) error {
	if err := s.requireManager(ctx, siteID, callerID); err != nil {
		return err
	}
	member, err := s.members.GetMemberByID(ctx, memberID)
	if err != nil {
		return err
	}
	if member.SiteID != siteID {
		return repository.ErrNotFound
	}
	if member.Role == domain.RoleOwner {
		return ErrOwnerImmutable
	}
	if err := s.members.DeleteMember(ctx, memberID); err != nil {
		return err
	}
	s.logger.Info("member removed", "site_id", siteID, "member_id", memberID, "removed_by", callerID)
	return nil
}

// RequireMember verifies site membership for read access.
func (s *Service) RequireMember(ctx context.Context, siteID, userID string) (*domain.TeamMember, error) {
	return s.requireMember(ctx, siteID, userID)
}

func (s *Service) requireMember(ctx context.Context, siteID, userID string) (*domain.TeamMember, error) {
	member, err := s.members.GetMember(ctx, siteID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotMember
		}
		return nil, err
	}
	return member, nil
}

func (s *Service) requireManager(ctx context.Context, siteID, userID string) error {
	member, err := s.requireMember(ctx, siteID, userID)
	if err != nil {
		return err
	}
	if !domain.CanManageTeam(member.Role) {
		return ErrForbidden
	}
	return nil
}
