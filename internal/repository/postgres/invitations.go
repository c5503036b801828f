package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/loupehq/loupe/internal/domain"
	"github.com/loupehq/loupe/internal/repository"
)

// CreateInvitation inserts an invitation.
func (r *Repository) CreateInvitation(ctx context.Context, invitation *domain.Invitation) error {
	const query = `INSERT INTO invitations (id, site_id, email, role, token, status, invited_by, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query, invitation.ID, invitation.SiteID, invitation.Email, invitation.Role,
		invitation.Token, invitation.Status, invitation.InvitedBy, invitation.ExpiresAt, invitation.CreatedAt)
	return mapConflict(err)
}

// GetInvitationByToken fetches an invitation by its token.
func (r *Repository) GetInvitationByToken(ctx context.Context, token string) (*domain.Invitation, error) {
	const query = invitationColumns + ` WHERE token = $1`
	return r.scanInvitation(r.pool.QueryRow(ctx, query, token))
}

// GetInvitationByID fetches an invitation by identifier.
func (r *Repository) GetInvitationByID(ctx context.Context, id string) (*domain.Invitation, error) {
	const query = invitationColumns + ` WHERE id = $1`
	return r.scanInvitation(r.pool.QueryRow(ctx, query, id))
}

// GetPendingInvitation finds a pending invitation for the (site, email) pair.
func (r *Repository) GetPendingInvitation(ctx context.Context, siteID, email string) (*domain.Invitation, error) {
	const query = invitationColumns + ` WHERE site_id = $1 AND email = $2 AND status = 'pending'`
	return r.scanInvitation(r.pool.QueryRow(ctx, query, siteID, email))
}

// ListPendingInvitations returns pending invitations for a site, newest first.
func (r *Repository) ListPendingInvitations(ctx context.Context, siteID string) ([]domain.Invitation, error) {
	const query = invitationColumns + ` WHERE site_id = $1 AND status = 'pending' ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invitations := make([]domain.Invitation, 0)
	for rows.Next() {
		var inv domain.Invitation
		if err := rows.Scan(&inv.ID, &inv.SiteID, &inv.Email, &inv.Role, &inv.Token, &inv.Status,
			&inv.InvitedBy, &inv.ExpiresAt, &inv.CreatedAt); err != nil {
			return nil, err
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// UpdateInvitationStatus transitions an invitation out of "pending". The
// WHERE clause keeps the transition monotonic.
func (r *Repository) UpdateInvitationStatus(ctx context.Context, id, status string) error {
	const query = `UPDATE invitations SET status = $2 WHERE id = $1 AND status = 'pending'`
	tag, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AcceptInvitation inserts the membership and marks the invitation accepted
// in one transaction.
func (r *Repository) AcceptInvitation(ctx context.Context, invitation *domain.Invitation, member *domain.TeamMember) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const memberQuery = `INSERT INTO team_members (id, site_id, user_id, role, invited_by, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6)`
	if _, err := tx.Exec(ctx, memberQuery, member.ID, member.SiteID, member.UserID, member.Role, member.InvitedBy, member.CreatedAt); err != nil {
		return mapConflict(err)
	}

	const statusQuery = `UPDATE invitations SET status = 'accepted' WHERE id = $1 AND status = 'pending'`
	tag, err := tx.Exec(ctx, statusQuery, invitation.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return tx.Commit(ctx)
}

// DeleteInvitation removes an invitation row.
func (r *Repository) DeleteInvitation(ctx context.Context, id string) error {
	const query = `DELETE FROM invitations WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

const invitationColumns = `SELECT id, site_id, email, role, token, status, invited_by, expires_at, created_at FROM invitations`

func (r *Repository) scanInvitation(row pgx.Row) (*domain.Invitation, error) {
	var inv domain.Invitation
	if err := row.Scan(&inv.ID, &inv.SiteID, &inv.Email, &inv.Role, &inv.Token, &inv.Status,
		&inv.InvitedBy, &inv.ExpiresAt, &inv.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}
