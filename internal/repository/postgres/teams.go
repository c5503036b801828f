package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/loupehq/loupe/internal/domain"
	"github.com/loupehq/loupe/internal/repository"
)

// InsertMember adds a member to a site.
func (r *Repository) InsertMember(ctx context.Context, member *domain.TeamMember) error {
	const query = `INSERT INTO team_members (id, site_id, user_id, role, invited_by, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6)`
	_, err := r.pool.Exec(ctx, query, member.ID, member.SiteID, member.UserID, member.Role, member.InvitedBy, member.CreatedAt)
	return mapConflict(err)
}

// GetMember returns the membership for a (site, user) pair.
func (r *Repository) GetMember(ctx context.Context, siteID, userID string) (*domain.TeamMember, error) {
	const query = `SELECT tm.id, tm.site_id, tm.user_id, tm.role, COALESCE(tm.invited_by::text, ''), u.email, tm.created_at
		FROM team_members tm
		INNER JOIN users u ON u.id = tm.user_id
		WHERE tm.site_id = $1 AND tm.user_id = $2`
	return r.scanMember(r.pool.QueryRow(ctx, query, siteID, userID))
}

// GetMemberByID returns a membership row by identifier.
func (r *Repository) GetMemberByID(ctx context.Context, memberID string) (*domain.TeamMember, error) {
	const query = `SELECT tm.id, tm.site_id, tm.user_id, tm.role, COALESCE(tm.invited_by::text, ''), u.email, tm.created_at
		FROM team_members tm
		INNER JOIN users u ON u.id = tm.user_id
		WHERE tm.id = $1`
	return r.scanMember(r.pool.QueryRow(ctx, query, memberID))
}

// ListMembers returns site members with their account emails, newest first.
func (r *Repository) ListMembers(ctx context.Context, siteID string) ([]domain.TeamMember, error) {
	const query = `SELECT tm.id, tm.site_id, tm.user_id, tm.role, COALESCE(tm.invited_by::text, ''), u.email, tm.created_at
		FROM team_members tm
		INNER JOIN users u ON u.id = tm.user_id
		WHERE tm.site_id = $1
		ORDER BY tm.created_at DESC`
	rows, err := r.pool.Query(ctx, query, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]domain.TeamMember, 0)
	for rows.Next() {
		var m domain.TeamMember
		if err := rows.Scan(&m.ID, &m.SiteID, &m.UserID, &m.Role, &m.InvitedBy, &m.Email, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// DeleteMember removes a membership row. Owner rows are protected by the
// service layer, not here.
func (r *Repository) DeleteMember(ctx context.Context, memberID string) error {
	const query = `DELETE FROM team_members WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, memberID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) scanMember(row pgx.Row) (*domain.TeamMember, error) {
	var m domain.TeamMember
	if err := row.Scan(&m.ID, &m.SiteID, &m.UserID, &m.Role, &m.InvitedBy, &m.Email, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}
