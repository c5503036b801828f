package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/loupehq/loupe/internal/domain"
	"github.com/loupehq/loupe/internal/repository"
)

// CreateSite inserts the site and its owner membership in one transaction.
func (r *Repository) CreateSite(ctx context.Context, site *domain.Site, owner *domain.TeamMember) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const siteQuery = `INSERT INTO sites (id, user_id, domain, timezone, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, siteQuery, site.ID, site.UserID, site.Domain, site.Timezone, site.CreatedAt); err != nil {
		return mapConflict(err)
	}

	const memberQuery = `INSERT INTO team_members (id, site_id, user_id, role, invited_by, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6)`
	if _, err := tx.Exec(ctx, memberQuery, owner.ID, owner.SiteID, owner.UserID, owner.Role, owner.InvitedBy, owner.CreatedAt); err != nil {
		return mapConflict(err)
	}
	return tx.Commit(ctx)
}

// GetSiteByID fetches a site by identifier. Used without access checks by the
// public tracking endpoints.
func (r *Repository) GetSiteByID(ctx context.Context, siteID string) (*domain.Site, error) {
	const query = `SELECT id, user_id, domain, timezone, created_at FROM sites WHERE id = $1`
	return r.scanSite(r.pool.QueryRow(ctx, query, siteID))
}

// GetSiteByDomain fetches a site by its registered domain.
func (r *Repository) GetSiteByDomain(ctx context.Context, dom string) (*domain.Site, error) {
	const query = `SELECT id, user_id, domain, timezone, created_at FROM sites WHERE domain = $1`
	return r.scanSite(r.pool.QueryRow(ctx, query, dom))
}

// ListSitesByUser returns sites the user owns or belongs to.
func (r *Repository) ListSitesByUser(ctx context.Context, userID string) ([]domain.Site, error) {
	const query = `SELECT DISTINCT s.id, s.user_id, s.domain, s.timezone, s.created_at
		FROM sites s
		INNER JOIN team_members tm ON tm.site_id = s.id
		WHERE tm.user_id = $1
		ORDER BY s.created_at DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sites := make([]domain.Site, 0)
	for rows.Next() {
		var site domain.Site
		if err := rows.Scan(&site.ID, &site.UserID, &site.Domain, &site.Timezone, &site.CreatedAt); err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

func (r *Repository) scanSite(row pgx.Row) (*domain.Site, error) {
	var site domain.Site
	if err := row.Scan(&site.ID, &site.UserID, &site.Domain, &site.Timezone, &site.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &site, nil
}
