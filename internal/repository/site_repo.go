// Package repository implements the database access layer for the
// OS2borgerPC admin backend. Each repository wraps raw SQL for one
// aggregate; write paths that participate in service-level transactions
// accept a database.Executor so they run either on the pool or on a pgx.Tx.
package repository

import (
	"context"
	"errors"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/jackc/pgx/v5"
)

// SiteRepository handles site-related database operations.
type SiteRepository struct{}

// NewSiteRepository creates a new instance of SiteRepository.
func NewSiteRepository() *SiteRepository {
	return &SiteRepository{}
}

const siteColumns = `id, uid, name, configuration_id, login_duration, quarantine_duration, created_at`

func scanSite(row pgx.Row) (*models.Site, error) {
	var s models.Site
	err := row.Scan(&s.ID, &s.UID, &s.Name, &s.ConfigurationID,
		&s.LoginDuration, &s.QuarantineDuration, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new site inside the given executor, auto-provisioning its
// owned Configuration. An existing Configuration with the site's name is
// reused; otherwise one is created.
//
// Side Effects: Populates site.ID, site.ConfigurationID and site.CreatedAt.
func (r *SiteRepository) Create(ctx context.Context, ex database.Executor, site *models.Site) error {
	configID, err := ensureConfiguration(ctx, ex, site.Name)
	if err != nil {
		return err
	}
	site.ConfigurationID = configID

	query := `
		INSERT INTO sites (uid, name, configuration_id, login_duration, quarantine_duration)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	return ex.QueryRow(ctx, query,
		site.UID, site.Name, site.ConfigurationID,
		site.LoginDuration, site.QuarantineDuration,
	).Scan(&site.ID, &site.CreatedAt)
}

// GetByUID retrieves a site by its slug. Returns (nil, nil) when absent so
// callers can raise their own NotFoundError with context.
func (r *SiteRepository) GetByUID(ctx context.Context, uid string) (*models.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites WHERE uid = $1`
	return scanSite(database.DB.QueryRow(ctx, query, uid))
}

// GetByID retrieves a site by primary key. Returns (nil, nil) when absent.
func (r *SiteRepository) GetByID(ctx context.Context, id int) (*models.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites WHERE id = $1`
	return scanSite(database.DB.QueryRow(ctx, query, id))
}

// Delete removes a site. PCs, groups, jobs and events cascade away in the
// database; the owned Configuration is protected and must be released last.
func (r *SiteRepository) Delete(ctx context.Context, id int) error {
	var configID int
	err := database.DB.QueryRow(ctx,
		`SELECT configuration_id FROM sites WHERE id = $1`, id).Scan(&configID)
	if err != nil {
		return err
	}
	if _, err := database.DB.Exec(ctx, `DELETE FROM sites WHERE id = $1`, id); err != nil {
		return err
	}
	_, err = database.DB.Exec(ctx, `DELETE FROM configurations WHERE id = $1`, configID)
	return err
}

// ListAll retrieves all sites ordered by name.
func (r *SiteRepository) ListAll(ctx context.Context) ([]models.Site, error) {
	rows, err := database.DB.Query(ctx,
		`SELECT `+siteColumns+` FROM sites ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []models.Site
	for rows.Next() {
		var s models.Site
		if err := rows.Scan(&s.ID, &s.UID, &s.Name, &s.ConfigurationID,
			&s.LoginDuration, &s.QuarantineDuration, &s.CreatedAt); err != nil {
			return nil, err
		}
		sites = append(sites, s)
	}
	return sites, rows.Err()
}

// SiteIDsForUser returns the ids of the sites the user is a member of, used
// to build the ActingUser passed into core operations.
func (r *SiteRepository) SiteIDsForUser(ctx context.Context, userID int) ([]int, error) {
	rows, err := database.DB.Query(ctx,
		`SELECT site_id FROM site_memberships WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ensureConfiguration finds a Configuration by name or creates it, returning
// its id. Shared by site and group provisioning.
func ensureConfiguration(ctx context.Context, ex database.Executor, name string) (int, error) {
	var id int
	err := ex.QueryRow(ctx,
		`SELECT id FROM configurations WHERE name = $1`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	err = ex.QueryRow(ctx,
		`INSERT INTO configurations (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	return id, err
}
