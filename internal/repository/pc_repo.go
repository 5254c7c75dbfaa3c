// PC access: registration, lookups, poll bookkeeping and the group/wake-plan
// traversals the reconciliation engine needs.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/jackc/pgx/v5"
)

// PCRepository handles PC-related database operations.
type PCRepository struct{}

// NewPCRepository creates a new instance of PCRepository.
func NewPCRepository() *PCRepository {
	return &PCRepository{}
}

const pcColumns = `id, uid, name, mac, site_id, configuration_id, is_activated, last_seen, created_at`

func scanPC(row pgx.Row) (*models.PC, error) {
	var p models.PC
	err := row.Scan(&p.ID, &p.UID, &p.Name, &p.MAC, &p.SiteID,
		&p.ConfigurationID, &p.IsActivated, &p.LastSeen, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new PC inside the given executor, provisioning its owned
// Configuration named after the PC uid.
//
// Side Effects: Populates pc.ID, pc.ConfigurationID and pc.CreatedAt.
func (r *PCRepository) Create(ctx context.Context, ex database.Executor, pc *models.PC) error {
	configID, err := ensureConfiguration(ctx, ex, "PC: "+pc.UID)
	if err != nil {
		return err
	}
	pc.ConfigurationID = configID

	query := `
		INSERT INTO pcs (uid, name, mac, site_id, configuration_id, is_activated)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	return ex.QueryRow(ctx, query,
		pc.UID, pc.Name, pc.MAC, pc.SiteID, pc.ConfigurationID, pc.IsActivated,
	).Scan(&pc.ID, &pc.CreatedAt)
}

// GetByUID retrieves a PC by its MAC-derived uid. Returns (nil, nil) when
// absent; the caller decides whether that is a NotFoundError or a deliberate
// silent no-op (unregistered poll).
func (r *PCRepository) GetByUID(ctx context.Context, uid string) (*models.PC, error) {
	return scanPC(database.DB.QueryRow(ctx,
		`SELECT `+pcColumns+` FROM pcs WHERE uid = $1`, uid))
}

// GetByID retrieves a PC by primary key. Returns (nil, nil) when absent.
func (r *PCRepository) GetByID(ctx context.Context, id int) (*models.PC, error) {
	return scanPC(database.DB.QueryRow(ctx,
		`SELECT `+pcColumns+` FROM pcs WHERE id = $1`, id))
}

// ListBySite retrieves all PCs of a site ordered by name.
func (r *PCRepository) ListBySite(ctx context.Context, siteID int) ([]models.PC, error) {
	rows, err := database.DB.Query(ctx,
		`SELECT `+pcColumns+` FROM pcs WHERE site_id = $1 ORDER BY name`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPCs(rows)
}

func collectPCs(rows pgx.Rows) ([]models.PC, error) {
	var pcs []models.PC
	for rows.Next() {
		var p models.PC
		if err := rows.Scan(&p.ID, &p.UID, &p.Name, &p.MAC, &p.SiteID,
			&p.ConfigurationID, &p.IsActivated, &p.LastSeen, &p.CreatedAt); err != nil {
			return nil, err
		}
		pcs = append(pcs, p)
	}
	return pcs, rows.Err()
}

// UpdateLastSeen stamps the PC's last poll time.
func (r *PCRepository) UpdateLastSeen(ctx context.Context, pcID int, seen time.Time) error {
	_, err := database.DB.Exec(ctx,
		`UPDATE pcs SET last_seen = $1 WHERE id = $2`, seen, pcID)
	return err
}

// SetActivated flips the admin approval flag.
func (r *PCRepository) SetActivated(ctx context.Context, pcID int, activated bool) error {
	_, err := database.DB.Exec(ctx,
		`UPDATE pcs SET is_activated = $1 WHERE id = $2`, activated, pcID)
	return err
}

// Delete removes a PC and releases its owned Configuration.
func (r *PCRepository) Delete(ctx context.Context, pcID int) error {
	var configID int
	err := database.DB.QueryRow(ctx,
		`SELECT configuration_id FROM pcs WHERE id = $1`, pcID).Scan(&configID)
	if err != nil {
		return err
	}
	if _, err := database.DB.Exec(ctx, `DELETE FROM pcs WHERE id = $1`, pcID); err != nil {
		return err
	}
	_, err = database.DB.Exec(ctx, `DELETE FROM configurations WHERE id = $1`, configID)
	return err
}

// GroupIDsForPC returns the ids of the groups the PC belongs to.
func (r *PCRepository) GroupIDsForPC(ctx context.Context, ex database.Executor, pcID int) ([]int, error) {
	rows, err := ex.Query(ctx,
		`SELECT group_id FROM pc_group_members WHERE pc_id = $1 ORDER BY group_id`, pcID)
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

// EnabledWakePlanForPC returns the enabled wake plan governing the PC
// through any of its groups, excluding the given group. Returns (nil, nil)
// when no other group commits the PC to a plan. Used both for the
// exclusivity check and for deciding whether removal must push
// wake_plan_remove.
func (r *PCRepository) EnabledWakePlanForPC(ctx context.Context, ex database.Executor, pcID, excludeGroupID int) (*models.WakeWeekPlan, error) {
	query := `
		SELECT ` + wakePlanColumns + `
		FROM wake_week_plans p
		JOIN pc_groups g ON g.wake_plan_id = p.id
		JOIN pc_group_members m ON m.group_id = g.id
		WHERE m.pc_id = $1 AND g.id <> $2 AND p.enabled
		ORDER BY p.id
		LIMIT 1
	`
	return scanWakePlan(ex.QueryRow(ctx, query, pcID, excludeGroupID))
}
