// PCGroup access: group lifecycle, membership edits and the policy slots
// bound to a group.
package repository

import (
	"context"
	"errors"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/jackc/pgx/v5"
)

// GroupRepository handles PC group database operations.
type GroupRepository struct{}

// NewGroupRepository creates a new instance of GroupRepository.
func NewGroupRepository() *GroupRepository {
	return &GroupRepository{}
}

const groupColumns = `id, site_id, name, description, configuration_id, wake_plan_id, created_at`

func scanGroup(row pgx.Row) (*models.PCGroup, error) {
	var g models.PCGroup
	err := row.Scan(&g.ID, &g.SiteID, &g.Name, &g.Description,
		&g.ConfigurationID, &g.WakePlanID, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Create inserts a new group inside the given executor, auto-provisioning
// its owned Configuration under the name "Group: "+name (reused if present).
//
// Side Effects: Populates group.ID, group.ConfigurationID, group.CreatedAt.
func (r *GroupRepository) Create(ctx context.Context, ex database.Executor, group *models.PCGroup) error {
	configID, err := ensureConfiguration(ctx, ex, "Group: "+group.Name)
	if err != nil {
		return err
	}
	group.ConfigurationID = configID

	query := `
		INSERT INTO pc_groups (site_id, name, description, configuration_id, wake_plan_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	return ex.QueryRow(ctx, query,
		group.SiteID, group.Name, group.Description,
		group.ConfigurationID, group.WakePlanID,
	).Scan(&group.ID, &group.CreatedAt)
}

// GetByID retrieves a group by primary key. Returns (nil, nil) when absent.
func (r *GroupRepository) GetByID(ctx context.Context, ex database.Executor, id int) (*models.PCGroup, error) {
	return scanGroup(ex.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM pc_groups WHERE id = $1`, id))
}

// ListBySite retrieves all groups of a site ordered by name.
func (r *GroupRepository) ListBySite(ctx context.Context, siteID int) ([]models.PCGroup, error) {
	rows, err := database.DB.Query(ctx,
		`SELECT `+groupColumns+` FROM pc_groups WHERE site_id = $1 ORDER BY name`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []models.PCGroup
	for rows.Next() {
		var g models.PCGroup
		if err := rows.Scan(&g.ID, &g.SiteID, &g.Name, &g.Description,
			&g.ConfigurationID, &g.WakePlanID, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Delete removes a group and releases its owned Configuration. Members and
// policy slots cascade away in the database.
func (r *GroupRepository) Delete(ctx context.Context, groupID int) error {
	var configID int
	err := database.DB.QueryRow(ctx,
		`SELECT configuration_id FROM pc_groups WHERE id = $1`, groupID).Scan(&configID)
	if err != nil {
		return err
	}
	if _, err := database.DB.Exec(ctx, `DELETE FROM pc_groups WHERE id = $1`, groupID); err != nil {
		return err
	}
	_, err = database.DB.Exec(ctx, `DELETE FROM configurations WHERE id = $1`, configID)
	return err
}

// MemberIDs returns the ids of the group's member PCs in id order.
func (r *GroupRepository) MemberIDs(ctx context.Context, ex database.Executor, groupID int) ([]int, error) {
	rows, err := ex.Query(ctx,
		`SELECT pc_id FROM pc_group_members WHERE group_id = $1 ORDER BY pc_id`, groupID)
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

// Members returns the group's member PCs in name order.
func (r *GroupRepository) Members(ctx context.Context, ex database.Executor, groupID int) ([]models.PC, error) {
	rows, err := ex.Query(ctx,
		`SELECT p.`+pcColumnsQualified("p")+`
		 FROM pcs p
		 JOIN pc_group_members m ON m.pc_id = p.id
		 WHERE m.group_id = $1
		 ORDER BY p.name`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPCs(rows)
}

// AddMember inserts a membership row; adding an existing member is a no-op.
func (r *GroupRepository) AddMember(ctx context.Context, ex database.Executor, groupID, pcID int) error {
	_, err := ex.Exec(ctx,
		`INSERT INTO pc_group_members (pc_id, group_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		pcID, groupID)
	return err
}

// RemoveMember deletes a membership row; removing a non-member is a no-op.
func (r *GroupRepository) RemoveMember(ctx context.Context, ex database.Executor, groupID, pcID int) error {
	_, err := ex.Exec(ctx,
		`DELETE FROM pc_group_members WHERE pc_id = $1 AND group_id = $2`,
		pcID, groupID)
	return err
}

// SetWakePlan binds (or, with nil, unbinds) the group's wake plan.
func (r *GroupRepository) SetWakePlan(ctx context.Context, ex database.Executor, groupID int, planID *int) error {
	_, err := ex.Exec(ctx,
		`UPDATE pc_groups SET wake_plan_id = $1 WHERE id = $2`, planID, groupID)
	return err
}

// GroupIDsForPlan returns the groups currently bound to a wake plan.
func (r *GroupRepository) GroupIDsForPlan(ctx context.Context, ex database.Executor, planID int) ([]int, error) {
	rows, err := ex.Query(ctx,
		`SELECT id FROM pc_groups WHERE wake_plan_id = $1 ORDER BY id`, planID)
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

// SupervisorEmailsForPC returns the distinct e-mail addresses of the
// supervisors of every group the PC belongs to. Empty when none of the PC's
// groups has supervisors, in which case notification falls back to the
// problem's alert users.
func (r *GroupRepository) SupervisorEmailsForPC(ctx context.Context, pcID int) ([]string, error) {
	rows, err := database.DB.Query(ctx,
		`SELECT DISTINCT u.email
		 FROM users u
		 JOIN pc_group_supervisors s ON s.user_id = u.id
		 JOIN pc_group_members m ON m.group_id = s.group_id
		 WHERE m.pc_id = $1
		 ORDER BY u.email`, pcID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

// pcColumnsQualified prefixes every pc column with the given table alias.
func pcColumnsQualified(alias string) string {
	return `id, ` + alias + `.uid, ` + alias + `.name, ` + alias + `.mac, ` +
		alias + `.site_id, ` + alias + `.configuration_id, ` + alias + `.is_activated, ` +
		alias + `.last_seen, ` + alias + `.created_at`
}
