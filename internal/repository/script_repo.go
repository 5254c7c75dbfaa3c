// Script access: scripts, their ordered inputs, policy slots on groups and
// the per-PC security script selection.
package repository

import (
	"context"
	"errors"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/jackc/pgx/v5"
)

// ScriptRepository handles script and policy database operations.
type ScriptRepository struct{}

// NewScriptRepository creates a new instance of ScriptRepository.
func NewScriptRepository() *ScriptRepository {
	return &ScriptRepository{}
}

const scriptColumns = `id, uid, site_id, name, description, executable_code,
	is_security_script, is_hidden, maintained_by_us, created_at`

func scanScript(row pgx.Row) (*models.Script, error) {
	var s models.Script
	err := row.Scan(&s.ID, &s.UID, &s.SiteID, &s.Name, &s.Description,
		&s.ExecutableCode, &s.IsSecurityScript, &s.IsHidden,
		&s.MaintainedByUs, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByID retrieves a script by primary key. Returns (nil, nil) when absent.
func (r *ScriptRepository) GetByID(ctx context.Context, ex database.Executor, id int) (*models.Script, error) {
	return scanScript(ex.QueryRow(ctx,
		`SELECT `+scriptColumns+` FROM scripts WHERE id = $1`, id))
}

// GetByUID retrieves a built-in pseudo-script (wake_plan_set,
// wake_plan_remove) by its uid. Returns (nil, nil) when absent.
func (r *ScriptRepository) GetByUID(ctx context.Context, ex database.Executor, uid string) (*models.Script, error) {
	return scanScript(ex.QueryRow(ctx,
		`SELECT `+scriptColumns+` FROM scripts WHERE uid = $1`, uid))
}

// ListInputs retrieves a script's input declarations ordered by position.
func (r *ScriptRepository) ListInputs(ctx context.Context, ex database.Executor, scriptID int) ([]models.Input, error) {
	rows, err := ex.Query(ctx,
		`SELECT id, script_id, position, name, value_type, mandatory
		 FROM script_inputs WHERE script_id = $1 ORDER BY position`, scriptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inputs []models.Input
	for rows.Next() {
		var in models.Input
		if err := rows.Scan(&in.ID, &in.ScriptID, &in.Position,
			&in.Name, &in.ValueType, &in.Mandatory); err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return inputs, rows.Err()
}

// ListPolicy retrieves a group's policy slots ordered by position ascending.
func (r *ScriptRepository) ListPolicy(ctx context.Context, ex database.Executor, groupID int) ([]models.AssociatedScript, error) {
	rows, err := ex.Query(ctx,
		`SELECT id, group_id, script_id, position
		 FROM associated_scripts WHERE group_id = $1 ORDER BY position`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policy []models.AssociatedScript
	for rows.Next() {
		var a models.AssociatedScript
		if err := rows.Scan(&a.ID, &a.GroupID, &a.ScriptID, &a.Position); err != nil {
			return nil, err
		}
		policy = append(policy, a)
	}
	return policy, rows.Err()
}

// AddPolicyScript appends a script to the end of a group's policy and
// returns the created slot.
func (r *ScriptRepository) AddPolicyScript(ctx context.Context, ex database.Executor, groupID, scriptID int) (*models.AssociatedScript, error) {
	slot := models.AssociatedScript{GroupID: groupID, ScriptID: scriptID}
	err := ex.QueryRow(ctx,
		`INSERT INTO associated_scripts (group_id, script_id, position)
		 VALUES ($1, $2, COALESCE((SELECT MAX(position) + 1 FROM associated_scripts WHERE group_id = $1), 0))
		 RETURNING id, position`,
		groupID, scriptID).Scan(&slot.ID, &slot.Position)
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// RemovePolicyScript deletes one policy slot and renumbers the survivors
// contiguously from 0 in their current position order, keeping the
// (position, group) uniqueness gap-free.
func (r *ScriptRepository) RemovePolicyScript(ctx context.Context, ex database.Executor, slotID int) error {
	var groupID int
	err := ex.QueryRow(ctx,
		`DELETE FROM associated_scripts WHERE id = $1 RETURNING group_id`, slotID).Scan(&groupID)
	if err != nil {
		return err
	}

	_, err = ex.Exec(ctx, `
		UPDATE associated_scripts a
		SET position = n.new_position
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY position) - 1 AS new_position
			FROM associated_scripts
			WHERE group_id = $1
		) n
		WHERE a.id = n.id
	`, groupID)
	return err
}

// SetPolicyParameter stores a pre-filled input value on a policy slot,
// replacing any previous value for the same input.
func (r *ScriptRepository) SetPolicyParameter(ctx context.Context, ex database.Executor, slotID, inputID int, value string) error {
	if _, err := ex.Exec(ctx,
		`DELETE FROM associated_script_parameters
		 WHERE associated_script_id = $1 AND input_id = $2`, slotID, inputID); err != nil {
		return err
	}
	_, err := ex.Exec(ctx,
		`INSERT INTO associated_script_parameters (associated_script_id, input_id, value)
		 VALUES ($1, $2, $3)`, slotID, inputID, value)
	return err
}

// PolicyParameterValues returns the slot's pre-filled values in the
// script's input position order, padding absent inputs with empty strings.
func (r *ScriptRepository) PolicyParameterValues(ctx context.Context, ex database.Executor, slot *models.AssociatedScript) ([]string, error) {
	inputs, err := r.ListInputs(ctx, ex, slot.ScriptID)
	if err != nil {
		return nil, err
	}

	rows, err := ex.Query(ctx,
		`SELECT input_id, value FROM associated_script_parameters
		 WHERE associated_script_id = $1`, slot.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byInput := make(map[int]string)
	for rows.Next() {
		var inputID int
		var value string
		if err := rows.Scan(&inputID, &value); err != nil {
			return nil, err
		}
		byInput[inputID] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	values := make([]string, len(inputs))
	for i, in := range inputs {
		values[i] = byInput[in.ID]
	}
	return values, nil
}

// SecurityProblemScript pairs a detection rule with its script payload for
// delivery to a polling PC.
type SecurityProblemScript struct {
	ProblemID      int
	ProblemUID     string
	Name           string
	ExecutableCode string
}

// SecurityScriptsForPC returns the detection scripts currently applicable to
// a PC: the site's unscoped rules plus rules scoped to any group the PC
// belongs to, each joined with its script payload. Ordered by problem id so
// delivery is deterministic.
func (r *ScriptRepository) SecurityScriptsForPC(ctx context.Context, pc *models.PC) ([]SecurityProblemScript, error) {
	query := `
		SELECT sp.id, sp.uid, sp.name, s.executable_code
		FROM security_problems sp
		JOIN scripts s ON s.id = sp.script_id
		WHERE sp.site_id = $1
		  AND (
			NOT EXISTS (SELECT 1 FROM security_problem_groups g WHERE g.problem_id = sp.id)
			OR EXISTS (
				SELECT 1 FROM security_problem_groups g
				JOIN pc_group_members m ON m.group_id = g.group_id
				WHERE g.problem_id = sp.id AND m.pc_id = $2
			)
		  )
		ORDER BY sp.id
	`
	rows, err := database.DB.Query(ctx, query, pc.SiteID, pc.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SecurityProblemScript
	for rows.Next() {
		var s SecurityProblemScript
		if err := rows.Scan(&s.ProblemID, &s.ProblemUID, &s.Name, &s.ExecutableCode); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
