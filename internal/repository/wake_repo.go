// Wake plan access: weekly plans and their calendar exception events.
package repository

import (
	"context"
	"errors"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/jackc/pgx/v5"
)

// WakeRepository handles wake week plan and change event database operations.
type WakeRepository struct{}

// NewWakeRepository creates a new instance of WakeRepository.
func NewWakeRepository() *WakeRepository {
	return &WakeRepository{}
}

const wakePlanColumns = `p.id, p.site_id, p.name, p.enabled, p.sleep_state,
	p.mon_open, p.mon_on, p.mon_off,
	p.tue_open, p.tue_on, p.tue_off,
	p.wed_open, p.wed_on, p.wed_off,
	p.thu_open, p.thu_on, p.thu_off,
	p.fri_open, p.fri_on, p.fri_off,
	p.sat_open, p.sat_on, p.sat_off,
	p.sun_open, p.sun_on, p.sun_off,
	p.created_at`

func scanWakePlan(row pgx.Row) (*models.WakeWeekPlan, error) {
	var p models.WakeWeekPlan
	dest := []any{&p.ID, &p.SiteID, &p.Name, &p.Enabled, &p.SleepState}
	for i := range p.Days {
		dest = append(dest, &p.Days[i].Open, &p.Days[i].On, &p.Days[i].Off)
	}
	dest = append(dest, &p.CreatedAt)

	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new wake plan.
//
// Side Effects: Populates plan.ID and plan.CreatedAt.
func (r *WakeRepository) Create(ctx context.Context, plan *models.WakeWeekPlan) error {
	query := `
		INSERT INTO wake_week_plans (site_id, name, enabled, sleep_state,
			mon_open, mon_on, mon_off, tue_open, tue_on, tue_off,
			wed_open, wed_on, wed_off, thu_open, thu_on, thu_off,
			fri_open, fri_on, fri_off, sat_open, sat_on, sat_off,
			sun_open, sun_on, sun_off)
		VALUES ($1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25)
		RETURNING id, created_at
	`
	args := []any{plan.SiteID, plan.Name, plan.Enabled, plan.SleepState}
	for _, d := range plan.Days {
		args = append(args, d.Open, d.On, d.Off)
	}
	return database.DB.QueryRow(ctx, query, args...).Scan(&plan.ID, &plan.CreatedAt)
}

// GetByID retrieves a plan by primary key. Returns (nil, nil) when absent.
func (r *WakeRepository) GetByID(ctx context.Context, ex database.Executor, id int) (*models.WakeWeekPlan, error) {
	return scanWakePlan(ex.QueryRow(ctx,
		`SELECT `+wakePlanColumns+` FROM wake_week_plans p WHERE p.id = $1`, id))
}

// SetEnabled flips a plan's enabled flag inside the given executor.
func (r *WakeRepository) SetEnabled(ctx context.Context, ex database.Executor, planID int, enabled bool) error {
	_, err := ex.Exec(ctx,
		`UPDATE wake_week_plans SET enabled = $1 WHERE id = $2`, enabled, planID)
	return err
}

// UpdateSchedule overwrites the weekly schedule and sleep state of a plan.
func (r *WakeRepository) UpdateSchedule(ctx context.Context, ex database.Executor, plan *models.WakeWeekPlan) error {
	query := `
		UPDATE wake_week_plans SET sleep_state = $2,
			mon_open = $3, mon_on = $4, mon_off = $5,
			tue_open = $6, tue_on = $7, tue_off = $8,
			wed_open = $9, wed_on = $10, wed_off = $11,
			thu_open = $12, thu_on = $13, thu_off = $14,
			fri_open = $15, fri_on = $16, fri_off = $17,
			sat_open = $18, sat_on = $19, sat_off = $20,
			sun_open = $21, sun_on = $22, sun_off = $23
		WHERE id = $1
	`
	args := []any{plan.ID, plan.SleepState}
	for _, d := range plan.Days {
		args = append(args, d.Open, d.On, d.Off)
	}
	_, err := ex.Exec(ctx, query, args...)
	return err
}

// ListChangeEvents retrieves a plan's exceptions ordered by date_start.
func (r *WakeRepository) ListChangeEvents(ctx context.Context, ex database.Executor, planID int) ([]models.WakeChangeEvent, error) {
	rows, err := ex.Query(ctx,
		`SELECT id, plan_id, name, date_start, date_end, closed, alt_on, alt_off
		 FROM wake_change_events WHERE plan_id = $1 ORDER BY date_start`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.WakeChangeEvent
	for rows.Next() {
		var e models.WakeChangeEvent
		if err := rows.Scan(&e.ID, &e.PlanID, &e.Name, &e.DateStart, &e.DateEnd,
			&e.Closed, &e.AltOn, &e.AltOff); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CreateChangeEvent attaches a verified exception to its plan.
//
// Side Effects: Populates event.ID.
func (r *WakeRepository) CreateChangeEvent(ctx context.Context, ex database.Executor, event *models.WakeChangeEvent) error {
	return ex.QueryRow(ctx,
		`INSERT INTO wake_change_events (plan_id, name, date_start, date_end, closed, alt_on, alt_off)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		event.PlanID, event.Name, event.DateStart, event.DateEnd,
		event.Closed, event.AltOn, event.AltOff,
	).Scan(&event.ID)
}

// DeleteChangeEvent removes one exception.
func (r *WakeRepository) DeleteChangeEvent(ctx context.Context, ex database.Executor, eventID int) error {
	_, err := ex.Exec(ctx, `DELETE FROM wake_change_events WHERE id = $1`, eventID)
	return err
}
