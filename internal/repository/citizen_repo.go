// Citizen quarantine rows and the append-only login audit log.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/jackc/pgx/v5"
)

// CitizenRepository handles citizen and login-log database operations.
type CitizenRepository struct{}

// NewCitizenRepository creates a new instance of CitizenRepository.
func NewCitizenRepository() *CitizenRepository {
	return &CitizenRepository{}
}

// GetForUpdate retrieves and row-locks the citizen row for one identity hash
// on one site, serializing concurrent login attempts for the same citizen.
// Returns (nil, nil) when the citizen has never logged in here.
func (r *CitizenRepository) GetForUpdate(ctx context.Context, ex database.Executor, citizenHash string, siteID int) (*models.Citizen, error) {
	var c models.Citizen
	err := ex.QueryRow(ctx,
		`SELECT id, citizen_hash, site_id, last_successful_login, logged_in
		 FROM citizens WHERE citizen_hash = $1 AND site_id = $2 FOR UPDATE`,
		citizenHash, siteID).
		Scan(&c.ID, &c.CitizenHash, &c.SiteID, &c.LastSuccessfulLogin, &c.LoggedIn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Upsert writes the citizen's quarantine state, creating the row on first
// login.
//
// Side Effects: Populates citizen.ID on insert.
func (r *CitizenRepository) Upsert(ctx context.Context, ex database.Executor, c *models.Citizen) error {
	return ex.QueryRow(ctx,
		`INSERT INTO citizens (citizen_hash, site_id, last_successful_login, logged_in)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (citizen_hash, site_id)
		 DO UPDATE SET last_successful_login = $3, logged_in = $4
		 RETURNING id`,
		c.CitizenHash, c.SiteID, c.LastSuccessfulLogin, c.LoggedIn).Scan(&c.ID)
}

// SetLoggedOut clears the logged_in flag; a missing row is a no-op.
func (r *CitizenRepository) SetLoggedOut(ctx context.Context, citizenHash string, siteID int) error {
	_, err := database.DB.Exec(ctx,
		`UPDATE citizens SET logged_in = FALSE WHERE citizen_hash = $1 AND site_id = $2`,
		citizenHash, siteID)
	return err
}

// InsertLoginLog appends one audit record for a successful login.
//
// Side Effects: Populates log.ID.
func (r *CitizenRepository) InsertLoginLog(ctx context.Context, ex database.Executor, log *models.LoginLog) error {
	return ex.QueryRow(ctx,
		`INSERT INTO login_logs (citizen_hash, site_id, login_time)
		 VALUES ($1, $2, $3) RETURNING id`,
		log.CitizenHash, log.SiteID, log.LoginTime).Scan(&log.ID)
}

// CloseLatestLoginLog stamps the logout time on the citizen's most recent
// open audit record. No open record is a no-op; the audit log is best
// effort and independent of the quarantine row.
func (r *CitizenRepository) CloseLatestLoginLog(ctx context.Context, citizenHash string, siteID int, logoutTime time.Time) error {
	_, err := database.DB.Exec(ctx,
		`UPDATE login_logs SET logout_time = $1
		 WHERE id = (
			SELECT id FROM login_logs
			WHERE citizen_hash = $2 AND site_id = $3 AND logout_time IS NULL
			ORDER BY login_time DESC LIMIT 1
		 )`, logoutTime, citizenHash, siteID)
	return err
}

// DeleteLoginLogsBefore removes audit records older than the cutoff,
// returning the number of rows deleted. Retention sweep only.
func (r *CitizenRepository) DeleteLoginLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := database.DB.Exec(ctx,
		`DELETE FROM login_logs WHERE login_time < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
