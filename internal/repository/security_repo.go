// Security rule and event access, including the offline-sweep queries and
// retention cleanup.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/jackc/pgx/v5"
)

// SecurityRepository handles security problem, event and server-rule
// database operations.
type SecurityRepository struct{}

// NewSecurityRepository creates a new instance of SecurityRepository.
func NewSecurityRepository() *SecurityRepository {
	return &SecurityRepository{}
}

// GetProblemByID retrieves a detection rule by primary key. Returns
// (nil, nil) when absent so ingestion can silently skip unknown rule ids.
func (r *SecurityRepository) GetProblemByID(ctx context.Context, id int) (*models.SecurityProblem, error) {
	var p models.SecurityProblem
	err := database.DB.QueryRow(ctx,
		`SELECT id, site_id, name, uid, script_id, level
		 FROM security_problems WHERE id = $1`, id).
		Scan(&p.ID, &p.SiteID, &p.Name, &p.UID, &p.ScriptID, &p.Level)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateEvent inserts one security event occurrence.
//
// Side Effects: Populates event.ID and event.ReportedTime.
func (r *SecurityRepository) CreateEvent(ctx context.Context, event *models.SecurityEvent) error {
	if event.Status == "" {
		event.Status = models.EventNew
	}
	return database.DB.QueryRow(ctx,
		`INSERT INTO security_events (problem_id, pc_id, occurred_time, summary, raw_data, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, reported_time`,
		event.ProblemID, event.PCID, event.OccurredTime,
		event.Summary, event.RawData, event.Status,
	).Scan(&event.ID, &event.ReportedTime)
}

const eventColumns = `id, problem_id, pc_id, occurred_time, reported_time,
	summary, raw_data, status, assigned_to_id, note`

// GetEventByID retrieves an event by primary key. Returns (nil, nil) when
// absent.
func (r *SecurityRepository) GetEventByID(ctx context.Context, id int) (*models.SecurityEvent, error) {
	var e models.SecurityEvent
	err := database.DB.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM security_events WHERE id = $1`, id).
		Scan(&e.ID, &e.ProblemID, &e.PCID, &e.OccurredTime, &e.ReportedTime,
			&e.Summary, &e.RawData, &e.Status, &e.AssignedToID, &e.Note)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEventsBySite retrieves a site's events newest first.
func (r *SecurityRepository) ListEventsBySite(ctx context.Context, siteID, limit int) ([]models.SecurityEvent, error) {
	rows, err := database.DB.Query(ctx,
		`SELECT e.`+eventColumnsQualified()+`
		 FROM security_events e
		 JOIN security_problems p ON p.id = e.problem_id
		 WHERE p.site_id = $1
		 ORDER BY e.id DESC
		 LIMIT $2`, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.SecurityEvent
	for rows.Next() {
		var e models.SecurityEvent
		if err := rows.Scan(&e.ID, &e.ProblemID, &e.PCID, &e.OccurredTime, &e.ReportedTime,
			&e.Summary, &e.RawData, &e.Status, &e.AssignedToID, &e.Note); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func eventColumnsQualified() string {
	return `id, e.problem_id, e.pc_id, e.occurred_time, e.reported_time,
		e.summary, e.raw_data, e.status, e.assigned_to_id, e.note`
}

// AlertEmailsForProblem returns the configured alert recipients of a rule.
func (r *SecurityRepository) AlertEmailsForProblem(ctx context.Context, problemID int) ([]string, error) {
	return collectEmails(database.DB.Query(ctx,
		`SELECT u.email FROM users u
		 JOIN security_problem_alert_users a ON a.user_id = u.id
		 WHERE a.problem_id = $1
		 ORDER BY u.email`, problemID))
}

// ListServerRules retrieves every offline-detection rule across all sites.
func (r *SecurityRepository) ListServerRules(ctx context.Context) ([]models.EventRuleServer, error) {
	rows, err := database.DB.Query(ctx,
		`SELECT id, site_id, name, level, minutes_offline, monitored_group_id
		 FROM event_rules_server ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.EventRuleServer
	for rows.Next() {
		var er models.EventRuleServer
		if err := rows.Scan(&er.ID, &er.SiteID, &er.Name, &er.Level,
			&er.MinutesOffline, &er.MonitoredGroupID); err != nil {
			return nil, err
		}
		rules = append(rules, er)
	}
	return rules, rows.Err()
}

// AlertEmailsForServerRule returns the alert recipients of a server rule.
func (r *SecurityRepository) AlertEmailsForServerRule(ctx context.Context, ruleID int) ([]string, error) {
	return collectEmails(database.DB.Query(ctx,
		`SELECT u.email FROM users u
		 JOIN event_rule_server_alert_users a ON a.user_id = u.id
		 WHERE a.rule_id = $1
		 ORDER BY u.email`, ruleID))
}

// OfflinePCsForRule returns the activated PCs in a rule's scope whose
// last_seen is older than the rule's threshold relative to now. Never-seen
// PCs are excluded; they have not gone offline, they were never online.
func (r *SecurityRepository) OfflinePCsForRule(ctx context.Context, rule *models.EventRuleServer, now time.Time) ([]models.PC, error) {
	cutoff := now.Add(-time.Duration(rule.MinutesOffline) * time.Minute)

	query := `SELECT ` + pcColumns + ` FROM pcs
		WHERE site_id = $1 AND is_activated AND last_seen IS NOT NULL AND last_seen < $2`
	args := []any{rule.SiteID, cutoff}
	if rule.MonitoredGroupID != nil {
		query += ` AND id IN (SELECT pc_id FROM pc_group_members WHERE group_id = $3)`
		args = append(args, *rule.MonitoredGroupID)
	}
	query += ` ORDER BY name`

	rows, err := database.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPCs(rows)
}

// LatestLastSeenForSite returns the most recent last_seen across a site's
// PCs, used as the sweep's traffic guard. Returns (nil, nil) when no PC has
// ever polled.
func (r *SecurityRepository) LatestLastSeenForSite(ctx context.Context, siteID int) (*time.Time, error) {
	var seen *time.Time
	err := database.DB.QueryRow(ctx,
		`SELECT MAX(last_seen) FROM pcs WHERE site_id = $1`, siteID).Scan(&seen)
	if err != nil {
		return nil, err
	}
	return seen, nil
}

// HasRecentEventForRule reports whether a server rule already produced an
// event for this PC since the PC was last seen, deduplicating the sweep.
func (r *SecurityRepository) HasRecentEventForRule(ctx context.Context, problemUID string, pcID int, since *time.Time) (bool, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM security_events e
		JOIN security_problems p ON p.id = e.problem_id
		WHERE p.uid = $1 AND e.pc_id = $2
	`
	args := []any{problemUID, pcID}
	if since != nil {
		query += ` AND e.reported_time >= $3`
		args = append(args, *since)
	}
	if err := database.DB.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// EnsureServerRuleProblem finds or creates the synthetic SecurityProblem a
// server rule reports through, so its events triage like any other.
func (r *SecurityRepository) EnsureServerRuleProblem(ctx context.Context, rule *models.EventRuleServer, scriptID int) (*models.SecurityProblem, error) {
	uid := rule.ProblemUID()
	var p models.SecurityProblem
	err := database.DB.QueryRow(ctx,
		`SELECT id, site_id, name, uid, script_id, level
		 FROM security_problems WHERE site_id = $1 AND uid = $2`,
		rule.SiteID, uid).
		Scan(&p.ID, &p.SiteID, &p.Name, &p.UID, &p.ScriptID, &p.Level)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	p = models.SecurityProblem{
		SiteID:   rule.SiteID,
		Name:     rule.Name,
		UID:      uid,
		ScriptID: scriptID,
		Level:    rule.Level,
	}
	err = database.DB.QueryRow(ctx,
		`INSERT INTO security_problems (site_id, name, uid, script_id, level)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		p.SiteID, p.Name, p.UID, p.ScriptID, p.Level).Scan(&p.ID)
	return &p, err
}

// DeleteEventsBefore removes events reported before the cutoff, returning
// the number of rows deleted. Retention sweep only.
func (r *SecurityRepository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := database.DB.Exec(ctx,
		`DELETE FROM security_events WHERE reported_time < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func collectEmails(rows pgx.Rows, err error) ([]string, error) {
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
