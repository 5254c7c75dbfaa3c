// Security rules, reported events and the offline-detection server rules.
package models

import (
	"fmt"
	"time"
)

// Security event severity levels.
const (
	LevelNormal   = "NORMAL"
	LevelWarning  = "WARNING"
	LevelCritical = "CRITICAL"
)

// Security event statuses.
const (
	EventNew      = "NEW"
	EventAssigned = "ASSIGNED"
	EventResolved = "RESOLVED"
)

// SecurityProblemUIDToken is the placeholder in a detection script's payload
// that gets replaced with the rule's numeric ID before delivery, so events
// the PC later reports can be correlated back to the rule.
const SecurityProblemUIDToken = "%SECURITY_PROBLEM_UID%"

// SecurityProblem is a named detection rule bound to one Site and one
// security Script. If it is scoped to groups, only PCs in those groups
// receive the detection script; otherwise every PC on the site does.
//
// Database Table: security_problems
// Related: SecurityEvent (occurrences), alert users via
// security_problem_alert_users, group scope via security_problem_groups
type SecurityProblem struct {
	ID       int    `db:"id"`
	SiteID   int    `db:"site_id"`
	Name     string `db:"name"`
	UID      string `db:"uid"` // Slug unique within the site
	ScriptID int    `db:"script_id"`
	Level    string `db:"level"`
}

// SecurityEvent is one occurrence of a SecurityProblem on one PC.
//
// Database Table: security_events
type SecurityEvent struct {
	ID           int       `db:"id"`
	ProblemID    int       `db:"problem_id"`
	PCID         int       `db:"pc_id"`
	OccurredTime time.Time `db:"occurred_time"`
	ReportedTime time.Time `db:"reported_time"`
	Summary      string    `db:"summary"`
	RawData      string    `db:"raw_data"` // Optional legacy log payload
	Status       string    `db:"status"`
	AssignedToID *int      `db:"assigned_to_id"`
	Note         string    `db:"note"`
}

// EventRuleServer is a server-side detection rule: it flags PCs that have
// been offline longer than the threshold. Evaluated by the periodic sweep,
// never delivered to PCs.
//
// Database Table: event_rules_server
type EventRuleServer struct {
	ID               int    `db:"id"`
	SiteID           int    `db:"site_id"`
	Name             string `db:"name"`
	Level            string `db:"level"`
	MinutesOffline   int    `db:"minutes_offline"`
	MonitoredGroupID *int   `db:"monitored_group_id"` // nil means the whole site
}

// ProblemUID is the slug of the synthetic SecurityProblem the rule reports
// its offline events through.
func (r *EventRuleServer) ProblemUID() string {
	return fmt.Sprintf("server-rule-%d", r.ID)
}
