// Batch/Job entities and the job status state machine.
package models

import "time"

// Job statuses. The normal path is NEW -> SUBMITTED -> RUNNING -> DONE or
// FAILED; FAILED can only leave via an admin resolve or restart, both of
// which land on RESOLVED.
const (
	JobNew       = "NEW"
	JobSubmitted = "SUBMITTED"
	JobRunning   = "RUNNING"
	JobFailed    = "FAILED"
	JobDone      = "DONE"
	JobResolved  = "RESOLVED"
)

// Batch is one invocation of a Script against a Site, fanned out as one Job
// per target PC. Restarting a failed job clones the batch so the original's
// history stays intact.
//
// Database Table: batches
type Batch struct {
	ID        int       `db:"id"`
	UID       string    `db:"uid"` // Correlation id, uuid
	SiteID    int       `db:"site_id"`
	ScriptID  int       `db:"script_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// BatchParameter snapshots one Input value for a Batch, matched to the
// script's inputs by position at creation time.
//
// Database Table: batch_parameters
type BatchParameter struct {
	ID      int    `db:"id"`
	BatchID int    `db:"batch_id"`
	InputID int    `db:"input_id"`
	Value   string `db:"value"`
}

// Job is one Batch on one PC, the unit of dispatch. Jobs are created NEW,
// handed out on poll, and never deleted (audit trail).
//
// Database Table: jobs
type Job struct {
	ID         int        `db:"id"`
	BatchID    int        `db:"batch_id"`
	PCID       int        `db:"pc_id"`
	UserID     *int       `db:"user_id"` // Admin who triggered it, nil for system runs
	Status     string     `db:"status"`
	LogOutput  string     `db:"log_output"`
	Started    *time.Time `db:"started"`
	Finished   *time.Time `db:"finished"`
	CreatedAt  time.Time  `db:"created_at"`
}

// reportableTransitions are the status moves a PC may report. Replays of the
// current status are accepted as idempotent no-ops by the dispatch layer.
var reportableTransitions = map[string][]string{
	JobSubmitted: {JobRunning, JobDone, JobFailed},
	JobRunning:   {JobRunning, JobDone, JobFailed},
}

// AllowedReportedStatus reports whether a PC status report moving the job
// from current to next is acceptable. Identical current/next is always
// allowed (replayed report).
func AllowedReportedStatus(current, next string) bool {
	if current == next {
		return true
	}
	for _, s := range reportableTransitions[current] {
		if s == next {
			return true
		}
	}
	return false
}

// EnsureResolvable guards the admin resolve action: only FAILED jobs can be
// resolved.
func (j *Job) EnsureResolvable() error {
	if j.Status != JobFailed {
		return &DomainStateError{Op: "resolve job", Current: j.Status}
	}
	return nil
}

// EnsureRestartable guards the admin restart action: only FAILED jobs can be
// restarted. Restart marks the original RESOLVED and spawns a fresh NEW job
// on the same PC with a cloned batch.
func (j *Job) EnsureRestartable() error {
	if j.Status != JobFailed {
		return &DomainStateError{Op: "restart job", Current: j.Status}
	}
	return nil
}
