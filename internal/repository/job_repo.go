// Batch/Job access: batch creation with parameter snapshots, the ordered
// NEW-job handout that backs instruction delivery, and status bookkeeping.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/jackc/pgx/v5"
)

// JobRepository handles batch and job database operations.
type JobRepository struct{}

// NewJobRepository creates a new instance of JobRepository.
func NewJobRepository() *JobRepository {
	return &JobRepository{}
}

// CreateBatch inserts a batch row inside the given executor.
//
// Side Effects: Populates batch.ID and batch.CreatedAt.
func (r *JobRepository) CreateBatch(ctx context.Context, ex database.Executor, batch *models.Batch) error {
	return ex.QueryRow(ctx,
		`INSERT INTO batches (uid, site_id, script_id, name)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		batch.UID, batch.SiteID, batch.ScriptID, batch.Name,
	).Scan(&batch.ID, &batch.CreatedAt)
}

// AddBatchParameter snapshots one input value onto a batch.
func (r *JobRepository) AddBatchParameter(ctx context.Context, ex database.Executor, batchID, inputID int, value string) error {
	_, err := ex.Exec(ctx,
		`INSERT INTO batch_parameters (batch_id, input_id, value) VALUES ($1, $2, $3)`,
		batchID, inputID, value)
	return err
}

// CreateJob inserts one NEW job for a batch/PC pair.
//
// Side Effects: Populates job.ID and job.CreatedAt.
func (r *JobRepository) CreateJob(ctx context.Context, ex database.Executor, job *models.Job) error {
	if job.Status == "" {
		job.Status = models.JobNew
	}
	return ex.QueryRow(ctx,
		`INSERT INTO jobs (batch_id, pc_id, user_id, status)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		job.BatchID, job.PCID, job.UserID, job.Status,
	).Scan(&job.ID, &job.CreatedAt)
}

const jobColumns = `id, batch_id, pc_id, user_id, status, log_output, started, finished, created_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.BatchID, &j.PCID, &j.UserID, &j.Status,
		&j.LogOutput, &j.Started, &j.Finished, &j.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// GetByID retrieves a job by primary key. Returns (nil, nil) when absent.
func (r *JobRepository) GetByID(ctx context.Context, ex database.Executor, id int) (*models.Job, error) {
	return scanJob(ex.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

// GetByIDForUpdate retrieves and row-locks a job inside a transaction, used
// by resolve/restart so concurrent admin actions serialize.
func (r *JobRepository) GetByIDForUpdate(ctx context.Context, ex database.Executor, id int) (*models.Job, error) {
	return scanJob(ex.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
}

// JobInstruction is one dispatched job joined with everything the PC needs
// to execute it: the script payload and the parameter values in input order.
type JobInstruction struct {
	JobID          int
	BatchUID       string
	ScriptName     string
	ExecutableCode string
	Parameters     []string
}

// LockNewForPC selects the PC's NEW jobs ordered by primary key ascending
// and row-locks them. Must run inside a transaction followed by
// MarkSubmitted so delivery marks each job exactly once.
func (r *JobRepository) LockNewForPC(ctx context.Context, ex database.Executor, pcID int) ([]JobInstruction, error) {
	rows, err := ex.Query(ctx,
		`SELECT j.id, b.uid, s.name, s.executable_code
		 FROM jobs j
		 JOIN batches b ON b.id = j.batch_id
		 JOIN scripts s ON s.id = b.script_id
		 WHERE j.pc_id = $1 AND j.status = $2
		 ORDER BY j.id
		 FOR UPDATE OF j`, pcID, models.JobNew)
	if err != nil {
		return nil, err
	}

	var instructions []JobInstruction
	for rows.Next() {
		var in JobInstruction
		if err := rows.Scan(&in.JobID, &in.BatchUID, &in.ScriptName, &in.ExecutableCode); err != nil {
			rows.Close()
			return nil, err
		}
		instructions = append(instructions, in)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range instructions {
		params, err := r.batchParameterValues(ctx, ex, instructions[i].JobID)
		if err != nil {
			return nil, err
		}
		instructions[i].Parameters = params
	}
	return instructions, nil
}

// batchParameterValues returns a job's snapshotted values in input position
// order.
func (r *JobRepository) batchParameterValues(ctx context.Context, ex database.Executor, jobID int) ([]string, error) {
	rows, err := ex.Query(ctx,
		`SELECT bp.value
		 FROM batch_parameters bp
		 JOIN script_inputs i ON i.id = bp.input_id
		 JOIN batches b ON b.id = bp.batch_id
		 JOIN jobs j ON j.batch_id = b.id
		 WHERE j.id = $1
		 ORDER BY i.position`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// MarkSubmitted flips the given jobs to SUBMITTED.
func (r *JobRepository) MarkSubmitted(ctx context.Context, ex database.Executor, jobIDs []int) error {
	if len(jobIDs) == 0 {
		return nil
	}
	_, err := ex.Exec(ctx,
		`UPDATE jobs SET status = $1 WHERE id = ANY($2)`,
		models.JobSubmitted, jobIDs)
	return err
}

// SetStatus updates a job's status without touching timestamps. Used by the
// admin resolve path.
func (r *JobRepository) SetStatus(ctx context.Context, ex database.Executor, jobID int, status string) error {
	_, err := ex.Exec(ctx,
		`UPDATE jobs SET status = $1 WHERE id = $2`, status, jobID)
	return err
}

// ApplyStatusReport upserts one status report from a PC: status, optional
// start/finish stamps and log output. Reports that would move the job
// backwards are ignored (replay), as are reports for unknown job ids; both
// return (false, nil).
func (r *JobRepository) ApplyStatusReport(ctx context.Context, jobID int, status string, started, finished *time.Time, logOutput string) (bool, error) {
	job, err := r.GetByID(ctx, database.DB, jobID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	if !models.AllowedReportedStatus(job.Status, status) {
		return false, nil
	}

	_, err = database.DB.Exec(ctx,
		`UPDATE jobs SET status = $1,
			started = COALESCE($2, started),
			finished = COALESCE($3, finished),
			log_output = CASE WHEN $4 <> '' THEN $4 ELSE log_output END
		 WHERE id = $5`,
		status, started, finished, logOutput, jobID)
	if err != nil {
		return false, err
	}
	return true, nil
}

// CloneBatch copies a batch row and its parameter snapshot, returning the
// new batch id. Used by restart so the original batch's history survives.
func (r *JobRepository) CloneBatch(ctx context.Context, ex database.Executor, batchID int, newUID string) (int, error) {
	var newID int
	err := ex.QueryRow(ctx,
		`INSERT INTO batches (uid, site_id, script_id, name)
		 SELECT $2, site_id, script_id, name FROM batches WHERE id = $1
		 RETURNING id`, batchID, newUID).Scan(&newID)
	if err != nil {
		return 0, err
	}

	_, err = ex.Exec(ctx,
		`INSERT INTO batch_parameters (batch_id, input_id, value)
		 SELECT $2, input_id, value FROM batch_parameters WHERE batch_id = $1`,
		batchID, newID)
	return newID, err
}

// ListBySite retrieves a site's jobs newest first, for the admin surface.
func (r *JobRepository) ListBySite(ctx context.Context, siteID, limit int) ([]models.Job, error) {
	rows, err := database.DB.Query(ctx,
		`SELECT j.`+jobColumnsQualified()+`
		 FROM jobs j
		 JOIN batches b ON b.id = j.batch_id
		 WHERE b.site_id = $1
		 ORDER BY j.id DESC
		 LIMIT $2`, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.BatchID, &j.PCID, &j.UserID, &j.Status,
			&j.LogOutput, &j.Started, &j.Finished, &j.CreatedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func jobColumnsQualified() string {
	return `id, j.batch_id, j.pc_id, j.user_id, j.status, j.log_output, j.started, j.finished, j.created_at`
}
