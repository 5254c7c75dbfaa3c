package services

import (
	"context"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// JobAdminService carries the admin-side job actions: resolving and
// restarting FAILED jobs. Both guard on the job's current state and are
// domain errors from any other state.
type JobAdminService struct {
	jobRepo *repository.JobRepository
	pcRepo  *repository.PCRepository
}

// NewJobAdminService creates a new instance of JobAdminService.
func NewJobAdminService() *JobAdminService {
	return &JobAdminService{
		jobRepo: repository.NewJobRepository(),
		pcRepo:  repository.NewPCRepository(),
	}
}

// loadForAdmin fetches a job under lock and checks the acting user can reach
// the owning site.
func (s *JobAdminService) loadForAdmin(ctx context.Context, tx pgx.Tx, user models.ActingUser, jobID int) (*models.Job, error) {
	job, err := s.jobRepo.GetByIDForUpdate(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, models.NotFound("job", jobID)
	}
	pc, err := s.pcRepo.GetByID(ctx, job.PCID)
	if err != nil {
		return nil, err
	}
	if pc == nil || !user.CanAccess(pc.SiteID) {
		return nil, models.NotFound("job", jobID)
	}
	return job, nil
}

// ResolveJob marks a FAILED job RESOLVED.
func (s *JobAdminService) ResolveJob(ctx context.Context, user models.ActingUser, jobID int) error {
	return database.WithTransaction(ctx, func(tx pgx.Tx) error {
		job, err := s.loadForAdmin(ctx, tx, user, jobID)
		if err != nil {
			return err
		}
		if err := job.EnsureResolvable(); err != nil {
			return err
		}
		return s.jobRepo.SetStatus(ctx, tx, jobID, models.JobResolved)
	})
}

// RestartJob resolves a FAILED job and spawns a fresh NEW job on the same PC
// with a cloned Batch, so the original run's history stays intact while the
// script gets another attempt with the same parameter values.
func (s *JobAdminService) RestartJob(ctx context.Context, user models.ActingUser, jobID int) (*models.Job, error) {
	var fresh *models.Job

	err := database.WithTransaction(ctx, func(tx pgx.Tx) error {
		job, err := s.loadForAdmin(ctx, tx, user, jobID)
		if err != nil {
			return err
		}
		if err := job.EnsureRestartable(); err != nil {
			return err
		}

		if err := s.jobRepo.SetStatus(ctx, tx, jobID, models.JobResolved); err != nil {
			return err
		}

		newBatchID, err := s.jobRepo.CloneBatch(ctx, tx, job.BatchID, uuid.NewString())
		if err != nil {
			return err
		}

		fresh = &models.Job{BatchID: newBatchID, PCID: job.PCID, UserID: &user.ID}
		return s.jobRepo.CreateJob(ctx, tx, fresh)
	})
	if err != nil {
		return nil, err
	}
	return fresh, nil
}
