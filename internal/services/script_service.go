package services

import (
	"context"
	"fmt"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ScriptService executes scripts on PCs: one Batch per run, a snapshot of
// the positional argument values, and one NEW Job per target PC. Everything
// a run creates commits atomically or not at all.
type ScriptService struct {
	scriptRepo *repository.ScriptRepository
	jobRepo    *repository.JobRepository
	pcRepo     *repository.PCRepository
}

// NewScriptService creates a new instance of ScriptService.
func NewScriptService() *ScriptService {
	return &ScriptService{
		scriptRepo: repository.NewScriptRepository(),
		jobRepo:    repository.NewJobRepository(),
		pcRepo:     repository.NewPCRepository(),
	}
}

// RunOn creates a Batch for the script with the given positional argument
// values and one NEW Job per PC, all on the provided executor. Argument
// values are matched to the script's Inputs by position and snapshotted as
// BatchParameters. Missing mandatory inputs fail the whole run with a
// ValidationError before anything is written.
//
// userID is the admin who triggered the run, nil for system-issued runs
// (policy reconciliation, wake plans).
func (s *ScriptService) RunOn(ctx context.Context, ex database.Executor, script *models.Script, siteID int, pcs []models.PC, args []string, userID *int) (*models.Batch, error) {
	inputs, err := s.scriptRepo.ListInputs(ctx, ex, script.ID)
	if err != nil {
		return nil, fmt.Errorf("list inputs for script %d: %w", script.ID, err)
	}

	if err := models.ValidateInputValues(inputs, args); err != nil {
		return nil, err
	}

	batch := &models.Batch{
		UID:      uuid.NewString(),
		SiteID:   siteID,
		ScriptID: script.ID,
		Name:     script.Name,
	}
	if err := s.jobRepo.CreateBatch(ctx, ex, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	for i, input := range inputs {
		if i >= len(args) {
			break // trailing optional inputs left unset
		}
		if err := s.jobRepo.AddBatchParameter(ctx, ex, batch.ID, input.ID, args[i]); err != nil {
			return nil, fmt.Errorf("snapshot parameter %q: %w", input.Name, err)
		}
	}

	for i := range pcs {
		job := &models.Job{BatchID: batch.ID, PCID: pcs[i].ID, UserID: userID}
		if err := s.jobRepo.CreateJob(ctx, ex, job); err != nil {
			return nil, fmt.Errorf("create job for pc %s: %w", pcs[i].UID, err)
		}
	}

	return batch, nil
}

// RunPolicySlot runs one policy slot on the given PCs. Parameter values come
// from the AssociatedScriptParameter snapshot attached to the slot, never
// from the caller.
func (s *ScriptService) RunPolicySlot(ctx context.Context, ex database.Executor, slot *models.AssociatedScript, siteID int, pcs []models.PC) (*models.Batch, error) {
	script, err := s.scriptRepo.GetByID(ctx, ex, slot.ScriptID)
	if err != nil {
		return nil, err
	}
	if script == nil {
		return nil, models.NotFound("script", slot.ScriptID)
	}

	values, err := s.scriptRepo.PolicyParameterValues(ctx, ex, slot)
	if err != nil {
		return nil, fmt.Errorf("policy parameter values for slot %d: %w", slot.ID, err)
	}

	return s.RunOn(ctx, ex, script, siteID, pcs, values, nil)
}

// RunByUID runs the script identified by uid (used for the wake plan
// pseudo-scripts, which are seeded globally) on the given PCs.
func (s *ScriptService) RunByUID(ctx context.Context, ex database.Executor, uid string, siteID int, pcs []models.PC, args []string) (*models.Batch, error) {
	script, err := s.scriptRepo.GetByUID(ctx, ex, uid)
	if err != nil {
		return nil, err
	}
	if script == nil {
		return nil, models.NotFound("script", uid)
	}
	return s.RunOn(ctx, ex, script, siteID, pcs, args, nil)
}

// RunScriptOnPCs is the admin entry point: it checks the acting user's site
// access, resolves script and targets, and executes the run in one
// transaction. PCs outside the site are rejected.
func (s *ScriptService) RunScriptOnPCs(ctx context.Context, user models.ActingUser, siteID, scriptID int, pcIDs []int, args []string) (*models.Batch, error) {
	if !user.CanAccess(siteID) {
		return nil, models.NotFound("site", siteID)
	}

	var batch *models.Batch
	err := database.WithTransaction(ctx, func(tx pgx.Tx) error {
		script, err := s.scriptRepo.GetByID(ctx, tx, scriptID)
		if err != nil {
			return err
		}
		if script == nil {
			return models.NotFound("script", scriptID)
		}
		// Site-local scripts only run inside their own site.
		if script.SiteID != nil && *script.SiteID != siteID {
			return models.NotFound("script", scriptID)
		}

		pcs := make([]models.PC, 0, len(pcIDs))
		for _, id := range pcIDs {
			pc, err := s.pcRepo.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if pc == nil || pc.SiteID != siteID {
				return models.NotFound("pc", id)
			}
			pcs = append(pcs, *pc)
		}
		if len(pcs) == 0 {
			return models.Invalid("pcs", "at least one target PC is required")
		}

		batch, err = s.RunOn(ctx, tx, script, siteID, pcs, args, &user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}
