package services

import (
	"context"
	"fmt"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/repository"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/security"
	"github.com/jackc/pgx/v5"
)

// PolicyService keeps group policy and wake plans reconciled with reality:
// when membership or policy changes it issues exactly the script runs the
// delta requires, and it enforces that no PC is committed to two enabled
// wake plans at once. Every reconciliation runs in one transaction; a
// missing mandatory parameter rolls back the whole change.
type PolicyService struct {
	groupRepo  *repository.GroupRepository
	pcRepo     *repository.PCRepository
	scriptRepo *repository.ScriptRepository
	wakeRepo   *repository.WakeRepository
	scripts    *ScriptService
	logger     *security.Logger
}

// NewPolicyService creates a new instance of PolicyService.
func NewPolicyService(logger *security.Logger) *PolicyService {
	return &PolicyService{
		groupRepo:  repository.NewGroupRepository(),
		pcRepo:     repository.NewPCRepository(),
		scriptRepo: repository.NewScriptRepository(),
		wakeRepo:   repository.NewWakeRepository(),
		scripts:    NewScriptService(),
		logger:     logger,
	}
}

// RejectedPC names a PC whose change was refused and the wake plan that
// blocked it.
type RejectedPC struct {
	Name      string `json:"name"`
	BlockedBy string `json:"blocked_by"`
}

// ReconcileReport is the partial-success outcome of a group change.
type ReconcileReport struct {
	AddedPCs    []string     `json:"added_pcs"`
	RemovedPCs  []string     `json:"removed_pcs"`
	Rejected    []RejectedPC `json:"rejected,omitempty"`
	BatchesMade int          `json:"batches_made"`
}

// UpdateGroupMembers replaces a group's membership with the given PC set and
// reconciles: every newly joined PC receives the group's full policy in
// position order plus the wake-plan set run when the group's plan is
// enabled; leaving PCs get a wake-plan remove run when no other enabled plan
// still governs them. A PC already governed by a different enabled wake plan
// is rejected rather than added; the change succeeds for the rest and the
// report names the rejected PCs.
func (s *PolicyService) UpdateGroupMembers(ctx context.Context, user models.ActingUser, groupID int, postMemberIDs []int) (*ReconcileReport, error) {
	report := &ReconcileReport{}

	err := database.WithTransaction(ctx, func(tx pgx.Tx) error {
		group, err := s.groupRepo.GetByID(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if group == nil || !user.CanAccess(group.SiteID) {
			return models.NotFound("group", groupID)
		}

		plan, err := s.enabledPlanOf(ctx, tx, group)
		if err != nil {
			return err
		}

		preIDs, err := s.groupRepo.MemberIDs(ctx, tx, groupID)
		if err != nil {
			return err
		}
		pre := make(map[int]bool, len(preIDs))
		for _, id := range preIDs {
			pre[id] = true
		}
		post := make(map[int]bool, len(postMemberIDs))
		for _, id := range postMemberIDs {
			post[id] = true
		}

		var joined []models.PC
		for _, id := range postMemberIDs {
			if pre[id] {
				continue
			}
			pc, err := s.pcRepo.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if pc == nil || pc.SiteID != group.SiteID {
				return models.NotFound("pc", id)
			}

			if plan != nil {
				other, err := s.pcRepo.EnabledWakePlanForPC(ctx, tx, pc.ID, group.ID)
				if err != nil {
					return err
				}
				if other != nil && other.ID != plan.ID {
					s.logger.Warnf("pc %s not added to group %d: governed by wake plan %q", pc.Name, groupID, other.Name)
					report.Rejected = append(report.Rejected, RejectedPC{Name: pc.Name, BlockedBy: other.Name})
					continue
				}
			}

			if err := s.groupRepo.AddMember(ctx, tx, groupID, pc.ID); err != nil {
				return err
			}
			joined = append(joined, *pc)
			report.AddedPCs = append(report.AddedPCs, pc.Name)
		}

		var left []models.PC
		for _, id := range preIDs {
			if post[id] {
				continue
			}
			pc, err := s.pcRepo.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if err := s.groupRepo.RemoveMember(ctx, tx, groupID, id); err != nil {
				return err
			}
			if pc != nil {
				left = append(left, *pc)
				report.RemovedPCs = append(report.RemovedPCs, pc.Name)
			}
		}

		// New members receive the full current policy, slot by slot in
		// position order.
		if len(joined) > 0 {
			policy, err := s.scriptRepo.ListPolicy(ctx, tx, groupID)
			if err != nil {
				return err
			}
			for i := range policy {
				if _, err := s.scripts.RunPolicySlot(ctx, tx, &policy[i], group.SiteID, joined); err != nil {
					return err
				}
				report.BatchesMade++
			}

			if plan != nil {
				if _, err := s.scripts.RunByUID(ctx, tx, models.WakePlanSetUID, group.SiteID, joined, plan.ScriptArguments()); err != nil {
					return err
				}
				report.BatchesMade++
			}
		}

		// Leaving members lose the wake plan unless another enabled plan
		// still covers them. Removal happened above, so the membership query
		// already excludes this group.
		if plan != nil {
			orphaned, err := s.withoutOtherPlan(ctx, tx, left, group.ID)
			if err != nil {
				return err
			}
			if len(orphaned) > 0 {
				if _, err := s.scripts.RunByUID(ctx, tx, models.WakePlanRemoveUID, group.SiteID, orphaned, nil); err != nil {
					return err
				}
				report.BatchesMade++
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// AddPolicyScript appends a script to the group's policy (next free
// position), stores the parameter snapshot, and runs the new slot on the
// group's current members. Members joining later get it through the
// membership path. inputValues is keyed by Input id.
func (s *PolicyService) AddPolicyScript(ctx context.Context, user models.ActingUser, groupID, scriptID int, inputValues map[int]string) (*models.AssociatedScript, error) {
	var slot *models.AssociatedScript

	err := database.WithTransaction(ctx, func(tx pgx.Tx) error {
		group, err := s.groupRepo.GetByID(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if group == nil || !user.CanAccess(group.SiteID) {
			return models.NotFound("group", groupID)
		}

		script, err := s.scriptRepo.GetByID(ctx, tx, scriptID)
		if err != nil {
			return err
		}
		if script == nil || (script.SiteID != nil && *script.SiteID != group.SiteID) {
			return models.NotFound("script", scriptID)
		}

		slot, err = s.scriptRepo.AddPolicyScript(ctx, tx, groupID, scriptID)
		if err != nil {
			return err
		}
		for inputID, value := range inputValues {
			if err := s.scriptRepo.SetPolicyParameter(ctx, tx, slot.ID, inputID, value); err != nil {
				return err
			}
		}

		members, err := s.groupRepo.Members(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if len(members) > 0 {
			if _, err := s.scripts.RunPolicySlot(ctx, tx, slot, group.SiteID, members); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// RemovePolicyScript removes one policy slot and renumbers the remaining
// slots contiguously. No script runs are issued; there is no uninstall.
func (s *PolicyService) RemovePolicyScript(ctx context.Context, user models.ActingUser, groupID, slotID int) error {
	return database.WithTransaction(ctx, func(tx pgx.Tx) error {
		group, err := s.groupRepo.GetByID(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if group == nil || !user.CanAccess(group.SiteID) {
			return models.NotFound("group", groupID)
		}

		policy, err := s.scriptRepo.ListPolicy(ctx, tx, groupID)
		if err != nil {
			return err
		}
		found := false
		for i := range policy {
			if policy[i].ID == slotID {
				found = true
				break
			}
		}
		if !found {
			return models.NotFound("policy script", slotID)
		}

		return s.scriptRepo.RemovePolicyScript(ctx, tx, slotID)
	})
}

// SetGroupWakePlan binds (or, with nil, unbinds) a wake plan to a group and
// reconciles the members: binding an enabled plan issues set runs, unbinding
// issues remove runs for members no other enabled plan covers. Members
// already governed by a different enabled plan are reported, not re-bound.
func (s *PolicyService) SetGroupWakePlan(ctx context.Context, user models.ActingUser, groupID int, planID *int) (*ReconcileReport, error) {
	report := &ReconcileReport{}

	err := database.WithTransaction(ctx, func(tx pgx.Tx) error {
		group, err := s.groupRepo.GetByID(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if group == nil || !user.CanAccess(group.SiteID) {
			return models.NotFound("group", groupID)
		}

		oldPlan, err := s.enabledPlanOf(ctx, tx, group)
		if err != nil {
			return err
		}

		var newPlan *models.WakeWeekPlan
		if planID != nil {
			newPlan, err = s.wakeRepo.GetByID(ctx, tx, *planID)
			if err != nil {
				return err
			}
			if newPlan == nil || newPlan.SiteID != group.SiteID {
				return models.NotFound("wake plan", *planID)
			}
		}

		if err := s.groupRepo.SetWakePlan(ctx, tx, groupID, planID); err != nil {
			return err
		}

		members, err := s.groupRepo.Members(ctx, tx, groupID)
		if err != nil {
			return err
		}

		if newPlan != nil && newPlan.Enabled {
			eligible := members[:0:0]
			for i := range members {
				other, err := s.pcRepo.EnabledWakePlanForPC(ctx, tx, members[i].ID, group.ID)
				if err != nil {
					return err
				}
				if other != nil && other.ID != newPlan.ID {
					report.Rejected = append(report.Rejected, RejectedPC{Name: members[i].Name, BlockedBy: other.Name})
					continue
				}
				eligible = append(eligible, members[i])
			}
			if len(eligible) > 0 {
				if _, err := s.scripts.RunByUID(ctx, tx, models.WakePlanSetUID, group.SiteID, eligible, newPlan.ScriptArguments()); err != nil {
					return err
				}
				report.BatchesMade++
			}
			return nil
		}

		if oldPlan != nil && newPlan == nil {
			orphaned, err := s.withoutOtherPlan(ctx, tx, members, group.ID)
			if err != nil {
				return err
			}
			if len(orphaned) > 0 {
				if _, err := s.scripts.RunByUID(ctx, tx, models.WakePlanRemoveUID, group.SiteID, orphaned, nil); err != nil {
					return err
				}
				report.BatchesMade++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// SetWakePlanEnabled flips a plan on or off and pushes the consequence to
// every member of every group bound to it.
func (s *PolicyService) SetWakePlanEnabled(ctx context.Context, user models.ActingUser, planID int, enabled bool) (*ReconcileReport, error) {
	report := &ReconcileReport{}

	err := database.WithTransaction(ctx, func(tx pgx.Tx) error {
		plan, err := s.wakeRepo.GetByID(ctx, tx, planID)
		if err != nil {
			return err
		}
		if plan == nil || !user.CanAccess(plan.SiteID) {
			return models.NotFound("wake plan", planID)
		}

		if err := s.wakeRepo.SetEnabled(ctx, tx, planID, enabled); err != nil {
			return err
		}
		plan.Enabled = enabled

		members, err := s.planMembers(ctx, tx, planID)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return nil
		}

		if enabled {
			eligible := members[:0:0]
			for i := range members {
				other, err := s.pcRepo.EnabledWakePlanForPC(ctx, tx, members[i].ID, 0)
				if err != nil {
					return err
				}
				if other != nil && other.ID != plan.ID {
					report.Rejected = append(report.Rejected, RejectedPC{Name: members[i].Name, BlockedBy: other.Name})
					continue
				}
				eligible = append(eligible, members[i])
			}
			members = eligible
		} else {
			members, err = s.withoutOtherPlan(ctx, tx, members, 0)
			if err != nil {
				return err
			}
		}
		if len(members) == 0 {
			return nil
		}

		uid, args := models.WakePlanRemoveUID, []string(nil)
		if enabled {
			uid, args = models.WakePlanSetUID, plan.ScriptArguments()
		}
		if _, err := s.scripts.RunByUID(ctx, tx, uid, plan.SiteID, members, args); err != nil {
			return err
		}
		report.BatchesMade++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// UpdateWakeSchedule stores a plan's new weekly schedule and, when the plan
// is enabled, re-pushes it to every governed PC.
func (s *PolicyService) UpdateWakeSchedule(ctx context.Context, user models.ActingUser, plan *models.WakeWeekPlan) (*ReconcileReport, error) {
	report := &ReconcileReport{}

	err := database.WithTransaction(ctx, func(tx pgx.Tx) error {
		current, err := s.wakeRepo.GetByID(ctx, tx, plan.ID)
		if err != nil {
			return err
		}
		if current == nil || !user.CanAccess(current.SiteID) {
			return models.NotFound("wake plan", plan.ID)
		}
		plan.SiteID = current.SiteID
		plan.Enabled = current.Enabled

		if err := s.wakeRepo.UpdateSchedule(ctx, tx, plan); err != nil {
			return err
		}
		if !plan.Enabled {
			return nil
		}

		members, err := s.planMembers(ctx, tx, plan.ID)
		if err != nil {
			return err
		}
		if len(members) > 0 {
			if _, err := s.scripts.RunByUID(ctx, tx, models.WakePlanSetUID, plan.SiteID, members, plan.ScriptArguments()); err != nil {
				return err
			}
			report.BatchesMade++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// AttachChangeEvents verifies candidate schedule exceptions against the
// plan's already-stored ones and each other, stores the accepted set, and
// reports the rejected names. Already-verified exceptions always win;
// candidates are considered most recent date_start first. When the plan is
// enabled the schedule is re-pushed to the governed PCs.
func (s *PolicyService) AttachChangeEvents(ctx context.Context, user models.ActingUser, planID int, candidates []models.WakeChangeEvent) (accepted []models.WakeChangeEvent, rejectedNames []string, err error) {
	err = database.WithTransaction(ctx, func(tx pgx.Tx) error {
		plan, err := s.wakeRepo.GetByID(ctx, tx, planID)
		if err != nil {
			return err
		}
		if plan == nil || !user.CanAccess(plan.SiteID) {
			return models.NotFound("wake plan", planID)
		}

		existing, err := s.wakeRepo.ListChangeEvents(ctx, tx, planID)
		if err != nil {
			return err
		}

		// Candidates overlapping a stored exception lose outright.
		survivors := make([]models.WakeChangeEvent, 0, len(candidates))
		for i := range candidates {
			blocked := false
			for j := range existing {
				if candidates[i].OverlapsRange(&existing[j]) {
					blocked = true
					break
				}
			}
			if blocked {
				rejectedNames = append(rejectedNames, candidates[i].Name)
				continue
			}
			survivors = append(survivors, candidates[i])
		}

		ok, overlapping := models.VerifyChangeEvents(survivors)
		for i := range overlapping {
			rejectedNames = append(rejectedNames, overlapping[i].Name)
		}

		for i := range ok {
			ok[i].PlanID = planID
			if err := s.wakeRepo.CreateChangeEvent(ctx, tx, &ok[i]); err != nil {
				return err
			}
		}
		accepted = ok

		if plan.Enabled && len(ok) > 0 {
			members, err := s.planMembers(ctx, tx, planID)
			if err != nil {
				return err
			}
			if len(members) > 0 {
				if _, err := s.scripts.RunByUID(ctx, tx, models.WakePlanSetUID, plan.SiteID, members, plan.ScriptArguments()); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return accepted, rejectedNames, nil
}

// enabledPlanOf resolves a group's bound plan, nil when unbound or disabled.
func (s *PolicyService) enabledPlanOf(ctx context.Context, ex database.Executor, group *models.PCGroup) (*models.WakeWeekPlan, error) {
	if group.WakePlanID == nil {
		return nil, nil
	}
	plan, err := s.wakeRepo.GetByID(ctx, ex, *group.WakePlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, fmt.Errorf("group %d references missing wake plan %d", group.ID, *group.WakePlanID)
	}
	if !plan.Enabled {
		return nil, nil
	}
	return plan, nil
}

// withoutOtherPlan filters pcs down to those no enabled wake plan governs,
// ignoring memberships of excludeGroupID.
func (s *PolicyService) withoutOtherPlan(ctx context.Context, ex database.Executor, pcs []models.PC, excludeGroupID int) ([]models.PC, error) {
	var out []models.PC
	for i := range pcs {
		other, err := s.pcRepo.EnabledWakePlanForPC(ctx, ex, pcs[i].ID, excludeGroupID)
		if err != nil {
			return nil, err
		}
		if other == nil {
			out = append(out, pcs[i])
		}
	}
	return out, nil
}

// planMembers gathers the distinct member PCs across all groups bound to a
// plan.
func (s *PolicyService) planMembers(ctx context.Context, ex database.Executor, planID int) ([]models.PC, error) {
	groupIDs, err := s.groupRepo.GroupIDsForPlan(ctx, ex, planID)
	if err != nil {
		return nil, err
	}

	seen := map[int]bool{}
	var out []models.PC
	for _, gid := range groupIDs {
		members, err := s.groupRepo.Members(ctx, ex, gid)
		if err != nil {
			return nil, err
		}
		for i := range members {
			if !seen[members[i].ID] {
				seen[members[i].ID] = true
				out = append(out, members[i])
			}
		}
	}
	return out, nil
}
