// Wake plans: weekly on/off power schedules with date-range exceptions,
// pushed to group members via the wake_plan_set / wake_plan_remove
// pseudo-scripts.
package models

import "time"

// Pseudo-script uids used by the wake plan engine.
const (
	WakePlanSetUID    = "wake_plan_set"
	WakePlanRemoveUID = "wake_plan_remove"
)

// Sleep states a plan can put machines into outside the on-window.
const (
	SleepStateOff        = "off"
	SleepStateSuspend    = "suspend"
	SleepStateHibernate  = "hibernate"
)

// WakeDay is one weekday's schedule within a plan. Open is false for days
// the machines stay down entirely.
type WakeDay struct {
	Open bool   `db:"open"`
	On   string `db:"on_time"`  // "HH:MM", empty when closed
	Off  string `db:"off_time"` // "HH:MM", empty when closed
}

// WakeWeekPlan is a per-day on/off schedule bound to a Site and applied to
// the members of the groups it is attached to. At most one plan per group;
// a PC may not be governed by two different enabled plans at once.
//
// Database Table: wake_week_plans (one row per plan, seven day columns)
type WakeWeekPlan struct {
	ID         int        `db:"id"`
	SiteID     int        `db:"site_id"`
	Name       string     `db:"name"`
	Enabled    bool       `db:"enabled"`
	SleepState string     `db:"sleep_state"`
	Days       [7]WakeDay // Monday..Sunday
	CreatedAt  time.Time  `db:"created_at"`
}

// ScriptArguments renders the plan as the positional argument list of the
// wake_plan_set pseudo-script: sleep state followed by on/off pairs for
// Monday through Sunday, with "-" marking closed days.
func (p *WakeWeekPlan) ScriptArguments() []string {
	args := make([]string, 0, 1+7*2)
	args = append(args, p.SleepState)
	for _, d := range p.Days {
		if d.Open {
			args = append(args, d.On, d.Off)
		} else {
			args = append(args, "-", "-")
		}
	}
	return args
}

// WakeChangeEvent is a calendar exception attached to a plan: for the
// inclusive date range it either closes the machines entirely or swaps in
// alternate on/off times. Events on the same plan must not overlap.
//
// Database Table: wake_change_events
type WakeChangeEvent struct {
	ID        int       `db:"id"`
	PlanID    int       `db:"plan_id"`
	Name      string    `db:"name"`
	DateStart time.Time `db:"date_start"`
	DateEnd   time.Time `db:"date_end"`
	Closed    bool      `db:"closed"`   // Machines fully down for the range
	AltOn     string    `db:"alt_on"`   // Used when not closed
	AltOff    string    `db:"alt_off"`
}

// OverlapsRange reports whether two inclusive date ranges intersect.
func (e *WakeChangeEvent) OverlapsRange(other *WakeChangeEvent) bool {
	return !e.DateEnd.Before(other.DateStart) && !other.DateEnd.Before(e.DateStart)
}

// VerifyChangeEvents partitions candidate exceptions into accepted and
// rejected sets. Candidates are processed most recent DateStart first so
// earlier-verified events win ties deterministically; a candidate that
// overlaps an already-accepted one is rejected. The returned slices keep the
// processing order. The input slice is not modified.
func VerifyChangeEvents(candidates []WakeChangeEvent) (accepted, rejected []WakeChangeEvent) {
	ordered := make([]WakeChangeEvent, len(candidates))
	copy(ordered, candidates)
	// Stable insertion sort by DateStart descending; candidate sets are small.
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].DateStart.After(ordered[j-1].DateStart); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	for _, cand := range ordered {
		cand := cand
		overlap := false
		for i := range accepted {
			if cand.OverlapsRange(&accepted[i]) {
				overlap = true
				break
			}
		}
		if overlap {
			rejected = append(rejected, cand)
		} else {
			accepted = append(accepted, cand)
		}
	}
	return accepted, rejected
}
