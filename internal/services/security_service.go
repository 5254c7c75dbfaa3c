package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/repository"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/security"
)

// ServerRuleScriptUID identifies the seeded placeholder script the offline
// sweep's synthetic problems reference.
const ServerRuleScriptUID = "server_offline_rule"

// sweepTrafficWindow is how recent overall site traffic must be before the
// offline sweep trusts individual last_seen values. A site where nothing has
// polled lately is assumed cut off as a whole, and flagging every PC in it
// would only produce a notification storm.
const sweepTrafficWindow = 10 * time.Minute

// SecurityService ingests security events reported by PCs, runs the
// server-side offline sweep, and applies retention. Event writes always
// land; notification delivery is best effort.
type SecurityService struct {
	pcRepo       *repository.PCRepository
	groupRepo    *repository.GroupRepository
	scriptRepo   *repository.ScriptRepository
	securityRepo *repository.SecurityRepository
	mailer       Mailer
	logger       *security.Logger
}

// NewSecurityService creates a new instance of SecurityService.
func NewSecurityService(mailer Mailer, logger *security.Logger) *SecurityService {
	return &SecurityService{
		pcRepo:       repository.NewPCRepository(),
		groupRepo:    repository.NewGroupRepository(),
		scriptRepo:   repository.NewScriptRepository(),
		securityRepo: repository.NewSecurityRepository(),
		mailer:       mailer,
		logger:       logger,
	}
}

// eventTimeFormats are the timestamp layouts clients have been observed to
// send in the occurred_time field.
var eventTimeFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"20060102150405",
}

func parseEventTime(value string) (time.Time, bool) {
	for _, layout := range eventTimeFormats {
		if t, err := time.Parse(layout, strings.TrimSpace(value)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// PushSecurityEvents ingests a batch of CSV event lines
// (occurred_time,rule_id,summary[,legacy_log]) from a PC. Malformed lines
// and unknown rules are skipped; a rule belonging to another site is
// rejected and logged. Each valid line stores one SecurityEvent and fans out
// notification mail; mail failures never undo the event write. Returns 0
// per protocol. Unactivated PCs no-op.
func (s *SecurityService) PushSecurityEvents(ctx context.Context, pcUID string, lines []string) (int, error) {
	pc, err := s.pcRepo.GetByUID(ctx, pcUID)
	if err != nil {
		return 0, err
	}
	if pc == nil {
		return 0, models.NotFound("pc", pcUID)
	}
	if !pc.IsActivated {
		return 0, nil
	}

	for _, line := range lines {
		fields := strings.SplitN(line, ",", 4)
		if len(fields) < 3 {
			s.logger.Warnf("security event line from pc %s malformed (%d fields), skipped", pcUID, len(fields))
			securityEventsRejected.Inc()
			continue
		}

		occurred, ok := parseEventTime(fields[0])
		if !ok {
			s.logger.Warnf("security event line from pc %s has unparseable time %q, skipped", pcUID, fields[0])
			securityEventsRejected.Inc()
			continue
		}

		ruleID, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			s.logger.Warnf("security event line from pc %s has non-numeric rule id %q, skipped", pcUID, fields[1])
			securityEventsRejected.Inc()
			continue
		}

		problem, err := s.securityRepo.GetProblemByID(ctx, ruleID)
		if err != nil {
			return 0, err
		}
		if problem == nil {
			securityEventsRejected.Inc()
			continue
		}
		if problem.SiteID != pc.SiteID {
			s.logger.SecurityEvent(security.EventCrossSiteEvent, nil, "", "", "",
				map[string]interface{}{"pc_uid": pcUID, "rule_id": ruleID, "rule_site": problem.SiteID, "pc_site": pc.SiteID})
			securityEventsRejected.Inc()
			continue
		}

		event := &models.SecurityEvent{
			ProblemID:    problem.ID,
			PCID:         pc.ID,
			OccurredTime: occurred,
			Summary:      strings.TrimSpace(fields[2]),
		}
		if len(fields) == 4 {
			event.RawData = fields[3]
		}
		if err := s.securityRepo.CreateEvent(ctx, event); err != nil {
			return 0, err
		}
		securityEventsAccepted.Inc()

		s.notify(ctx, problem.Name, problem.Level, []models.PC{*pc}, event.Summary, problem.ID, false)
	}
	return 0, nil
}

// notify sends one alert mail about the given PCs. Recipients are the
// union of PCGroup supervisors over the affected PCs; PCs without any
// supervised group fall back to the rule's own alert users (problemID for
// client rules, ruleID for server rules). Failures are logged and swallowed.
func (s *SecurityService) notify(ctx context.Context, ruleName, level string, pcs []models.PC, summary string, ruleRef int, serverRule bool) {
	recipients := map[string]bool{}
	for i := range pcs {
		emails, err := s.groupRepo.SupervisorEmailsForPC(ctx, pcs[i].ID)
		if err != nil {
			s.logger.Error("supervisor lookup failed during notification", err)
			continue
		}
		for _, e := range emails {
			recipients[e] = true
		}
	}
	if len(recipients) == 0 {
		var emails []string
		var err error
		if serverRule {
			emails, err = s.securityRepo.AlertEmailsForServerRule(ctx, ruleRef)
		} else {
			emails, err = s.securityRepo.AlertEmailsForProblem(ctx, ruleRef)
		}
		if err != nil {
			s.logger.Error("alert recipient lookup failed during notification", err)
			return
		}
		for _, e := range emails {
			recipients[e] = true
		}
	}
	if len(recipients) == 0 {
		return
	}

	to := make([]string, 0, len(recipients))
	for e := range recipients {
		to = append(to, e)
	}
	sort.Strings(to)

	names := make([]string, len(pcs))
	for i := range pcs {
		names[i] = pcs[i].Name
	}

	subject := fmt.Sprintf("[%s] Security event: %s", level, ruleName)
	body := fmt.Sprintf("Rule: %s\nAffected PCs: %s\n\n%s\n", ruleName, strings.Join(names, ", "), summary)

	if err := s.mailer.Send(to, subject, body); err != nil {
		terr := &models.TransientExternalError{Op: "security notification mail", Err: err}
		s.logger.Error(terr.Error(), err)
	}
}

// SweepOfflineRules evaluates every EventRuleServer: for each rule, PCs in
// scope that have been offline past the threshold get one synthetic
// SecurityEvent plus notifications, deduplicated per offline episode. Sites
// with no recent polling traffic at all are skipped entirely so a network
// outage does not read as the whole fleet failing. Returns the number of
// events raised.
func (s *SecurityService) SweepOfflineRules(ctx context.Context, now time.Time) (int, error) {
	markerScript, err := s.scriptRepo.GetByUID(ctx, database.DB, ServerRuleScriptUID)
	if err != nil {
		return 0, err
	}
	if markerScript == nil {
		return 0, models.NotFound("script", ServerRuleScriptUID)
	}

	rules, err := s.securityRepo.ListServerRules(ctx)
	if err != nil {
		return 0, err
	}

	raised := 0
	siteTrafficOK := map[int]bool{}

	for i := range rules {
		rule := &rules[i]

		ok, checked := siteTrafficOK[rule.SiteID]
		if !checked {
			latest, err := s.securityRepo.LatestLastSeenForSite(ctx, rule.SiteID)
			if err != nil {
				return raised, err
			}
			ok = latest != nil && now.Sub(*latest) <= sweepTrafficWindow
			siteTrafficOK[rule.SiteID] = ok
			if !ok {
				s.logger.SecurityEvent(security.EventOfflineSweepSkipped, nil, "", "", "",
					map[string]interface{}{"site_id": rule.SiteID})
			}
		}
		if !ok {
			continue
		}

		problem, err := s.securityRepo.EnsureServerRuleProblem(ctx, rule, markerScript.ID)
		if err != nil {
			return raised, err
		}

		pcs, err := s.securityRepo.OfflinePCsForRule(ctx, rule, now)
		if err != nil {
			return raised, err
		}

		var flagged []models.PC
		for j := range pcs {
			dup, err := s.securityRepo.HasRecentEventForRule(ctx, problem.UID, pcs[j].ID, pcs[j].LastSeen)
			if err != nil {
				return raised, err
			}
			if dup {
				continue
			}

			summary := fmt.Sprintf("%s offline for more than %d minutes", pcs[j].Name, rule.MinutesOffline)
			event := &models.SecurityEvent{
				ProblemID:    problem.ID,
				PCID:         pcs[j].ID,
				OccurredTime: now,
				Summary:      summary,
			}
			if err := s.securityRepo.CreateEvent(ctx, event); err != nil {
				return raised, err
			}
			raised++
			flagged = append(flagged, pcs[j])
		}

		// One mail per distinct supervisor set rather than one per PC.
		for _, bucket := range groupByRecipients(ctx, s, flagged) {
			summary := fmt.Sprintf("PCs offline for more than %d minutes.", rule.MinutesOffline)
			s.notify(ctx, rule.Name, rule.Level, bucket, summary, rule.ID, true)
		}
	}
	return raised, nil
}

// groupByRecipients buckets PCs whose supervisor sets are identical so one
// notification can cover all of them.
func groupByRecipients(ctx context.Context, s *SecurityService, pcs []models.PC) map[string][]models.PC {
	buckets := map[string][]models.PC{}
	for i := range pcs {
		emails, err := s.groupRepo.SupervisorEmailsForPC(ctx, pcs[i].ID)
		if err != nil {
			s.logger.Error("supervisor lookup failed during sweep grouping", err)
			emails = nil
		}
		sort.Strings(emails)
		key := strings.Join(emails, ",")
		buckets[key] = append(buckets[key], pcs[i])
	}
	return buckets
}

// CleanupRetention deletes SecurityEvents and LoginLogs older than the given
// windows. Jobs are audit history and are never touched.
func (s *SecurityService) CleanupRetention(ctx context.Context, now time.Time, eventRetention, loginLogRetention time.Duration) (int64, int64, error) {
	citizenRepo := repository.NewCitizenRepository()

	events, err := s.securityRepo.DeleteEventsBefore(ctx, now.Add(-eventRetention))
	if err != nil {
		return 0, 0, err
	}
	logs, err := citizenRepo.DeleteLoginLogsBefore(ctx, now.Add(-loginLogRetention))
	if err != nil {
		return events, 0, err
	}

	s.logger.SecurityEvent(security.EventRetentionCleanup, nil, "", "", "",
		map[string]interface{}{"security_events_deleted": events, "login_logs_deleted": logs})
	return events, logs, nil
}
