package handlers

import (
	"strconv"
	"time"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/middleware"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/repository"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/security"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/services"
	"github.com/gofiber/fiber/v2"
)

// AdminHandler serves the API-key-scoped admin surface. Each request is
// bound to the key's site by the APIKeyAuth middleware; handlers derive the
// acting user from that binding and never trust site ids in the payload.
type AdminHandler struct {
	siteRepo     *repository.SiteRepository
	pcRepo       *repository.PCRepository
	groupRepo    *repository.GroupRepository
	configRepo   *repository.ConfigRepository
	jobRepo      *repository.JobRepository
	securityRepo *repository.SecurityRepository
	wakeRepo     *repository.WakeRepository

	scripts  *services.ScriptService
	policy   *services.PolicyService
	jobs     *services.JobAdminService
	sweeps   *services.SecurityService
	keys     *services.APIKeyService
	validate *security.ValidationService

	eventRetention    time.Duration
	loginLogRetention time.Duration
}

// NewAdminHandler creates a new instance of AdminHandler.
func NewAdminHandler(
	scripts *services.ScriptService,
	policy *services.PolicyService,
	jobs *services.JobAdminService,
	sweeps *services.SecurityService,
	keys *services.APIKeyService,
	validate *security.ValidationService,
	eventRetention, loginLogRetention time.Duration,
) *AdminHandler {
	return &AdminHandler{
		siteRepo:          repository.NewSiteRepository(),
		pcRepo:            repository.NewPCRepository(),
		groupRepo:         repository.NewGroupRepository(),
		configRepo:        repository.NewConfigRepository(),
		jobRepo:           repository.NewJobRepository(),
		securityRepo:      repository.NewSecurityRepository(),
		wakeRepo:          repository.NewWakeRepository(),
		scripts:           scripts,
		policy:            policy,
		jobs:              jobs,
		sweeps:            sweeps,
		keys:              keys,
		validate:          validate,
		eventRetention:    eventRetention,
		loginLogRetention: loginLogRetention,
	}
}

// siteID returns the site the authenticated API key is scoped to.
func siteID(c *fiber.Ctx) int {
	id, _ := c.Locals(middleware.SiteIDLocal).(int)
	return id
}

// actingUser builds the key-scoped acting user. API keys are never
// superusers; they act as a site member named after the key.
func actingUser(c *fiber.Ctx) models.ActingUser {
	id := siteID(c)
	return models.ActingUser{Name: "api-key", SiteIDs: []int{id}}
}

func paramInt(c *fiber.Ctx, name string) (int, bool) {
	id, err := strconv.Atoi(c.Params(name))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func badParam(c *fiber.Ctx, name string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid " + name})
}

// ----------------------------------------------------------------------------
// Query surface
// ----------------------------------------------------------------------------

// ListPCs returns all PCs of the key's site.
func (h *AdminHandler) ListPCs(c *fiber.Ctx) error {
	pcs, err := h.pcRepo.ListBySite(c.Context(), siteID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"pcs": pcViews(pcs)})
}

// GetPC returns a single PC, including its effective group membership.
func (h *AdminHandler) GetPC(c *fiber.Ctx) error {
	id, ok := paramInt(c, "id")
	if !ok {
		return badParam(c, "pc id")
	}
	pc, err := h.pcRepo.GetByID(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	if pc == nil || pc.SiteID != siteID(c) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "pc not found"})
	}
	groupIDs, err := h.pcRepo.GroupIDsForPC(c.Context(), database.DB, pc.ID)
	if err != nil {
		return writeError(c, err)
	}
	view := pcView(*pc)
	view["group_ids"] = groupIDs
	return c.JSON(view)
}

// ListSecurityEvents returns the newest security events of the key's site.
func (h *AdminHandler) ListSecurityEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	events, err := h.securityRepo.ListEventsBySite(c.Context(), siteID(c), limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"events": eventViews(events)})
}

// GetSecurityEvent returns a single security event if it belongs to the
// key's site.
func (h *AdminHandler) GetSecurityEvent(c *fiber.Ctx) error {
	id, ok := paramInt(c, "id")
	if !ok {
		return badParam(c, "event id")
	}
	event, err := h.securityRepo.GetEventByID(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	if event == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "event not found"})
	}
	pc, err := h.pcRepo.GetByID(c.Context(), event.PCID)
	if err != nil {
		return writeError(c, err)
	}
	if pc == nil || pc.SiteID != siteID(c) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "event not found"})
	}
	return c.JSON(eventView(*event))
}

// GetSiteConfiguration returns the site-level configuration entries.
func (h *AdminHandler) GetSiteConfiguration(c *fiber.Ctx) error {
	site, err := h.siteRepo.GetByID(c.Context(), siteID(c))
	if err != nil {
		return writeError(c, err)
	}
	if site == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "site not found"})
	}
	entries, err := h.configRepo.ListEntries(c.Context(), site.ConfigurationID)
	if err != nil {
		return writeError(c, err)
	}
	config := make(map[string]string, len(entries))
	for _, e := range entries {
		config[e.Key] = e.Value
	}
	return c.JSON(fiber.Map{"configuration": config})
}

// ListJobs returns the newest jobs of the key's site.
func (h *AdminHandler) ListJobs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	jobs, err := h.jobRepo.ListBySite(c.Context(), siteID(c), limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"jobs": jobViews(jobs)})
}

// ListGroups returns the groups of the key's site.
func (h *AdminHandler) ListGroups(c *fiber.Ctx) error {
	groups, err := h.groupRepo.ListBySite(c.Context(), siteID(c))
	if err != nil {
		return writeError(c, err)
	}
	views := make([]fiber.Map, 0, len(groups))
	for _, g := range groups {
		views = append(views, fiber.Map{
			"id":           g.ID,
			"name":         g.Name,
			"description":  g.Description,
			"wake_plan_id": g.WakePlanID,
		})
	}
	return c.JSON(fiber.Map{"groups": views})
}

// ----------------------------------------------------------------------------
// Actions
// ----------------------------------------------------------------------------

// RunScript starts a script batch on a set of the site's PCs.
func (h *AdminHandler) RunScript(c *fiber.Ctx) error {
	var req struct {
		ScriptID  int      `json:"script_id"`
		PCIDs     []int    `json:"pc_ids"`
		Arguments []string `json:"arguments"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validate.ValidateScriptArgCount(len(req.Arguments)); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	batch, err := h.scripts.RunScriptOnPCs(c.Context(), actingUser(c), siteID(c), req.ScriptID, req.PCIDs, req.Arguments)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"batch_id":  batch.ID,
		"batch_uid": batch.UID,
	})
}

// ResolveJob moves a FAILED job to RESOLVED.
func (h *AdminHandler) ResolveJob(c *fiber.Ctx) error {
	id, ok := paramInt(c, "id")
	if !ok {
		return badParam(c, "job id")
	}
	if err := h.jobs.ResolveJob(c.Context(), actingUser(c), id); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"status": models.JobResolved})
}

// RestartJob resolves a FAILED job and schedules a fresh copy of it.
func (h *AdminHandler) RestartJob(c *fiber.Ctx) error {
	id, ok := paramInt(c, "id")
	if !ok {
		return badParam(c, "job id")
	}
	job, err := h.jobs.RestartJob(c.Context(), actingUser(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"job_id": job.ID, "status": job.Status})
}

// CreateGroup creates a new empty group in the key's site.
func (h *AdminHandler) CreateGroup(c *fiber.Ctx) error {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validate.ValidateGroupName(req.Name); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	group := &models.PCGroup{
		SiteID:      siteID(c),
		Name:        h.validate.SanitizeString(req.Name),
		Description: h.validate.SanitizeString(req.Description),
	}
	if err := h.groupRepo.Create(c.Context(), database.DB, group); err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": group.ID, "name": group.Name})
}

// DeleteGroup removes a group. Members fall back to site-level policy; no
// removal scripts run.
func (h *AdminHandler) DeleteGroup(c *fiber.Ctx) error {
	id, ok := paramInt(c, "id")
	if !ok {
		return badParam(c, "group id")
	}
	group, err := h.siteGroup(c, id)
	if err != nil {
		return err
	}
	if err := h.groupRepo.Delete(c.Context(), group.ID); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UpdateGroupMembers replaces the member set of a group and reconciles
// policy scripts and wake plans over the delta.
func (h *AdminHandler) UpdateGroupMembers(c *fiber.Ctx) error {
	id, ok := paramInt(c, "id")
	if !ok {
		return badParam(c, "group id")
	}
	var req struct {
		PCIDs []int `json:"pc_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	report, err := h.policy.UpdateGroupMembers(c.Context(), actingUser(c), id, req.PCIDs)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(report)
}

// AddPolicyScript appends a policy script slot to a group and runs it on the
// current members.
func (h *AdminHandler) AddPolicyScript(c *fiber.Ctx) error {
	id, ok := paramInt(c, "id")
	if !ok {
		return badParam(c, "group id")
	}
	var req struct {
		ScriptID   int            `json:"script_id"`
		Parameters map[int]string `json:"parameters"` // input id -> value
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	slot, err := h.policy.AddPolicyScript(c.Context(), actingUser(c), id, req.ScriptID, req.Parameters)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"slot_id": slot.ID, "position": slot.Position})
}

// RemovePolicyScript removes a policy slot; later slots close the gap.
func (h *AdminHandler) RemovePolicyScript(c *fiber.Ctx) error {
	groupID, ok := paramInt(c, "id")
	if !ok {
		return badParam(c, "group id")
	}
	slotID, ok := paramInt(c, "slot")
	if !ok {
		return badParam(c, "slot id")
	}
	if err := h.policy.RemovePolicyScript(c.Context(), actingUser(c), groupID, slotID); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ----------------------------------------------------------------------------
// Wake plans
// ----------------------------------------------------------------------------

// CreateWakePlan creates a new wake plan in the key's site.
func (h *AdminHandler) CreateWakePlan(c *fiber.Ctx) error {
	var req wakePlanRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	plan, err := req.toPlan(siteID(c), 0, h.validate)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := h.wakeRepo.Create(c.Context(), plan); err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": plan.ID})
}

// UpdateWakeSchedule replaces a plan's weekly schedule and re-pushes the new
// settings to every covered PC.
func (h *AdminHandler) UpdateWakeSchedule(c *fiber.Ctx) error {
	id, ok := paramInt(c, "id")
	if !ok {
		return badParam(c, "plan id")
	}
	var req wakePlanRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	plan, err := req.toPlan(siteID(c), id, h.validate)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	report, rerr := h.policy.UpdateWakeSchedule(c.Context(), actingUser(c), plan)
	if rerr != nil {
		return writeError(c, rerr)
	}
	return c.JSON(report)
}

// SetWakePlanEnabled flips a plan on or off, pushing or removing the wake
// settings on all covered PCs.
func (h *AdminHandler) SetWakePlanEnabled(c *fiber.Ctx) error {
	id, ok := paramInt(c, "id")
	if !ok {
		return badParam(c, "plan id")
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	report, err := h.policy.SetWakePlanEnabled(c.Context(), actingUser(c), id, req.Enabled)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(report)
}

// SetGroupWakePlan binds a plan to a group, or unbinds with a null plan id.
func (h *AdminHandler) SetGroupWakePlan(c *fiber.Ctx) error {
	id, ok := paramInt(c, "id")
	if !ok {
		return badParam(c, "group id")
	}
	var req struct {
		PlanID *int `json:"plan_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	report, err := h.policy.SetGroupWakePlan(c.Context(), actingUser(c), id, req.PlanID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(report)
}

// AttachChangeEvents attaches date-range exceptions to a wake plan.
// Candidates that overlap stored events or each other are rejected by name.
func (h *AdminHandler) AttachChangeEvents(c *fiber.Ctx) error {
	id, ok := paramInt(c, "id")
	if !ok {
		return badParam(c, "plan id")
	}
	var req struct {
		Events []struct {
			Name      string `json:"name"`
			DateStart string `json:"date_start"` // "2006-01-02"
			DateEnd   string `json:"date_end"`
			Closed    bool   `json:"closed"`
			AltOn     string `json:"alt_on"`
			AltOff    string `json:"alt_off"`
		} `json:"events"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	candidates := make([]models.WakeChangeEvent, 0, len(req.Events))
	for _, e := range req.Events {
		if err := h.validate.ValidateDateRange(e.DateStart, e.DateEnd); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		start, _ := time.Parse("2006-01-02", e.DateStart)
		end, _ := time.Parse("2006-01-02", e.DateEnd)
		candidates = append(candidates, models.WakeChangeEvent{
			Name:      h.validate.SanitizeString(e.Name),
			DateStart: start,
			DateEnd:   end,
			Closed:    e.Closed,
			AltOn:     e.AltOn,
			AltOff:    e.AltOff,
		})
	}

	accepted, rejected, err := h.policy.AttachChangeEvents(c.Context(), actingUser(c), id, candidates)
	if err != nil {
		return writeError(c, err)
	}
	names := make([]string, 0, len(accepted))
	for _, e := range accepted {
		names = append(names, e.Name)
	}
	return c.JSON(fiber.Map{"accepted": names, "rejected": rejected})
}

// ----------------------------------------------------------------------------
// Maintenance triggers and key management
// ----------------------------------------------------------------------------

// TriggerOfflineSweep runs the server-rule offline sweep once. Meant to be
// hit by an external timer.
func (h *AdminHandler) TriggerOfflineSweep(c *fiber.Ctx) error {
	created, err := h.sweeps.SweepOfflineRules(c.Context(), time.Now())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"events_created": created})
}

// TriggerRetentionCleanup deletes security events and login log rows older
// than the configured retention windows.
func (h *AdminHandler) TriggerRetentionCleanup(c *fiber.Ctx) error {
	events, logins, err := h.sweeps.CleanupRetention(c.Context(), time.Now(), h.eventRetention, h.loginLogRetention)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"events_deleted": events, "login_logs_deleted": logins})
}

// CreateAPIKey mints a new key for the caller's site. The plaintext token is
// returned exactly once.
func (h *AdminHandler) CreateAPIKey(c *fiber.Ctx) error {
	var req struct {
		Label string `json:"label"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	token, key, err := h.keys.Generate(c.Context(), siteID(c), h.validate.SanitizeString(req.Label))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"token":  token,
		"key_id": key.KeyID,
		"label":  key.Label,
	})
}

// siteGroup loads a group and enforces that it belongs to the key's site.
// The returned error, when non-nil, is a fully written fiber response.
func (h *AdminHandler) siteGroup(c *fiber.Ctx, groupID int) (*models.PCGroup, error) {
	group, err := h.groupRepo.GetByID(c.Context(), database.DB, groupID)
	if err != nil {
		return nil, writeError(c, err)
	}
	if group == nil || group.SiteID != siteID(c) {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "group not found"})
	}
	return group, nil
}

// ----------------------------------------------------------------------------
// View shaping
// ----------------------------------------------------------------------------

func pcView(pc models.PC) fiber.Map {
	return fiber.Map{
		"id":           pc.ID,
		"uid":          pc.UID,
		"name":         pc.Name,
		"mac":          pc.MAC,
		"is_activated": pc.IsActivated,
		"last_seen":    pc.LastSeen,
		"created_at":   pc.CreatedAt,
	}
}

func pcViews(pcs []models.PC) []fiber.Map {
	views := make([]fiber.Map, 0, len(pcs))
	for _, pc := range pcs {
		views = append(views, pcView(pc))
	}
	return views
}

func eventView(e models.SecurityEvent) fiber.Map {
	return fiber.Map{
		"id":            e.ID,
		"problem_id":    e.ProblemID,
		"pc_id":         e.PCID,
		"occurred_time": e.OccurredTime,
		"reported_time": e.ReportedTime,
		"summary":       e.Summary,
		"status":        e.Status,
		"note":          e.Note,
	}
}

func eventViews(events []models.SecurityEvent) []fiber.Map {
	views := make([]fiber.Map, 0, len(events))
	for _, e := range events {
		views = append(views, eventView(e))
	}
	return views
}

func jobViews(jobs []models.Job) []fiber.Map {
	views := make([]fiber.Map, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, fiber.Map{
			"id":         j.ID,
			"batch_id":   j.BatchID,
			"pc_id":      j.PCID,
			"status":     j.Status,
			"started":    j.Started,
			"finished":   j.Finished,
			"created_at": j.CreatedAt,
		})
	}
	return views
}

// wakePlanRequest is the JSON shape shared by plan creation and schedule
// updates. Days run Monday through Sunday.
type wakePlanRequest struct {
	Name       string `json:"name"`
	SleepState string `json:"sleep_state"`
	Enabled    bool   `json:"enabled"`
	Days       []struct {
		Open bool   `json:"open"`
		On   string `json:"on"`
		Off  string `json:"off"`
	} `json:"days"`
}

func (r wakePlanRequest) toPlan(siteID, planID int, v *security.ValidationService) (*models.WakeWeekPlan, error) {
	plan := &models.WakeWeekPlan{
		ID:         planID,
		SiteID:     siteID,
		Name:       v.SanitizeString(r.Name),
		Enabled:    r.Enabled,
		SleepState: r.SleepState,
	}
	switch r.SleepState {
	case models.SleepStateOff, models.SleepStateSuspend, models.SleepStateHibernate:
	default:
		return nil, &models.ValidationError{Field: "sleep_state", Reason: "unknown sleep state"}
	}
	if len(r.Days) != 7 {
		return nil, &models.ValidationError{Field: "days", Reason: "expected 7 entries, monday through sunday"}
	}
	for i, d := range r.Days {
		if d.Open {
			if err := v.ValidateClockTime(d.On); err != nil {
				return nil, err
			}
			if err := v.ValidateClockTime(d.Off); err != nil {
				return nil, err
			}
		}
		plan.Days[i] = models.WakeDay{Open: d.Open, On: d.On, Off: d.Off}
	}
	return plan, nil
}
