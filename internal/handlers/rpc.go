// Package handlers implements the HTTP request handlers for the admin
// backend: the pull-protocol surface spoken by the managed PCs and the
// API-key-scoped admin surface.
package handlers

import (
	"errors"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/security"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/services"
	"github.com/gofiber/fiber/v2"
)

// RPCHandler serves the pull protocol called by each managed PC. All
// endpoints are JSON POST; the PC identifies itself by its uid in the body.
type RPCHandler struct {
	dispatch   *services.DispatchService
	events     *services.SecurityService
	citizens   *services.CitizenService
	validation *security.ValidationService
}

// NewRPCHandler creates a new instance of RPCHandler.
func NewRPCHandler(dispatch *services.DispatchService, events *services.SecurityService, citizens *services.CitizenService, validation *security.ValidationService) *RPCHandler {
	return &RPCHandler{
		dispatch:   dispatch,
		events:     events,
		citizens:   citizens,
		validation: validation,
	}
}

// writeError maps domain errors onto HTTP statuses with a JSON body.
func writeError(c *fiber.Ctx, err error) error {
	var (
		notFound  *models.NotFoundError
		invalid   *models.ValidationError
		badState  *models.DomainStateError
		transient *models.TransientExternalError
	)
	switch {
	case errors.As(err, &notFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": notFound.Error()})
	case errors.As(err, &invalid):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": invalid.Error()})
	case errors.As(err, &badState):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": badState.Error()})
	case errors.As(err, &transient):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": transient.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}

// RegisterNewComputer handles register_new_computer_v2.
func (h *RPCHandler) RegisterNewComputer(c *fiber.Ctx) error {
	var req struct {
		MAC           string            `json:"mac"`
		Name          string            `json:"name"`
		SiteUID       string            `json:"site_uid"`
		Configuration map[string]string `json:"configuration"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validation.ValidateMAC(req.MAC); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := h.validation.ValidateSiteUID(req.SiteUID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := h.validation.ValidateRequired("name", req.Name); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	uid, err := h.dispatch.RegisterNewComputer(c.Context(), req.MAC, req.Name, req.SiteUID, req.Configuration)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"pc_uid": uid})
}

// SendStatusInfo handles send_status_info_v2.
func (h *RPCHandler) SendStatusInfo(c *fiber.Ctx) error {
	var req struct {
		PCUID      string               `json:"pc_uid"`
		JobUpdates []services.JobUpdate `json:"job_updates"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	result, err := h.dispatch.SendStatusInfo(c.Context(), req.PCUID, req.JobUpdates)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

// GetInstructions handles get_instructions.
func (h *RPCHandler) GetInstructions(c *fiber.Ctx) error {
	var req struct {
		PCUID string `json:"pc_uid"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	instructions, err := h.dispatch.GetInstructions(c.Context(), req.PCUID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(instructions)
}

// PushConfigKeys handles push_config_keys.
func (h *RPCHandler) PushConfigKeys(c *fiber.Ctx) error {
	var req struct {
		PCUID  string            `json:"pc_uid"`
		Config map[string]string `json:"config"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validation.ValidateConfigKeyCount(len(req.Config)); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	stored, err := h.dispatch.PushConfigKeys(c.Context(), req.PCUID, req.Config)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(stored)
}

// PushSecurityEvents handles push_security_events.
func (h *RPCHandler) PushSecurityEvents(c *fiber.Ctx) error {
	var req struct {
		PCUID  string   `json:"pc_uid"`
		Events []string `json:"events"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validation.ValidateEventLineCount(len(req.Events)); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	result, err := h.events.PushSecurityEvents(c.Context(), req.PCUID, req.Events)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

type citizenLoginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	PCUID     string `json:"pc_uid"`
	AllowIdle bool   `json:"allow_idle_login"`
}

// CitizenLogin handles citizen_login.
func (h *RPCHandler) CitizenLogin(c *fiber.Ctx) error {
	var req citizenLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	result, err := h.citizens.Login(c.Context(), req.Username, req.Password, req.PCUID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

// GeneralCitizenLogin handles general_citizen_login.
func (h *RPCHandler) GeneralCitizenLogin(c *fiber.Ctx) error {
	var req citizenLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	result, err := h.citizens.GeneralLogin(c.Context(), req.Username, req.Password, req.PCUID, req.AllowIdle)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

type smsRequest struct {
	PhoneNumber string `json:"phone_number"`
	PCUID       string `json:"pc_uid"`
}

// SMSLogin handles sms_login.
func (h *RPCHandler) SMSLogin(c *fiber.Ctx) error {
	var req smsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	result, err := h.citizens.SMSLogin(c.Context(), req.PhoneNumber, req.PCUID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

// SMSLoginFinalize handles sms_login_finalize.
func (h *RPCHandler) SMSLoginFinalize(c *fiber.Ctx) error {
	var req smsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	result, err := h.citizens.SMSLoginFinalize(c.Context(), req.PhoneNumber, req.PCUID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

type logoutRequest struct {
	Username    string `json:"username"`
	PhoneNumber string `json:"phone_number"`
	PCUID       string `json:"pc_uid"`
}

func (r logoutRequest) identity() string {
	if r.Username != "" {
		return r.Username
	}
	return r.PhoneNumber
}

// CitizenLogout handles citizen_logout, sms_logout and
// general_citizen_logout; the three differ only in which identity field the
// kiosk sends.
func (h *RPCHandler) CitizenLogout(c *fiber.Ctx) error {
	var req logoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := h.citizens.Logout(c.Context(), req.identity(), req.PCUID); err != nil {
		return writeError(c, err)
	}
	return c.JSON(0)
}
