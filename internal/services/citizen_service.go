package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/repository"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/security"
	"github.com/jackc/pgx/v5"
)

// CredentialValidator checks citizen credentials against the site's external
// identity backend. A successful validation returns the stable identity
// string the quarantine state is keyed on; an empty identity means the
// credentials were rejected.
type CredentialValidator interface {
	Validate(ctx context.Context, username, password string, site *models.Site) (identity string, err error)
}

// BookingClient consults the site's external booking system. quarantinedFrom
// tells the booking side when the citizen's current login window ends so it
// can reconcile idle logins with the quarantine state.
type BookingClient interface {
	// CheckBooking returns the minutes the citizen may stay logged in (zero
	// denies) plus an optional note code passed through to the kiosk.
	CheckBooking(ctx context.Context, identity string, site *models.Site, quarantinedFrom time.Time, allowIdle bool) (minutes int, note string, err error)
}

// CitizenService is the login/logout surface for public kiosks: the
// quarantine window state machine, an optional booking integration, and the
// LoginLog audit trail. Per-citizen state updates serialize on a row lock so
// two kiosks racing the same identity cannot both win a login window.
type CitizenService struct {
	pcRepo      *repository.PCRepository
	siteRepo    *repository.SiteRepository
	citizenRepo *repository.CitizenRepository
	validator   CredentialValidator
	booking     BookingClient
	logger      *security.Logger
}

// NewCitizenService creates a new instance of CitizenService. booking may be
// nil when no booking integration is configured; general_citizen_login then
// behaves like the plain quarantine login.
func NewCitizenService(validator CredentialValidator, booking BookingClient, logger *security.Logger) *CitizenService {
	return &CitizenService{
		pcRepo:      repository.NewPCRepository(),
		siteRepo:    repository.NewSiteRepository(),
		citizenRepo: repository.NewCitizenRepository(),
		validator:   validator,
		booking:     booking,
		logger:      logger,
	}
}

// HashIdentity derives the stored citizen key from the external identity.
// Only the hash ever touches the database.
func HashIdentity(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])
}

// LoginResult is what the kiosk receives: the signed minutes value and the
// note code explaining a denial.
type LoginResult struct {
	TimeAllowed int    `json:"time"`
	Note        string `json:"note,omitempty"`
}

// sitePC resolves the calling PC and its site; the neutral LoginResult for
// unactivated PCs is handled by each caller.
func (s *CitizenService) sitePC(ctx context.Context, pcUID string) (*models.PC, *models.Site, error) {
	pc, err := s.pcRepo.GetByUID(ctx, pcUID)
	if err != nil {
		return nil, nil, err
	}
	if pc == nil {
		return nil, nil, models.NotFound("pc", pcUID)
	}
	site, err := s.siteRepo.GetByID(ctx, pc.SiteID)
	if err != nil {
		return nil, nil, err
	}
	if site == nil {
		return nil, nil, models.NotFound("site", pc.SiteID)
	}
	return pc, site, nil
}

// validate runs the external credential check, wrapping transport failures
// as transient. An empty identity is a plain rejection, not an error.
func (s *CitizenService) validate(ctx context.Context, username, password string, site *models.Site) (string, error) {
	identity, err := s.validator.Validate(ctx, username, password, site)
	if err != nil {
		terr := &models.TransientExternalError{Op: "credential validation", Err: err}
		s.logger.Error(terr.Error(), err)
		return "", terr
	}
	return identity, nil
}

// applyQuarantine evaluates and, when the decision allows the login, commits
// the state change under a per-citizen row lock within one transaction.
func (s *CitizenService) applyQuarantine(ctx context.Context, site *models.Site, citizenHash string, now time.Time) (models.QuarantineDecision, error) {
	var decision models.QuarantineDecision

	err := database.WithTransaction(ctx, func(tx pgx.Tx) error {
		citizen, err := s.citizenRepo.GetForUpdate(ctx, tx, citizenHash, site.ID)
		if err != nil {
			return err
		}

		decision = models.EvaluateQuarantine(now, citizen, site.LoginDuration, site.QuarantineDuration)
		if !decision.Allowed() {
			return nil
		}

		updated := &models.Citizen{
			CitizenHash: citizenHash,
			SiteID:      site.ID,
			LoggedIn:    true,
		}
		if decision.RefreshWindow || citizen == nil || citizen.LastSuccessfulLogin == nil {
			updated.LastSuccessfulLogin = &now
		} else {
			updated.LastSuccessfulLogin = citizen.LastSuccessfulLogin
		}
		if err := s.citizenRepo.Upsert(ctx, tx, updated); err != nil {
			return err
		}

		return s.citizenRepo.InsertLoginLog(ctx, tx, &models.LoginLog{
			CitizenHash: citizenHash,
			SiteID:      site.ID,
			LoginTime:   now,
		})
	})
	if err != nil {
		return models.QuarantineDecision{}, err
	}
	return decision, nil
}

// Login is the direct credential-validated login (citizen_login): validate
// against the external backend, then run the quarantine state machine.
func (s *CitizenService) Login(ctx context.Context, username, password, pcUID string) (*LoginResult, error) {
	now := time.Now()

	pc, site, err := s.sitePC(ctx, pcUID)
	if err != nil {
		return nil, err
	}
	if !pc.IsActivated {
		return &LoginResult{}, nil
	}

	identity, err := s.validate(ctx, username, password, site)
	if err != nil {
		return &LoginResult{}, nil // transient failure reads as a denial
	}
	if identity == "" {
		s.logger.SecurityEvent(security.EventCitizenLoginFailure, nil, "", "", "",
			map[string]interface{}{"pc_uid": pcUID, "site": site.UID})
		recordLoginOutcome(0)
		return &LoginResult{}, nil
	}

	decision, err := s.applyQuarantine(ctx, site, HashIdentity(identity), now)
	if err != nil {
		return nil, err
	}
	recordLoginOutcome(decision.TimeAllowed)
	return &LoginResult{TimeAllowed: decision.TimeAllowed, Note: decision.Note}, nil
}

// GeneralLogin is the booking-integrated login (general_citizen_login). When
// a booking client is configured the booking system decides the granted
// minutes; the quarantine state still gates idle (non-booked) logins via the
// quarantined_from instant handed to the booking check. Without a booking
// client this is exactly Login.
func (s *CitizenService) GeneralLogin(ctx context.Context, username, password, pcUID string, allowIdle bool) (*LoginResult, error) {
	if s.booking == nil {
		return s.Login(ctx, username, password, pcUID)
	}

	now := time.Now()

	pc, site, err := s.sitePC(ctx, pcUID)
	if err != nil {
		return nil, err
	}
	if !pc.IsActivated {
		return &LoginResult{}, nil
	}

	identity, err := s.validate(ctx, username, password, site)
	if err != nil {
		return &LoginResult{}, nil
	}
	if identity == "" {
		s.logger.SecurityEvent(security.EventCitizenLoginFailure, nil, "", "", "",
			map[string]interface{}{"pc_uid": pcUID, "site": site.UID})
		recordLoginOutcome(0)
		return &LoginResult{}, nil
	}
	citizenHash := HashIdentity(identity)

	// Peek at the quarantine state without committing anything; the booking
	// system needs quarantined_from to reconcile idle logins.
	var peek models.QuarantineDecision
	err = database.WithTransaction(ctx, func(tx pgx.Tx) error {
		citizen, err := s.citizenRepo.GetForUpdate(ctx, tx, citizenHash, site.ID)
		if err != nil {
			return err
		}
		peek = models.EvaluateQuarantine(now, citizen, site.LoginDuration, site.QuarantineDuration)
		return nil
	})
	if err != nil {
		return nil, err
	}

	minutes, note, err := s.booking.CheckBooking(ctx, identity, site, peek.QuarantinedFrom, allowIdle)
	if err != nil {
		terr := &models.TransientExternalError{Op: "booking check", Err: err}
		s.logger.Error(terr.Error(), err)
		recordLoginOutcome(0)
		return &LoginResult{}, nil
	}
	if minutes <= 0 {
		recordLoginOutcome(minutes)
		return &LoginResult{TimeAllowed: minutes, Note: note}, nil
	}

	// Booked (or permitted idle) login: commit the quarantine state so a
	// later idle attempt inside the window sees it, then grant the booked
	// minutes rather than the window remainder.
	decision, err := s.applyQuarantine(ctx, site, citizenHash, now)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed() {
		recordLoginOutcome(decision.TimeAllowed)
		return &LoginResult{TimeAllowed: decision.TimeAllowed, Note: decision.Note}, nil
	}
	recordLoginOutcome(minutes)
	return &LoginResult{TimeAllowed: minutes, Note: note}, nil
}

// SMSLogin starts a phone-number login (sms_login): it evaluates the
// quarantine state for the hashed number without committing, so the kiosk
// knows whether to bother sending the confirmation SMS.
func (s *CitizenService) SMSLogin(ctx context.Context, phoneNumber, pcUID string) (*LoginResult, error) {
	now := time.Now()

	pc, site, err := s.sitePC(ctx, pcUID)
	if err != nil {
		return nil, err
	}
	if !pc.IsActivated {
		return &LoginResult{}, nil
	}

	citizenHash := HashIdentity(phoneNumber)

	var decision models.QuarantineDecision
	err = database.WithTransaction(ctx, func(tx pgx.Tx) error {
		citizen, err := s.citizenRepo.GetForUpdate(ctx, tx, citizenHash, site.ID)
		if err != nil {
			return err
		}
		decision = models.EvaluateQuarantine(now, citizen, site.LoginDuration, site.QuarantineDuration)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &LoginResult{TimeAllowed: decision.TimeAllowed, Note: decision.Note}, nil
}

// SMSLoginFinalize completes a phone-number login after the kiosk has
// confirmed the SMS challenge: the quarantine decision is re-evaluated and,
// if still allowed, committed.
func (s *CitizenService) SMSLoginFinalize(ctx context.Context, phoneNumber, pcUID string) (*LoginResult, error) {
	now := time.Now()

	pc, site, err := s.sitePC(ctx, pcUID)
	if err != nil {
		return nil, err
	}
	if !pc.IsActivated {
		return &LoginResult{}, nil
	}

	decision, err := s.applyQuarantine(ctx, site, HashIdentity(phoneNumber), now)
	if err != nil {
		return nil, err
	}
	recordLoginOutcome(decision.TimeAllowed)
	return &LoginResult{TimeAllowed: decision.TimeAllowed, Note: decision.Note}, nil
}

// Logout clears the logged_in flag for the identity and stamps the logout
// time on the latest open LoginLog entry. Used by citizen_logout,
// sms_logout and general_citizen_logout, which differ only in how the
// identity reached the kiosk.
func (s *CitizenService) Logout(ctx context.Context, identity, pcUID string) error {
	now := time.Now()

	pc, site, err := s.sitePC(ctx, pcUID)
	if err != nil {
		return err
	}
	if !pc.IsActivated {
		return nil
	}

	citizenHash := HashIdentity(identity)
	if err := s.citizenRepo.SetLoggedOut(ctx, citizenHash, site.ID); err != nil {
		return err
	}
	return s.citizenRepo.CloseLatestLoginLog(ctx, citizenHash, site.ID, now)
}
