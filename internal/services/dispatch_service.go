package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/repository"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/security"
	"github.com/jackc/pgx/v5"
)

// DispatchService implements the pull protocol spoken by the managed PCs:
// registration, status reporting, instruction delivery, and configuration
// push-back. Unknown PCs are hard errors; registered-but-unactivated PCs get
// neutral empty responses so a pending device cannot probe its own state.
type DispatchService struct {
	siteRepo   *repository.SiteRepository
	pcRepo     *repository.PCRepository
	configRepo *repository.ConfigRepository
	jobRepo    *repository.JobRepository
	scriptRepo *repository.ScriptRepository
	logger     *security.Logger
}

// NewDispatchService creates a new instance of DispatchService.
func NewDispatchService(logger *security.Logger) *DispatchService {
	return &DispatchService{
		siteRepo:   repository.NewSiteRepository(),
		pcRepo:     repository.NewPCRepository(),
		configRepo: repository.NewConfigRepository(),
		jobRepo:    repository.NewJobRepository(),
		scriptRepo: repository.NewScriptRepository(),
		logger:     logger,
	}
}

// PCUIDFromMAC derives the immutable PC uid from a MAC address.
func PCUIDFromMAC(mac string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(mac))))
	return hex.EncodeToString(sum[:])
}

// RegisterNewComputer registers a PC under the given site and returns its
// uid. The uid is derived from the MAC, so a second registration of the same
// hardware fails with a ValidationError naming the existing PC. The supplied
// configuration snapshot is stored as the PC's own config bag, minus the
// mac/uid keys, which are PC attributes rather than configuration.
func (s *DispatchService) RegisterNewComputer(ctx context.Context, mac, name, siteUID string, config map[string]string) (string, error) {
	site, err := s.siteRepo.GetByUID(ctx, siteUID)
	if err != nil {
		return "", err
	}
	if site == nil {
		return "", models.NotFound("site", siteUID)
	}

	uid := PCUIDFromMAC(mac)
	if config == nil {
		config = map[string]string{}
	}

	existing, err := s.pcRepo.GetByUID(ctx, uid)
	if err != nil {
		return "", err
	}
	if existing != nil {
		s.logger.SecurityEvent(security.EventDuplicateRegistration, nil, "", "", "",
			map[string]interface{}{"mac": mac, "existing_pc": existing.Name})
		return "", models.Invalid("mac", fmt.Sprintf("a PC with this MAC is already registered as %q", existing.Name))
	}

	// os2_product identifies the client product line. Clients older than the
	// key's introduction do not send it; they are the plain product.
	if config["os2_product"] == "" {
		config["os2_product"] = "os2borgerpc"
	}

	err = database.WithTransaction(ctx, func(tx pgx.Tx) error {
		pc := &models.PC{UID: uid, Name: name, MAC: mac, SiteID: site.ID}
		if err := s.pcRepo.Create(ctx, tx, pc); err != nil {
			return fmt.Errorf("create pc: %w", err)
		}

		for key, value := range config {
			if key == "mac" || key == "uid" {
				continue
			}
			if err := s.configRepo.UpsertEntry(ctx, tx, pc.ConfigurationID, key, value); err != nil {
				return fmt.Errorf("store config key %q: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.SecurityEvent(security.EventPCRegistered, nil, "", "", "",
		map[string]interface{}{"pc_uid": uid, "site": siteUID})
	return uid, nil
}

// JobUpdate is one job status report from a PC.
type JobUpdate struct {
	ID        int        `json:"id"`
	Status    string     `json:"status"`
	Started   *time.Time `json:"started,omitempty"`
	Finished  *time.Time `json:"finished,omitempty"`
	LogOutput string     `json:"log_output"`
}

// SendStatusInfo applies a batch of job status reports from a PC and bumps
// its last_seen. Unknown job ids and disallowed transitions are skipped, so
// replayed reports stay harmless. Returns 0 per protocol; unactivated PCs
// no-op.
func (s *DispatchService) SendStatusInfo(ctx context.Context, pcUID string, updates []JobUpdate) (int, error) {
	pc, err := s.pcRepo.GetByUID(ctx, pcUID)
	if err != nil {
		return 0, err
	}
	if pc == nil {
		return 0, models.NotFound("pc", pcUID)
	}

	if err := s.pcRepo.UpdateLastSeen(ctx, pc.ID, time.Now()); err != nil {
		return 0, err
	}
	if !pc.IsActivated {
		return 0, nil
	}

	for _, u := range updates {
		applied, err := s.jobRepo.ApplyStatusReport(ctx, u.ID, u.Status, u.Started, u.Finished, u.LogOutput)
		if err != nil {
			return 0, err
		}
		if !applied {
			s.logger.Warnf("status report for pc %s skipped: job %d unknown or transition to %s not allowed", pcUID, u.ID, u.Status)
		}
	}
	return 0, nil
}

// SecurityScript is one detection script handed to a PC, with the rule id
// substituted into the payload so resulting events correlate back to it.
type SecurityScript struct {
	Name           string `json:"name"`
	ExecutableCode string `json:"executable_code"`
}

// Instruction is one dispatched job as seen by the PC.
type Instruction struct {
	ID         int      `json:"id"`
	BatchUID   string   `json:"batch_uid"`
	Name       string   `json:"name"`
	Executable string   `json:"executable_code"`
	Parameters []string `json:"parameters"`
}

// Instructions is the full get_instructions response.
type Instructions struct {
	Jobs            []Instruction     `json:"jobs"`
	Configuration   map[string]string `json:"configuration"`
	SecurityScripts []SecurityScript  `json:"security_scripts"`
}

// GetInstructions hands a PC everything it needs for one poll cycle: its
// pending jobs (each NEW job flipped to SUBMITTED in the same transaction,
// ordered by creation), the fully resolved configuration, and the currently
// applicable security detection scripts. Unknown PC is an error; an
// unactivated PC gets an empty Instructions value.
func (s *DispatchService) GetInstructions(ctx context.Context, pcUID string) (*Instructions, error) {
	pc, err := s.pcRepo.GetByUID(ctx, pcUID)
	if err != nil {
		return nil, err
	}
	if pc == nil {
		return nil, models.NotFound("pc", pcUID)
	}

	if err := s.pcRepo.UpdateLastSeen(ctx, pc.ID, time.Now()); err != nil {
		return nil, err
	}

	out := &Instructions{
		Jobs:            []Instruction{},
		Configuration:   map[string]string{},
		SecurityScripts: []SecurityScript{},
	}
	if !pc.IsActivated {
		return out, nil
	}

	err = database.WithTransaction(ctx, func(tx pgx.Tx) error {
		handed, err := s.jobRepo.LockNewForPC(ctx, tx, pc.ID)
		if err != nil {
			return err
		}
		if len(handed) > 0 {
			ids := make([]int, len(handed))
			for i, j := range handed {
				ids[i] = j.JobID
			}
			if err := s.jobRepo.MarkSubmitted(ctx, tx, ids); err != nil {
				return err
			}
		}
		for _, j := range handed {
			out.Jobs = append(out.Jobs, Instruction{
				ID:         j.JobID,
				BatchUID:   j.BatchUID,
				Name:       j.ScriptName,
				Executable: j.ExecutableCode,
				Parameters: j.Parameters,
			})
		}

		layers, err := s.configRepo.LayersForPC(ctx, tx, pc)
		if err != nil {
			return err
		}
		out.Configuration = models.ResolveEffectiveConfig(layers)
		return nil
	})
	if err != nil {
		return nil, err
	}

	detections, err := s.scriptRepo.SecurityScriptsForPC(ctx, pc)
	if err != nil {
		return nil, err
	}
	for _, d := range detections {
		out.SecurityScripts = append(out.SecurityScripts, SecurityScript{
			Name:           d.Name,
			ExecutableCode: strings.ReplaceAll(d.ExecutableCode, models.SecurityProblemUIDToken, strconv.Itoa(d.ProblemID)),
		})
	}

	pollsServed.Inc()
	jobsDispatched.Add(float64(len(out.Jobs)))
	return out, nil
}

// PushConfigKeys stores PC-reported configuration values. A key whose value
// is already supplied by an ancestor layer (site or group) drops any
// PC-local override instead of duplicating it; everything else becomes a
// PC-local entry. Unactivated PCs no-op and return false.
func (s *DispatchService) PushConfigKeys(ctx context.Context, pcUID string, config map[string]string) (bool, error) {
	pc, err := s.pcRepo.GetByUID(ctx, pcUID)
	if err != nil {
		return false, err
	}
	if pc == nil {
		return false, models.NotFound("pc", pcUID)
	}
	if !pc.IsActivated {
		return false, nil
	}

	err = database.WithTransaction(ctx, func(tx pgx.Tx) error {
		layers, err := s.configRepo.LayersForPC(ctx, tx, pc)
		if err != nil {
			return err
		}
		// Everything below the PC's own bag.
		ancestors := models.ResolveEffectiveConfig(layers[:len(layers)-1])

		for key, value := range config {
			if inherited, ok := ancestors[key]; ok && inherited == value {
				if err := s.configRepo.RemoveEntry(ctx, tx, pc.ConfigurationID, key); err != nil {
					return err
				}
				continue
			}
			if err := s.configRepo.UpsertEntry(ctx, tx, pc.ConfigurationID, key, value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
