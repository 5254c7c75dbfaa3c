// Package models defines the domain entities and core domain logic for the
// OS2borgerPC admin backend. It includes database models mapped to PostgreSQL
// tables, the job and citizen state machines, and the configuration layering
// rules that decide what each managed PC receives on poll.
package models

import "time"

// OnlineWindow is how recently a PC must have polled to count as online.
const OnlineWindow = 5 * time.Minute

// ============================================================================
// Topology (Site, PCGroup, PC)
// ============================================================================

// Site represents one tenant installation owning PCs, groups, scripts and
// configuration. The uid is an immutable lowercase slug used by remote PCs
// when registering.
//
// Database Table: sites
// Related: Configuration (one-to-one, owned), PC and PCGroup (one-to-many)
type Site struct {
	ID                 int       `db:"id"`                  // Primary key
	UID                string    `db:"uid"`                 // Unique lowercase slug, immutable
	Name               string    `db:"name"`                // Display name
	ConfigurationID    int       `db:"configuration_id"`    // Owned Configuration
	LoginDuration      int       `db:"login_duration"`      // Citizen login window, minutes
	QuarantineDuration int       `db:"quarantine_duration"` // Citizen quarantine, minutes
	CreatedAt          time.Time `db:"created_at"`
}

// PCGroup is a named collection of PCs within a Site. A group optionally
// carries an ordered script policy and at most one wake plan.
//
// Database Table: pc_groups
// Related: Site (many-to-one), PC (many-to-many via pc_group_members),
// AssociatedScript (ordered policy), WakeWeekPlan (optional)
type PCGroup struct {
	ID              int       `db:"id"`
	SiteID          int       `db:"site_id"`
	Name            string    `db:"name"`
	Description     string    `db:"description"`
	ConfigurationID int       `db:"configuration_id"` // Owned Configuration
	WakePlanID      *int      `db:"wake_plan_id"`     // Optional bound WakeWeekPlan
	CreatedAt       time.Time `db:"created_at"`
}

// PC is one managed endpoint device. Its uid is derived from the MAC address
// at registration time and never changes. A PC stays inactive until an admin
// approves it; inactive PCs receive no jobs or configuration.
//
// Database Table: pcs
type PC struct {
	ID              int        `db:"id"`
	UID             string     `db:"uid"` // md5 hex of the MAC address, unique
	Name            string     `db:"name"`
	MAC             string     `db:"mac"`
	SiteID          int        `db:"site_id"`
	ConfigurationID int        `db:"configuration_id"` // Owned Configuration
	IsActivated     bool       `db:"is_activated"`
	LastSeen        *time.Time `db:"last_seen"`
	CreatedAt       time.Time  `db:"created_at"`
}

// IsOnline reports whether the PC has polled within OnlineWindow of now.
func (p *PC) IsOnline(now time.Time) bool {
	return p.LastSeen != nil && now.Sub(*p.LastSeen) <= OnlineWindow
}

// ============================================================================
// Configuration
// ============================================================================

// Configuration is a named key/value bag owned by exactly one Site, PCGroup
// or PC. Entries are only mutated through the owning entity's operations.
//
// Database Table: configurations
type Configuration struct {
	ID   int    `db:"id"`
	Name string `db:"name"` // Unique; sites reuse by site name, groups by "Group: "+name
}

// ConfigurationEntry is one key/value pair inside a Configuration.
//
// Database Table: configuration_entries
type ConfigurationEntry struct {
	ID              int    `db:"id"`
	ConfigurationID int    `db:"configuration_id"`
	Key             string `db:"key"`
	Value           string `db:"value"`
}

// ============================================================================
// Acting user and authorization
// ============================================================================

// ActingUser identifies who is performing an admin operation. It is passed
// explicitly into every core operation instead of living in ambient request
// state.
type ActingUser struct {
	ID          int
	Name        string
	IsSuperuser bool
	SiteIDs     []int // Sites the user is a member of
}

// CanAccess reports whether the user may operate on the given site.
// Superusers may operate on any site.
func (u ActingUser) CanAccess(siteID int) bool {
	if u.IsSuperuser {
		return true
	}
	for _, id := range u.SiteIDs {
		if id == siteID {
			return true
		}
	}
	return false
}

// APIKey is a per-site key for the external admin query surface. The secret
// is stored as a bcrypt hash; KeyID is the public lookup half.
//
// Database Table: api_keys
type APIKey struct {
	ID         int       `db:"id"`
	SiteID     int       `db:"site_id"`
	KeyID      string    `db:"key_id"`      // Public half, uuid
	SecretHash string    `db:"secret_hash"` // bcrypt hash of the secret half
	Label      string    `db:"label"`
	CreatedAt  time.Time `db:"created_at"`
}
