// Citizen login quarantine state machine for public-access kiosks.
package models

import "time"

// Notes attached to a denied login decision.
const (
	NoteLoggedIn    = "logged_in"  // Already logged in elsewhere inside the window
	NoteQuarantined = "quarantine" // Inside the quarantine period
)

// Citizen tracks the quarantine state for one hashed citizen identity on one
// Site. The identity itself is never stored, only its hash.
//
// Database Table: citizens (unique per citizen_hash+site)
type Citizen struct {
	ID                  int        `db:"id"`
	CitizenHash         string     `db:"citizen_hash"`
	SiteID              int        `db:"site_id"`
	LastSuccessfulLogin *time.Time `db:"last_successful_login"`
	LoggedIn            bool       `db:"logged_in"`
}

// LoginLog is an append-only audit record of kiosk logins, independent of
// the Citizen quarantine row.
//
// Database Table: login_logs
type LoginLog struct {
	ID          int        `db:"id"`
	CitizenHash string     `db:"citizen_hash"`
	SiteID      int        `db:"site_id"`
	LoginTime   time.Time  `db:"login_time"`
	LogoutTime  *time.Time `db:"logout_time"`
}

// QuarantineDecision is the outcome of evaluating a login attempt against
// the quarantine state machine. TimeAllowed carries the sign convention the
// callers rely on: positive means "allowed for N minutes", negative means
// "denied, unlocked in -N minutes", zero means denied outright.
type QuarantineDecision struct {
	TimeAllowed     int       // Minutes, signed as described above
	Note            string    // Empty when allowed, otherwise NoteLoggedIn or NoteQuarantined
	RefreshWindow   bool      // Caller must reset last_successful_login to now
	QuarantinedFrom time.Time // Instant the (current or fresh) login window ends
}

// Allowed reports whether the login may proceed.
func (d QuarantineDecision) Allowed() bool { return d.TimeAllowed > 0 }

// EvaluateQuarantine runs the login window arithmetic for one attempt. The
// caller computes now exactly once per request and passes it in so every
// comparison in the request sees the same clock.
//
// States, with W = loginMinutes and Q = quarantineMinutes measured from
// last_successful_login:
//   - no prior login, or elapsed >= W+Q: fresh window, allowed the full W
//     minutes, last_successful_login resets to now
//   - elapsed < W and not logged in: allowed the remaining W-elapsed minutes
//   - elapsed < W and logged in: denied with zero and NoteLoggedIn
//   - W <= elapsed < W+Q: denied, TimeAllowed is the negated minutes until
//     the quarantine elapses
func EvaluateQuarantine(now time.Time, c *Citizen, loginMinutes, quarantineMinutes int) QuarantineDecision {
	window := time.Duration(loginMinutes) * time.Minute
	total := window + time.Duration(quarantineMinutes)*time.Minute

	if c == nil || c.LastSuccessfulLogin == nil || now.Sub(*c.LastSuccessfulLogin) >= total {
		return QuarantineDecision{
			TimeAllowed:     loginMinutes,
			RefreshWindow:   true,
			QuarantinedFrom: now.Add(window),
		}
	}

	elapsed := now.Sub(*c.LastSuccessfulLogin)
	quarantinedFrom := c.LastSuccessfulLogin.Add(window)

	if elapsed < window {
		if c.LoggedIn {
			return QuarantineDecision{Note: NoteLoggedIn, QuarantinedFrom: quarantinedFrom}
		}
		return QuarantineDecision{
			TimeAllowed:     loginMinutes - int(elapsed/time.Minute),
			QuarantinedFrom: quarantinedFrom,
		}
	}

	// Strictly inside the quarantine period.
	remaining := total - elapsed
	minutes := int(remaining / time.Minute)
	if minutes == 0 {
		minutes = 1 // Sub-minute remainder still counts as denied time
	}
	return QuarantineDecision{
		TimeAllowed:     -minutes,
		Note:            NoteQuarantined,
		QuarantinedFrom: quarantinedFrom,
	}
}
