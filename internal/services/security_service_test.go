package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/services"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMailer records every send without touching the network.
type fakeMailer struct {
	sent []sentMail
	err  error
}

type sentMail struct {
	to      []string
	subject string
	body    string
}

func (f *fakeMailer) Send(to []string, subject, body string) error {
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return f.err
}

var problemTestColumns = []string{"id", "site_id", "name", "uid", "script_id", "level"}

// A valid CSV line stores one event and fans out a supervisor mail; the
// malformed, unparseable-time and cross-site lines are all dropped without
// failing the batch.
func TestSecurityService_PushSecurityEvents(t *testing.T) {
	mock := mockPool(t)
	testTime := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT (.+) FROM pcs WHERE uid = \$1`).
		WithArgs("abc123").
		WillReturnRows(activatedPCRow(testTime))

	// Line 1: valid, rule 77 on the PC's own site.
	mock.ExpectQuery(`SELECT (.+) FROM security_problems WHERE id = \$1`).
		WithArgs(77).
		WillReturnRows(pgxmock.NewRows(problemTestColumns).
			AddRow(77, 3, "USB detection", "usb-rule", 5, "WARNING"))
	mock.ExpectQuery(`INSERT INTO security_events`).
		WithArgs(77, 42, time.Date(2026, 8, 1, 11, 55, 0, 0, time.UTC), "usb drive inserted", "", "NEW").
		WillReturnRows(pgxmock.NewRows([]string{"id", "reported_time"}).AddRow(500, testTime))
	mock.ExpectQuery(`SELECT DISTINCT u.email`).
		WithArgs(42).
		WillReturnRows(pgxmock.NewRows([]string{"email"}).AddRow("supervisor@example.org"))

	// Line 4: rule 88 belongs to another site and is rejected.
	mock.ExpectQuery(`SELECT (.+) FROM security_problems WHERE id = \$1`).
		WithArgs(88).
		WillReturnRows(pgxmock.NewRows(problemTestColumns).
			AddRow(88, 9, "Other site rule", "other", 6, "CRITICAL"))

	mailer := &fakeMailer{}
	svc := services.NewSecurityService(mailer, testLogger(t))
	_, err := svc.PushSecurityEvents(context.Background(), "abc123", []string{
		"2026-08-01T11:55:00Z,77,usb drive inserted",
		"not a line",
		"yesterday,77,bad time",
		"2026-08-01T11:55:00Z,88,cross site",
	})

	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"supervisor@example.org"}, mailer.sent[0].to)
	assert.Contains(t, mailer.sent[0].subject, "USB detection")
	assert.Contains(t, mailer.sent[0].body, "library-01")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// PCs with no supervised group fall back to the rule's own alert users.
func TestSecurityService_PushSecurityEvents_AlertUserFallback(t *testing.T) {
	mock := mockPool(t)
	testTime := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT (.+) FROM pcs WHERE uid = \$1`).
		WithArgs("abc123").
		WillReturnRows(activatedPCRow(testTime))
	mock.ExpectQuery(`SELECT (.+) FROM security_problems WHERE id = \$1`).
		WithArgs(77).
		WillReturnRows(pgxmock.NewRows(problemTestColumns).
			AddRow(77, 3, "USB detection", "usb-rule", 5, "WARNING"))
	mock.ExpectQuery(`INSERT INTO security_events`).
		WithArgs(77, 42, pgxmock.AnyArg(), "usb drive inserted", "", "NEW").
		WillReturnRows(pgxmock.NewRows([]string{"id", "reported_time"}).AddRow(500, testTime))
	mock.ExpectQuery(`SELECT DISTINCT u.email`).
		WithArgs(42).
		WillReturnRows(pgxmock.NewRows([]string{"email"}))
	mock.ExpectQuery(`SELECT u.email FROM users u`).
		WithArgs(77).
		WillReturnRows(pgxmock.NewRows([]string{"email"}).AddRow("admin@example.org"))

	mailer := &fakeMailer{}
	svc := services.NewSecurityService(mailer, testLogger(t))
	_, err := svc.PushSecurityEvents(context.Background(), "abc123", []string{
		"2026-08-01 11:55:00,77,usb drive inserted",
	})

	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"admin@example.org"}, mailer.sent[0].to)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Events from an unapproved PC are dropped wholesale.
func TestSecurityService_PushSecurityEvents_Unactivated(t *testing.T) {
	mock := mockPool(t)
	testTime := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT (.+) FROM pcs WHERE uid = \$1`).
		WithArgs("abc123").
		WillReturnRows(pgxmock.NewRows(pcTestColumns).
			AddRow(42, "abc123", "library-01", "00:11:22:33:44:55", 3, 7, false, nil, testTime))

	mailer := &fakeMailer{}
	svc := services.NewSecurityService(mailer, testLogger(t))
	_, err := svc.PushSecurityEvents(context.Background(), "abc123", []string{
		"2026-08-01T11:55:00Z,77,usb drive inserted",
	})

	require.NoError(t, err)
	assert.Empty(t, mailer.sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A site where nothing at all has polled recently is skipped wholesale:
// that reads as a network outage, not as every PC failing at once.
func TestSecurityService_SweepOfflineRules_TrafficGuard(t *testing.T) {
	mock := mockPool(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	testTime := now.Add(-30 * 24 * time.Hour)
	stale := now.Add(-2 * time.Hour)

	mock.ExpectQuery(`SELECT (.+) FROM scripts WHERE uid = \$1`).
		WithArgs(services.ServerRuleScriptUID).
		WillReturnRows(scriptRow(testTime, 9, "server_offline_rule", "Server-side offline detection"))
	mock.ExpectQuery(`SELECT id, site_id, name, level, minutes_offline, monitored_group_id`).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "site_id", "name", "level", "minutes_offline", "monitored_group_id",
		}).AddRow(1, 3, "Offline watch", "WARNING", 60, nil))
	mock.ExpectQuery(`SELECT MAX\(last_seen\) FROM pcs WHERE site_id = \$1`).
		WithArgs(3).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(&stale))

	mailer := &fakeMailer{}
	svc := services.NewSecurityService(mailer, testLogger(t))
	raised, err := svc.SweepOfflineRules(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 0, raised)
	assert.Empty(t, mailer.sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// An offline PC on a site with live traffic gets one synthetic event and
// one supervisor mail; the dedup query keeps repeated sweeps quiet.
func TestSecurityService_SweepOfflineRules_RaisesEvent(t *testing.T) {
	mock := mockPool(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	testTime := now.Add(-30 * 24 * time.Hour)
	recent := now.Add(-5 * time.Minute)
	lastSeen := now.Add(-2 * time.Hour)

	mock.ExpectQuery(`SELECT (.+) FROM scripts WHERE uid = \$1`).
		WithArgs(services.ServerRuleScriptUID).
		WillReturnRows(scriptRow(testTime, 9, "server_offline_rule", "Server-side offline detection"))
	mock.ExpectQuery(`SELECT id, site_id, name, level, minutes_offline, monitored_group_id`).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "site_id", "name", "level", "minutes_offline", "monitored_group_id",
		}).AddRow(1, 3, "Offline watch", "WARNING", 60, nil))
	mock.ExpectQuery(`SELECT MAX\(last_seen\) FROM pcs WHERE site_id = \$1`).
		WithArgs(3).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(&recent))

	mock.ExpectQuery(`FROM security_problems WHERE site_id = \$1 AND uid = \$2`).
		WithArgs(3, "server-rule-1").
		WillReturnRows(pgxmock.NewRows(problemTestColumns).
			AddRow(90, 3, "Offline watch", "server-rule-1", 9, "WARNING"))
	mock.ExpectQuery(`WHERE site_id = \$1 AND is_activated AND last_seen IS NOT NULL`).
		WithArgs(3, now.Add(-60*time.Minute)).
		WillReturnRows(pgxmock.NewRows(pcTestColumns).
			AddRow(42, "abc123", "library-01", "00:11:22:33:44:55", 3, 7, true, &lastSeen, testTime))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM security_events e`).
		WithArgs("server-rule-1", 42, lastSeen).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`INSERT INTO security_events`).
		WithArgs(90, 42, now, "library-01 offline for more than 60 minutes", "", "NEW").
		WillReturnRows(pgxmock.NewRows([]string{"id", "reported_time"}).AddRow(501, now))

	// Once for the recipient bucketing, once inside the notification itself.
	mock.ExpectQuery(`SELECT DISTINCT u.email`).
		WithArgs(42).
		WillReturnRows(pgxmock.NewRows([]string{"email"}).AddRow("supervisor@example.org"))
	mock.ExpectQuery(`SELECT DISTINCT u.email`).
		WithArgs(42).
		WillReturnRows(pgxmock.NewRows([]string{"email"}).AddRow("supervisor@example.org"))

	mailer := &fakeMailer{}
	svc := services.NewSecurityService(mailer, testLogger(t))
	raised, err := svc.SweepOfflineRules(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 1, raised)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"supervisor@example.org"}, mailer.sent[0].to)
	assert.Contains(t, mailer.sent[0].subject, "Offline watch")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Retention cleanup reports both delete counts.
func TestSecurityService_CleanupRetention(t *testing.T) {
	mock := mockPool(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM security_events WHERE reported_time < \$1`).
		WithArgs(now.Add(-365 * 24 * time.Hour)).
		WillReturnResult(pgxmock.NewResult("DELETE", 12))
	mock.ExpectExec(`DELETE FROM login_logs WHERE login_time < \$1`).
		WithArgs(now.Add(-90 * 24 * time.Hour)).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	svc := services.NewSecurityService(&fakeMailer{}, testLogger(t))
	events, logins, err := svc.CleanupRetention(context.Background(), now,
		365*24*time.Hour, 90*24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, int64(12), events)
	assert.Equal(t, int64(7), logins)
	assert.NoError(t, mock.ExpectationsWereMet())
}
