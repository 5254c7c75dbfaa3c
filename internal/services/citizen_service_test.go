package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/services"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeValidator returns a fixed identity, or an error when transport fails.
type fakeValidator struct {
	identity string
	err      error
}

func (f *fakeValidator) Validate(ctx context.Context, username, password string, site *models.Site) (string, error) {
	return f.identity, f.err
}

// fakeBooking returns a fixed minutes grant and records the
// quarantined_from instant the service handed over.
type fakeBooking struct {
	minutes         int
	note            string
	err             error
	quarantinedFrom time.Time
	allowIdle       bool
}

func (f *fakeBooking) CheckBooking(ctx context.Context, identity string, site *models.Site, quarantinedFrom time.Time, allowIdle bool) (int, string, error) {
	f.quarantinedFrom = quarantinedFrom
	f.allowIdle = allowIdle
	return f.minutes, f.note, f.err
}

var citizenTestColumns = []string{"id", "citizen_hash", "site_id", "last_successful_login", "logged_in"}

// expectSitePC mocks the PC lookup plus its site for a kiosk call. The site
// is fetched before the activation check, so both variants read it.
func expectSitePC(mock pgxmock.PgxPoolIface, activated bool) {
	testTime := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT (.+) FROM pcs WHERE uid = \$1`).
		WithArgs("abc123").
		WillReturnRows(pgxmock.NewRows(pcTestColumns).
			AddRow(42, "abc123", "library-01", "00:11:22:33:44:55", 3, 7, activated, nil, testTime))
	mock.ExpectQuery(`SELECT (.+) FROM sites WHERE id = \$1`).
		WithArgs(3).
		WillReturnRows(siteRow(testTime))
}

// First login of a fresh citizen: the full window is granted and the state
// is committed under the row lock.
func TestCitizenService_Login_Fresh(t *testing.T) {
	mock := mockPool(t)
	hash := services.HashIdentity("patron-1")

	expectSitePC(mock, true)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, citizen_hash, site_id, last_successful_login, logged_in`).
		WithArgs(hash, 3).
		WillReturnRows(pgxmock.NewRows(citizenTestColumns))
	mock.ExpectQuery(`INSERT INTO citizens`).
		WithArgs(hash, 3, pgxmock.AnyArg(), true).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`INSERT INTO login_logs`).
		WithArgs(hash, 3, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	svc := services.NewCitizenService(&fakeValidator{identity: "patron-1"}, nil, testLogger(t))
	result, err := svc.Login(context.Background(), "user", "pass", "abc123")

	require.NoError(t, err)
	assert.Equal(t, 60, result.TimeAllowed) // site login_duration
	assert.Empty(t, result.Note)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Rejected credentials read as a denial, not an error, and nothing is
// written.
func TestCitizenService_Login_BadCredentials(t *testing.T) {
	mock := mockPool(t)
	expectSitePC(mock, true)

	svc := services.NewCitizenService(&fakeValidator{identity: ""}, nil, testLogger(t))
	result, err := svc.Login(context.Background(), "user", "wrong", "abc123")

	require.NoError(t, err)
	assert.Equal(t, 0, result.TimeAllowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Validator transport failure also reads as a denial; the kiosk cannot tell
// the difference and the citizen keeps their quarantine state.
func TestCitizenService_Login_ValidatorDown(t *testing.T) {
	mock := mockPool(t)
	expectSitePC(mock, true)

	svc := services.NewCitizenService(&fakeValidator{err: errors.New("connection refused")}, nil, testLogger(t))
	result, err := svc.Login(context.Background(), "user", "pass", "abc123")

	require.NoError(t, err)
	assert.Equal(t, 0, result.TimeAllowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A citizen inside the quarantine period is denied with the signed negative
// remainder and no state change.
func TestCitizenService_Login_Quarantined(t *testing.T) {
	mock := mockPool(t)
	hash := services.HashIdentity("patron-1")

	expectSitePC(mock, true)

	// 160 minutes since the window started: 140 of the 300-minute
	// window+quarantine span remain.
	lastLogin := time.Now().Add(-160 * time.Minute)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, citizen_hash, site_id, last_successful_login, logged_in`).
		WithArgs(hash, 3).
		WillReturnRows(pgxmock.NewRows(citizenTestColumns).
			AddRow(1, hash, 3, &lastLogin, false))
	mock.ExpectCommit()

	svc := services.NewCitizenService(&fakeValidator{identity: "patron-1"}, nil, testLogger(t))
	result, err := svc.Login(context.Background(), "user", "pass", "abc123")

	require.NoError(t, err)
	assert.Less(t, result.TimeAllowed, 0)
	assert.Equal(t, models.NoteQuarantined, result.Note)
	// Signed remainder: about -140, allow a minute of test slack.
	assert.InDelta(t, -140, result.TimeAllowed, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// An unactivated kiosk gets the neutral zero result, whoever asks.
func TestCitizenService_Login_UnactivatedPC(t *testing.T) {
	mock := mockPool(t)
	expectSitePC(mock, false)

	svc := services.NewCitizenService(&fakeValidator{identity: "patron-1"}, nil, testLogger(t))
	result, err := svc.Login(context.Background(), "user", "pass", "abc123")

	require.NoError(t, err)
	assert.Equal(t, &services.LoginResult{}, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Booking mode: the booking system's minutes win over the window remainder,
// and the quarantine state is committed so later idle logins see it.
func TestCitizenService_GeneralLogin_Booked(t *testing.T) {
	mock := mockPool(t)
	hash := services.HashIdentity("patron-1")

	expectSitePC(mock, true)

	// Peek transaction: fresh citizen.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, citizen_hash, site_id, last_successful_login, logged_in`).
		WithArgs(hash, 3).
		WillReturnRows(pgxmock.NewRows(citizenTestColumns))
	mock.ExpectCommit()

	// Commit transaction after the booking grant.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, citizen_hash, site_id, last_successful_login, logged_in`).
		WithArgs(hash, 3).
		WillReturnRows(pgxmock.NewRows(citizenTestColumns))
	mock.ExpectQuery(`INSERT INTO citizens`).
		WithArgs(hash, 3, pgxmock.AnyArg(), true).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`INSERT INTO login_logs`).
		WithArgs(hash, 3, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	booking := &fakeBooking{minutes: 120, note: "booked"}
	svc := services.NewCitizenService(&fakeValidator{identity: "patron-1"}, booking, testLogger(t))
	result, err := svc.GeneralLogin(context.Background(), "user", "pass", "abc123", true)

	require.NoError(t, err)
	assert.Equal(t, 120, result.TimeAllowed)
	assert.Equal(t, "booked", result.Note)
	assert.True(t, booking.allowIdle)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Booking denial passes straight through without touching citizen state.
func TestCitizenService_GeneralLogin_BookingDenies(t *testing.T) {
	mock := mockPool(t)
	hash := services.HashIdentity("patron-1")

	expectSitePC(mock, true)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, citizen_hash, site_id, last_successful_login, logged_in`).
		WithArgs(hash, 3).
		WillReturnRows(pgxmock.NewRows(citizenTestColumns))
	mock.ExpectCommit()

	booking := &fakeBooking{minutes: 0, note: "booked_by_other"}
	svc := services.NewCitizenService(&fakeValidator{identity: "patron-1"}, booking, testLogger(t))
	result, err := svc.GeneralLogin(context.Background(), "user", "pass", "abc123", false)

	require.NoError(t, err)
	assert.Equal(t, 0, result.TimeAllowed)
	assert.Equal(t, "booked_by_other", result.Note)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// sms_login only peeks: the decision comes back but no row is written until
// the SMS challenge is confirmed via sms_login_finalize.
func TestCitizenService_SMSLogin_PeeksOnly(t *testing.T) {
	mock := mockPool(t)
	hash := services.HashIdentity("+4512345678")

	expectSitePC(mock, true)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, citizen_hash, site_id, last_successful_login, logged_in`).
		WithArgs(hash, 3).
		WillReturnRows(pgxmock.NewRows(citizenTestColumns))
	mock.ExpectCommit()

	svc := services.NewCitizenService(&fakeValidator{}, nil, testLogger(t))
	result, err := svc.SMSLogin(context.Background(), "+4512345678", "abc123")

	require.NoError(t, err)
	assert.Equal(t, 60, result.TimeAllowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCitizenService_SMSLoginFinalize_Commits(t *testing.T) {
	mock := mockPool(t)
	hash := services.HashIdentity("+4512345678")

	expectSitePC(mock, true)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, citizen_hash, site_id, last_successful_login, logged_in`).
		WithArgs(hash, 3).
		WillReturnRows(pgxmock.NewRows(citizenTestColumns))
	mock.ExpectQuery(`INSERT INTO citizens`).
		WithArgs(hash, 3, pgxmock.AnyArg(), true).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`INSERT INTO login_logs`).
		WithArgs(hash, 3, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	svc := services.NewCitizenService(&fakeValidator{}, nil, testLogger(t))
	result, err := svc.SMSLoginFinalize(context.Background(), "+4512345678", "abc123")

	require.NoError(t, err)
	assert.Equal(t, 60, result.TimeAllowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCitizenService_Logout(t *testing.T) {
	mock := mockPool(t)
	hash := services.HashIdentity("patron-1")

	expectSitePC(mock, true)

	mock.ExpectExec(`UPDATE citizens SET logged_in = FALSE`).
		WithArgs(hash, 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE login_logs SET logout_time = \$1`).
		WithArgs(pgxmock.AnyArg(), hash, 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	svc := services.NewCitizenService(&fakeValidator{}, nil, testLogger(t))
	err := svc.Logout(context.Background(), "patron-1", "abc123")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
