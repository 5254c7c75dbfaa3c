package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/repository"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// First login for an identity: no row yet, the caller gets (nil, nil) and
// the quarantine evaluation treats the citizen as fresh.
func TestCitizenRepository_GetForUpdate_Fresh(t *testing.T) {
	mock := mockPool(t)

	mock.ExpectQuery(`SELECT id, citizen_hash, site_id, last_successful_login, logged_in`).
		WithArgs("deadbeef", 3).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	repo := repository.NewCitizenRepository()
	citizen, err := repo.GetForUpdate(context.Background(), database.DB, "deadbeef", 3)

	assert.NoError(t, err)
	assert.Nil(t, citizen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCitizenRepository_GetForUpdate(t *testing.T) {
	mock := mockPool(t)
	lastLogin := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"id", "citizen_hash", "site_id", "last_successful_login", "logged_in"}).
		AddRow(9, "deadbeef", 3, &lastLogin, true)
	mock.ExpectQuery(`SELECT id, citizen_hash, site_id, last_successful_login, logged_in`).
		WithArgs("deadbeef", 3).
		WillReturnRows(rows)

	repo := repository.NewCitizenRepository()
	citizen, err := repo.GetForUpdate(context.Background(), database.DB, "deadbeef", 3)

	require.NoError(t, err)
	require.NotNil(t, citizen)
	assert.True(t, citizen.LoggedIn)
	require.NotNil(t, citizen.LastSuccessfulLogin)
	assert.Equal(t, lastLogin, *citizen.LastSuccessfulLogin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCitizenRepository_Upsert(t *testing.T) {
	mock := mockPool(t)
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO citizens`).
		WithArgs("deadbeef", 3, &now, true).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(9))

	repo := repository.NewCitizenRepository()
	citizen := &models.Citizen{
		CitizenHash:         "deadbeef",
		SiteID:              3,
		LastSuccessfulLogin: &now,
		LoggedIn:            true,
	}
	err := repo.Upsert(context.Background(), database.DB, citizen)

	require.NoError(t, err)
	assert.Equal(t, 9, citizen.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCitizenRepository_CloseLatestLoginLog(t *testing.T) {
	mock := mockPool(t)
	logoutTime := time.Date(2026, 8, 1, 11, 30, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE login_logs SET logout_time = \$1`).
		WithArgs(logoutTime, "deadbeef", 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := repository.NewCitizenRepository()
	err := repo.CloseLatestLoginLog(context.Background(), "deadbeef", 3, logoutTime)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCitizenRepository_DeleteLoginLogsBefore(t *testing.T) {
	mock := mockPool(t)
	cutoff := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM login_logs WHERE login_time < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 17))

	repo := repository.NewCitizenRepository()
	deleted, err := repo.DeleteLoginLogsBefore(context.Background(), cutoff)

	require.NoError(t, err)
	assert.Equal(t, int64(17), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
