// Repository tests run against a pgxmock pool injected into the global
// database handle.
package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPool swaps the global database handle for a pgxmock pool and restores
// it when the test ends.
func mockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	oldDB := database.DB
	database.DB = mock
	t.Cleanup(func() {
		database.DB = oldDB
		mock.Close()
	})
	return mock
}

var pcTestColumns = []string{
	"id", "uid", "name", "mac", "site_id", "configuration_id",
	"is_activated", "last_seen", "created_at",
}

func TestPCRepository_Create(t *testing.T) {
	mock := mockPool(t)
	testTime := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Configuration provisioning: no bag under the name yet, so one is made.
	mock.ExpectQuery(`SELECT id FROM configurations WHERE name = \$1`).
		WithArgs("PC: 0cc175b9c0f1b6a831c399e269772661").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO configurations`).
		WithArgs("PC: 0cc175b9c0f1b6a831c399e269772661").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(7))

	mock.ExpectQuery(`INSERT INTO pcs`).
		WithArgs("0cc175b9c0f1b6a831c399e269772661", "library-01", "00:11:22:33:44:55", 3, 7, false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(42, testTime))

	repo := repository.NewPCRepository()
	pc := &models.PC{
		UID:    "0cc175b9c0f1b6a831c399e269772661",
		Name:   "library-01",
		MAC:    "00:11:22:33:44:55",
		SiteID: 3,
	}
	err := repo.Create(context.Background(), database.DB, pc)

	require.NoError(t, err)
	assert.Equal(t, 42, pc.ID)
	assert.Equal(t, 7, pc.ConfigurationID)
	assert.Equal(t, testTime, pc.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPCRepository_GetByUID(t *testing.T) {
	mock := mockPool(t)
	testTime := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	lastSeen := testTime.Add(-time.Hour)

	rows := pgxmock.NewRows(pcTestColumns).
		AddRow(42, "abc123", "library-01", "00:11:22:33:44:55", 3, 7, true, &lastSeen, testTime)
	mock.ExpectQuery(`SELECT (.+) FROM pcs WHERE uid = \$1`).
		WithArgs("abc123").
		WillReturnRows(rows)

	repo := repository.NewPCRepository()
	pc, err := repo.GetByUID(context.Background(), "abc123")

	require.NoError(t, err)
	require.NotNil(t, pc)
	assert.Equal(t, "library-01", pc.Name)
	assert.True(t, pc.IsActivated)
	require.NotNil(t, pc.LastSeen)
	assert.Equal(t, lastSeen, *pc.LastSeen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// An unknown uid yields (nil, nil): the caller decides whether that is a
// NotFoundError or a silent no-op.
func TestPCRepository_GetByUID_Absent(t *testing.T) {
	mock := mockPool(t)

	mock.ExpectQuery(`SELECT (.+) FROM pcs WHERE uid = \$1`).
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows(pcTestColumns))

	repo := repository.NewPCRepository()
	pc, err := repo.GetByUID(context.Background(), "nope")

	assert.NoError(t, err)
	assert.Nil(t, pc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPCRepository_ListBySite(t *testing.T) {
	mock := mockPool(t)
	testTime := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(pcTestColumns).
		AddRow(1, "aa", "alpha", "00:00:00:00:00:01", 3, 10, true, nil, testTime).
		AddRow(2, "bb", "beta", "00:00:00:00:00:02", 3, 11, false, nil, testTime)
	mock.ExpectQuery(`SELECT (.+) FROM pcs WHERE site_id = \$1 ORDER BY name`).
		WithArgs(3).
		WillReturnRows(rows)

	repo := repository.NewPCRepository()
	pcs, err := repo.ListBySite(context.Background(), 3)

	require.NoError(t, err)
	require.Len(t, pcs, 2)
	assert.Equal(t, "alpha", pcs[0].Name)
	assert.Nil(t, pcs[0].LastSeen)
	assert.False(t, pcs[1].IsActivated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPCRepository_UpdateLastSeen(t *testing.T) {
	mock := mockPool(t)
	seen := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE pcs SET last_seen = \$1 WHERE id = \$2`).
		WithArgs(seen, 42).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := repository.NewPCRepository()
	err := repo.UpdateLastSeen(context.Background(), 42, seen)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// No enabled plan through any other group means no exclusivity conflict.
func TestPCRepository_EnabledWakePlanForPC_None(t *testing.T) {
	mock := mockPool(t)

	mock.ExpectQuery(`SELECT (.+) FROM wake_week_plans p`).
		WithArgs(42, 5).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	repo := repository.NewPCRepository()
	plan, err := repo.EnabledWakePlanForPC(context.Background(), database.DB, 42, 5)

	assert.NoError(t, err)
	assert.Nil(t, plan)
	assert.NoError(t, mock.ExpectationsWereMet())
}
