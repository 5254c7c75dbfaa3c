package services_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/security"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/services"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// fastKeyConfig uses the cheapest bcrypt cost so the tests stay quick.
func fastKeyConfig() *security.SecurityConfig {
	cfg := security.DefaultSecurityConfig()
	cfg.BcryptCost = bcrypt.MinCost
	return cfg
}

// Generate returns a key_id:secret token whose secret verifies against the
// stored bcrypt hash, and the plaintext never reaches the database.
func TestAPIKeyService_Generate(t *testing.T) {
	mock := mockPool(t)
	testTime := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	var storedHash string
	mock.ExpectQuery(`INSERT INTO api_keys`).
		WithArgs(3, pgxmock.AnyArg(), pgxmock.AnyArg(), "reporting").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(1, testTime))

	svc := services.NewAPIKeyService(fastKeyConfig(), testLogger(t))
	token, key, err := svc.Generate(context.Background(), 3, "reporting")

	require.NoError(t, err)
	parts := strings.SplitN(token, ":", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, key.KeyID, parts[0])
	storedHash = key.SecretHash
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(parts[1])))
	assert.NotContains(t, storedHash, parts[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyService_Verify(t *testing.T) {
	mock := mockPool(t)
	testTime := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	hash, err := bcrypt.GenerateFromPassword([]byte("right-secret"), bcrypt.MinCost)
	require.NoError(t, err)

	keyRows := func() *pgxmock.Rows {
		return pgxmock.NewRows([]string{"id", "site_id", "key_id", "secret_hash", "label", "created_at"}).
			AddRow(1, 3, "key-1", string(hash), "reporting", testTime)
	}

	svc := services.NewAPIKeyService(fastKeyConfig(), testLogger(t))

	mock.ExpectQuery(`SELECT (.+) FROM api_keys WHERE key_id = \$1`).
		WithArgs("key-1").
		WillReturnRows(keyRows())
	key, err := svc.Verify(context.Background(), "key-1", "right-secret")
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, 3, key.SiteID)

	// Wrong secret: nil, nil — indistinguishable from an unknown key id.
	mock.ExpectQuery(`SELECT (.+) FROM api_keys WHERE key_id = \$1`).
		WithArgs("key-1").
		WillReturnRows(keyRows())
	key, err = svc.Verify(context.Background(), "key-1", "wrong-secret")
	require.NoError(t, err)
	assert.Nil(t, key)

	// Unknown key id: same nil, nil.
	mock.ExpectQuery(`SELECT (.+) FROM api_keys WHERE key_id = \$1`).
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	key, err = svc.Verify(context.Background(), "ghost", "whatever")
	require.NoError(t, err)
	assert.Nil(t, key)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyService_Revoke(t *testing.T) {
	mock := mockPool(t)
	testTime := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO api_keys`).
		WithArgs(3, pgxmock.AnyArg(), pgxmock.AnyArg(), "temp").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(9, testTime))
	mock.ExpectExec(`DELETE FROM api_keys WHERE id = \$1`).
		WithArgs(9).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	svc := services.NewAPIKeyService(fastKeyConfig(), testLogger(t))
	_, key, err := svc.Generate(context.Background(), 3, "temp")
	require.NoError(t, err)

	assert.NoError(t, svc.Revoke(context.Background(), key))
	assert.NoError(t, mock.ExpectationsWereMet())
}
