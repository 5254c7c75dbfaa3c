// API key access for the site-scoped external query surface.
package repository

import (
	"context"
	"errors"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/jackc/pgx/v5"
)

// APIKeyRepository handles API key database operations.
type APIKeyRepository struct{}

// NewAPIKeyRepository creates a new instance of APIKeyRepository.
func NewAPIKeyRepository() *APIKeyRepository {
	return &APIKeyRepository{}
}

// Create inserts a new key. The caller supplies the bcrypt hash; the secret
// itself is never stored.
//
// Side Effects: Populates key.ID and key.CreatedAt.
func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	return database.DB.QueryRow(ctx,
		`INSERT INTO api_keys (site_id, key_id, secret_hash, label)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		key.SiteID, key.KeyID, key.SecretHash, key.Label,
	).Scan(&key.ID, &key.CreatedAt)
}

// GetByKeyID retrieves a key by its public half. Returns (nil, nil) when
// absent so the middleware can fail authentication without leaking which
// half was wrong.
func (r *APIKeyRepository) GetByKeyID(ctx context.Context, keyID string) (*models.APIKey, error) {
	var k models.APIKey
	err := database.DB.QueryRow(ctx,
		`SELECT id, site_id, key_id, secret_hash, label, created_at
		 FROM api_keys WHERE key_id = $1`, keyID).
		Scan(&k.ID, &k.SiteID, &k.KeyID, &k.SecretHash, &k.Label, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// Delete revokes a key.
func (r *APIKeyRepository) Delete(ctx context.Context, id int) error {
	_, err := database.DB.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	return err
}
