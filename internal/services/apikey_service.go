package services

import (
	"context"
	"fmt"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/repository"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/security"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyService issues and verifies the per-site keys of the external admin
// query surface. A key is "key_id:secret"; only the bcrypt hash of the
// secret is stored, so the full key is shown exactly once at creation.
type APIKeyService struct {
	keyRepo *repository.APIKeyRepository
	config  *security.SecurityConfig
	logger  *security.Logger
}

// NewAPIKeyService creates a new instance of APIKeyService.
func NewAPIKeyService(config *security.SecurityConfig, logger *security.Logger) *APIKeyService {
	return &APIKeyService{
		keyRepo: repository.NewAPIKeyRepository(),
		config:  config,
		logger:  logger,
	}
}

// Generate creates a key for the site and returns the one-time plaintext
// token together with the stored record.
func (s *APIKeyService) Generate(ctx context.Context, siteID int, label string) (token string, key *models.APIKey, err error) {
	keyID := uuid.NewString()
	secret := uuid.NewString()

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.config.BcryptCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash api key secret: %w", err)
	}

	key = &models.APIKey{
		SiteID:     siteID,
		KeyID:      keyID,
		SecretHash: string(hash),
		Label:      label,
	}
	if err := s.keyRepo.Create(ctx, key); err != nil {
		return "", nil, err
	}

	s.logger.SecurityEvent(security.EventAPIKeyCreated, nil, "", "", "",
		map[string]interface{}{"site_id": siteID, "key_id": keyID, "label": label})
	return keyID + ":" + secret, key, nil
}

// Verify checks a presented "key_id:secret" token and returns the matching
// key record, or nil when either half is wrong. Lookup and comparison take
// the same path for unknown and known key ids.
func (s *APIKeyService) Verify(ctx context.Context, keyID, secret string) (*models.APIKey, error) {
	key, err := s.keyRepo.GetByKeyID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		// Burn a comparison anyway so unknown key ids cost the same.
		_ = bcrypt.CompareHashAndPassword(unknownKeyHash, []byte(secret))
		return nil, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)); err != nil {
		return nil, nil
	}
	return key, nil
}

// Revoke deletes a key.
func (s *APIKeyService) Revoke(ctx context.Context, key *models.APIKey) error {
	if err := s.keyRepo.Delete(ctx, key.ID); err != nil {
		return err
	}
	s.logger.SecurityEvent(security.EventAPIKeyRevoked, nil, "", "", "",
		map[string]interface{}{"site_id": key.SiteID, "key_id": key.KeyID})
	return nil
}

// unknownKeyHash is a fixed bcrypt hash compared against when the key id is
// unknown, keeping verification time uniform.
var unknownKeyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("not-a-real-secret"), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return h
}()
