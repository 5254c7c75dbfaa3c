// Configuration entry access: key/value CRUD on one bag plus the layered
// fetch that feeds effective-configuration resolution for a PC.
package repository

import (
	"context"
	"errors"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/database"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/jackc/pgx/v5"
)

// ConfigRepository handles configuration-entry database operations.
// Entries are only ever touched through the owning entity's operations.
type ConfigRepository struct{}

// NewConfigRepository creates a new instance of ConfigRepository.
func NewConfigRepository() *ConfigRepository {
	return &ConfigRepository{}
}

// GetEntry returns the value stored under key in the given bag.
// The second return value is false when the key is absent.
func (r *ConfigRepository) GetEntry(ctx context.Context, configID int, key string) (string, bool, error) {
	var value string
	err := database.DB.QueryRow(ctx,
		`SELECT value FROM configuration_entries WHERE configuration_id = $1 AND key = $2`,
		configID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// UpsertEntry sets key to value in the given bag, overwriting any previous
// value. The model tolerates duplicate keys historically, so the update
// path deletes extras first (last write wins).
func (r *ConfigRepository) UpsertEntry(ctx context.Context, ex database.Executor, configID int, key, value string) error {
	if _, err := ex.Exec(ctx,
		`DELETE FROM configuration_entries WHERE configuration_id = $1 AND key = $2`,
		configID, key); err != nil {
		return err
	}
	_, err := ex.Exec(ctx,
		`INSERT INTO configuration_entries (configuration_id, key, value) VALUES ($1, $2, $3)`,
		configID, key, value)
	return err
}

// RemoveEntry deletes key from the given bag. Removing an absent key is not
// an error.
func (r *ConfigRepository) RemoveEntry(ctx context.Context, ex database.Executor, configID int, key string) error {
	_, err := ex.Exec(ctx,
		`DELETE FROM configuration_entries WHERE configuration_id = $1 AND key = $2`,
		configID, key)
	return err
}

// ListEntries retrieves all entries of one bag ordered by key.
func (r *ConfigRepository) ListEntries(ctx context.Context, configID int) ([]models.ConfigurationEntry, error) {
	rows, err := database.DB.Query(ctx,
		`SELECT id, configuration_id, key, value
		 FROM configuration_entries WHERE configuration_id = $1 ORDER BY key`,
		configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.ConfigurationEntry
	for rows.Next() {
		var e models.ConfigurationEntry
		if err := rows.Scan(&e.ID, &e.ConfigurationID, &e.Key, &e.Value); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// layerFor loads one bag as a flat map.
func (r *ConfigRepository) layerFor(ctx context.Context, ex database.Executor, configID int) (models.ConfigLayer, error) {
	rows, err := ex.Query(ctx,
		`SELECT key, value FROM configuration_entries WHERE configuration_id = $1 ORDER BY id`,
		configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	layer := models.ConfigLayer{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		layer[k] = v
	}
	return layer, rows.Err()
}

// LayersForPC builds the override chain for a PC: the site's bag first, then
// one bag per group the PC belongs to (group id order), then the PC's own
// bag. All reads run on the same executor so a transactional caller sees one
// snapshot.
//
// Complexity: one query per layer, 2+G round trips for G group memberships.
func (r *ConfigRepository) LayersForPC(ctx context.Context, ex database.Executor, pc *models.PC) ([]models.ConfigLayer, error) {
	var siteConfigID int
	if err := ex.QueryRow(ctx,
		`SELECT configuration_id FROM sites WHERE id = $1`, pc.SiteID).Scan(&siteConfigID); err != nil {
		return nil, err
	}

	groupRows, err := ex.Query(ctx,
		`SELECT g.configuration_id
		 FROM pc_groups g
		 JOIN pc_group_members m ON m.group_id = g.id
		 WHERE m.pc_id = $1
		 ORDER BY g.id`, pc.ID)
	if err != nil {
		return nil, err
	}
	var groupConfigIDs []int
	for groupRows.Next() {
		var id int
		if err := groupRows.Scan(&id); err != nil {
			groupRows.Close()
			return nil, err
		}
		groupConfigIDs = append(groupConfigIDs, id)
	}
	groupRows.Close()
	if err := groupRows.Err(); err != nil {
		return nil, err
	}

	configIDs := append([]int{siteConfigID}, groupConfigIDs...)
	configIDs = append(configIDs, pc.ConfigurationID)

	layers := make([]models.ConfigLayer, 0, len(configIDs))
	for _, id := range configIDs {
		layer, err := r.layerFor(ctx, ex, id)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, nil
}
