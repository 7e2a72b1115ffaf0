package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Well-known preference keys. Selected wallets are stored one key per chain
// family ("selected_wallet:evm" etc).
const (
	PrefDeviceID        = "device_id"
	PrefAutoLockMinutes = "auto_lock_minutes"
	PrefTradeSettings   = "trade_settings"
	PrefUserSettings    = "user_settings"
)

// SelectedWalletKey builds the preference key for a family's selected wallet.
func SelectedWalletKey(family string) string {
	return "selected_wallet:" + family
}

// PreferenceRepository is the durable key-value store for user preferences and
// small gateway state. Values are JSON-encoded.
type PreferenceRepository struct {
	store *Store
}

// NewPreferenceRepository creates a new PreferenceRepository
func NewPreferenceRepository(store *Store) *PreferenceRepository {
	return &PreferenceRepository{store: store}
}

// Get unmarshals the value for key into dest. Returns false when the key does
// not exist; dest is left untouched in that case.
func (r *PreferenceRepository) Get(ctx context.Context, key string, dest any) (bool, error) {
	query := `SELECT value FROM preferences WHERE key = $1`

	var raw []byte
	err := r.store.pool.QueryRow(ctx, query, key).Scan(&raw)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get preference %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("failed to decode preference %s: %w", key, err)
	}

	return true, nil
}

// Set JSON-encodes value and upserts it under key.
func (r *PreferenceRepository) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode preference %s: %w", key, err)
	}

	query := `
		INSERT INTO preferences (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = $2
	`

	if _, err := r.store.pool.Exec(ctx, query, key, raw); err != nil {
		return fmt.Errorf("failed to set preference %s: %w", key, err)
	}

	return nil
}

// Delete removes a preference key. Deleting an absent key is a no-op.
func (r *PreferenceRepository) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM preferences WHERE key = $1`

	if _, err := r.store.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete preference %s: %w", key, err)
	}

	return nil
}
