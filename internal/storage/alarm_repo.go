package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// AlarmRepository persists named alarm deadlines. The live timers die with the
// process; their deadlines do not, so a restart can re-attach the same logical
// alarm and fire it immediately if its deadline already passed.
type AlarmRepository struct {
	store *Store
}

// NewAlarmRepository creates a new AlarmRepository
func NewAlarmRepository(store *Store) *AlarmRepository {
	return &AlarmRepository{store: store}
}

// Set upserts the deadline for a named alarm.
func (r *AlarmRepository) Set(ctx context.Context, name string, firesAt time.Time) error {
	query := `
		INSERT INTO alarms (name, fires_at)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET fires_at = $2
	`

	if _, err := r.store.pool.Exec(ctx, query, name, firesAt); err != nil {
		return fmt.Errorf("failed to set alarm %s: %w", name, err)
	}

	return nil
}

// Get returns the deadline for a named alarm, or zero time when none is set.
func (r *AlarmRepository) Get(ctx context.Context, name string) (time.Time, bool, error) {
	query := `SELECT fires_at FROM alarms WHERE name = $1`

	var firesAt time.Time
	err := r.store.pool.QueryRow(ctx, query, name).Scan(&firesAt)
	if err == pgx.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get alarm %s: %w", name, err)
	}

	return firesAt, true, nil
}

// Delete removes a named alarm. Removing an absent alarm is a no-op.
func (r *AlarmRepository) Delete(ctx context.Context, name string) error {
	query := `DELETE FROM alarms WHERE name = $1`

	if _, err := r.store.pool.Exec(ctx, query, name); err != nil {
		return fmt.Errorf("failed to delete alarm %s: %w", name, err)
	}

	return nil
}

// List returns all persisted alarms.
func (r *AlarmRepository) List(ctx context.Context) (map[string]time.Time, error) {
	query := `SELECT name, fires_at FROM alarms`

	rows, err := r.store.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list alarms: %w", err)
	}
	defer rows.Close()

	alarms := make(map[string]time.Time)
	for rows.Next() {
		var (
			name    string
			firesAt time.Time
		)
		if err := rows.Scan(&name, &firesAt); err != nil {
			return nil, fmt.Errorf("failed to scan alarm: %w", err)
		}
		alarms[name] = firesAt
	}

	return alarms, nil
}
