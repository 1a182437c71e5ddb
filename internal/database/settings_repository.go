package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/earnhub/backend/internal/config"
)

const earningsSettingsKey = "earnings"

// SettingsRepository persists runtime settings in the system_settings table.
type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// LoadEarningsConfig implements config.EarningsSource.
func (r *SettingsRepository) LoadEarningsConfig(ctx context.Context) (*config.EarningsConfig, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT value FROM system_settings
		WHERE key = $1`, earningsSettingsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, config.ErrSettingNotFound
	}
	if err != nil {
		return nil, err
	}

	var cfg config.EarningsConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse earnings settings: %w", err)
	}
	return &cfg, nil
}

// SaveEarningsConfig upserts the earnings settings.
func (r *SettingsRepository) SaveEarningsConfig(ctx context.Context, cfg *config.EarningsConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO system_settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		earningsSettingsKey, raw, time.Now())
	return err
}

// MemorySettings is an EarningsSource for the in-memory store.
type MemorySettings struct {
	cfg *config.EarningsConfig
}

func NewMemorySettings(cfg *config.EarningsConfig) *MemorySettings {
	return &MemorySettings{cfg: cfg}
}

func (m *MemorySettings) LoadEarningsConfig(ctx context.Context) (*config.EarningsConfig, error) {
	if m.cfg == nil {
		return nil, config.ErrSettingNotFound
	}
	c := *m.cfg
	return &c, nil
}
