package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/daruma/internal/services/game/domain/settings"
	"github.com/louisbranch/daruma/internal/services/game/storage"
)

// ListChannelConfigs returns every stored channel configuration.
func (s *Store) ListChannelConfigs(ctx context.Context) ([]settings.ChannelConfig, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT channel_id, variant, payout_modifier, base_cooldown_ms, created_at, updated_at
		 FROM channel_configs
		 ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("list channel configs: %w", err)
	}
	defer rows.Close()

	var configs []settings.ChannelConfig
	for rows.Next() {
		cfg, err := scanChannelConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("list channel configs: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list channel configs: %w", err)
	}
	return configs, nil
}

// GetChannelConfig returns one channel configuration.
func (s *Store) GetChannelConfig(ctx context.Context, channelID string) (settings.ChannelConfig, error) {
	if err := s.ready(ctx); err != nil {
		return settings.ChannelConfig{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT channel_id, variant, payout_modifier, base_cooldown_ms, created_at, updated_at
		 FROM channel_configs
		 WHERE channel_id = ?`, strings.TrimSpace(channelID))
	cfg, err := scanChannelConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return settings.ChannelConfig{}, storage.ErrChannelConfigNotFound
	}
	if err != nil {
		return settings.ChannelConfig{}, fmt.Errorf("get channel config: %w", err)
	}
	return cfg, nil
}

// PutChannelConfig inserts or replaces a channel configuration.
func (s *Store) PutChannelConfig(ctx context.Context, cfg settings.ChannelConfig) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	channelID := strings.TrimSpace(cfg.ChannelID)
	if channelID == "" {
		return fmt.Errorf("channel id is required")
	}
	if !cfg.Variant.Valid() {
		return fmt.Errorf("variant %q is not supported", cfg.Variant)
	}
	now := s.clock()
	createdAt := cfg.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	var modifier sql.NullFloat64
	if cfg.PayoutModifier != nil {
		modifier = sql.NullFloat64{Float64: *cfg.PayoutModifier, Valid: true}
	}
	var baseCooldown sql.NullInt64
	if cfg.BaseCooldown != nil {
		baseCooldown = sql.NullInt64{Int64: cfg.BaseCooldown.Milliseconds(), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO channel_configs (
		   channel_id, variant, payout_modifier, base_cooldown_ms, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(channel_id) DO UPDATE SET
		   variant = excluded.variant,
		   payout_modifier = excluded.payout_modifier,
		   base_cooldown_ms = excluded.base_cooldown_ms,
		   updated_at = excluded.updated_at`,
		channelID,
		string(cfg.Variant),
		modifier,
		baseCooldown,
		toMillis(createdAt),
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("put channel config: %w", err)
	}
	return nil
}

// DeleteChannelConfig removes a channel configuration. Deleting a missing
// channel is not an error.
func (s *Store) DeleteChannelConfig(ctx context.Context, channelID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM channel_configs WHERE channel_id = ?`, strings.TrimSpace(channelID)); err != nil {
		return fmt.Errorf("delete channel config: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannelConfig(row rowScanner) (settings.ChannelConfig, error) {
	var (
		cfg          settings.ChannelConfig
		variant      string
		modifier     sql.NullFloat64
		baseCooldown sql.NullInt64
		createdAt    int64
		updatedAt    int64
	)
	if err := row.Scan(&cfg.ChannelID, &variant, &modifier, &baseCooldown, &createdAt, &updatedAt); err != nil {
		return settings.ChannelConfig{}, err
	}
	cfg.Variant = settings.Variant(variant)
	if modifier.Valid {
		value := modifier.Float64
		cfg.PayoutModifier = &value
	}
	if baseCooldown.Valid {
		value := time.Duration(baseCooldown.Int64) * time.Millisecond
		cfg.BaseCooldown = &value
	}
	cfg.CreatedAt = fromMillis(createdAt)
	cfg.UpdatedAt = fromMillis(updatedAt)
	return cfg, nil
}
