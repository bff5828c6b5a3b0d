package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/daruma/internal/services/game/storage"
)

const assetColumns = `asset_id, owner_id, name, games_played, wins, cooldown_until, created_at, updated_at`

// ListPlayableAssets returns the owner's assets whose cooldown has elapsed.
func (s *Store) ListPlayableAssets(ctx context.Context, ownerID string, now time.Time) ([]storage.Asset, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+assetColumns+`
		 FROM assets
		 WHERE owner_id = ? AND cooldown_until <= ?
		 ORDER BY name, asset_id`,
		strings.TrimSpace(ownerID), toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("list playable assets: %w", err)
	}
	defer rows.Close()

	var assets []storage.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("list playable assets: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list playable assets: %w", err)
	}
	return assets, nil
}

// GetAsset returns one asset by id.
func (s *Store) GetAsset(ctx context.Context, assetID string) (storage.Asset, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Asset{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE asset_id = ?`, strings.TrimSpace(assetID))
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Asset{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Asset{}, fmt.Errorf("get asset: %w", err)
	}
	return asset, nil
}

// PutAsset inserts or updates an asset's identity fields. Play counters and
// cooldown are only written on insert.
func (s *Store) PutAsset(ctx context.Context, asset storage.Asset) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	assetID := strings.TrimSpace(asset.ID)
	ownerID := strings.TrimSpace(asset.OwnerID)
	if assetID == "" {
		return fmt.Errorf("asset id is required")
	}
	if ownerID == "" {
		return fmt.Errorf("owner id is required")
	}
	now := s.clock()
	createdAt := asset.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO assets (`+assetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(asset_id) DO UPDATE SET
		   owner_id = excluded.owner_id,
		   name = excluded.name,
		   updated_at = excluded.updated_at`,
		assetID,
		ownerID,
		strings.TrimSpace(asset.Name),
		asset.GamesPlayed,
		asset.Wins,
		toMillis(asset.CooldownUntil),
		toMillis(createdAt),
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("put asset: %w", err)
	}
	return nil
}

// RecordGamePlayed counts one game, and a win when won, and sets the cooldown.
func (s *Store) RecordGamePlayed(ctx context.Context, assetID string, won bool, cooldownUntil time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	wins := 0
	if won {
		wins = 1
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE assets
		 SET games_played = games_played + 1,
		     wins = wins + ?,
		     cooldown_until = ?,
		     updated_at = ?
		 WHERE asset_id = ?`,
		wins,
		toMillis(cooldownUntil),
		toMillis(s.clock()),
		strings.TrimSpace(assetID),
	)
	if err != nil {
		return fmt.Errorf("record game played: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record game played: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanAsset(row rowScanner) (storage.Asset, error) {
	var (
		asset         storage.Asset
		cooldownUntil int64
		createdAt     int64
		updatedAt     int64
	)
	if err := row.Scan(
		&asset.ID,
		&asset.OwnerID,
		&asset.Name,
		&asset.GamesPlayed,
		&asset.Wins,
		&cooldownUntil,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.Asset{}, err
	}
	asset.CooldownUntil = fromMillis(cooldownUntil)
	asset.CreatedAt = fromMillis(createdAt)
	asset.UpdatedAt = fromMillis(updatedAt)
	return asset, nil
}
