package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/daruma/internal/services/game/domain/cooldown"
	"github.com/louisbranch/daruma/internal/services/game/storage"
)

// rankedAssets ranks assets by wins, best first; ties share a rank.
const rankedAssets = `SELECT asset_id, owner_id, games_played,
       RANK() OVER (ORDER BY wins DESC) AS win_rank
FROM assets`

// PopulationStats averages games played, assets per owner, and rank across
// every stored asset.
func (s *Store) PopulationStats(ctx context.Context) (cooldown.PopulationStats, error) {
	if err := s.ready(ctx); err != nil {
		return cooldown.PopulationStats{}, err
	}
	var stats cooldown.PopulationStats
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT
		   COALESCE((SELECT AVG(games_played) FROM assets), 0),
		   COALESCE((SELECT AVG(owned) FROM (SELECT COUNT(*) AS owned FROM assets GROUP BY owner_id)), 0),
		   COALESCE((SELECT AVG(win_rank) FROM (`+rankedAssets+`)), 0)`,
	).Scan(&stats.AverageGamesPlayed, &stats.AverageTotalAssets, &stats.AverageRank)
	if err != nil {
		return cooldown.PopulationStats{}, fmt.Errorf("population stats: %w", err)
	}
	return stats, nil
}

// AssetStats returns the asset's games played, its owner's asset count, and
// its win rank.
func (s *Store) AssetStats(ctx context.Context, assetID string) (cooldown.AssetStats, error) {
	if err := s.ready(ctx); err != nil {
		return cooldown.AssetStats{}, err
	}
	var stats cooldown.AssetStats
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT ranked.games_played,
		        (SELECT COUNT(*) FROM assets owned WHERE owned.owner_id = ranked.owner_id),
		        ranked.win_rank
		 FROM (`+rankedAssets+`) AS ranked
		 WHERE ranked.asset_id = ?`, strings.TrimSpace(assetID),
	).Scan(&stats.GamesPlayed, &stats.TotalAssets, &stats.Rank)
	if errors.Is(err, sql.ErrNoRows) {
		return cooldown.AssetStats{}, storage.ErrNotFound
	}
	if err != nil {
		return cooldown.AssetStats{}, fmt.Errorf("asset stats: %w", err)
	}
	return stats, nil
}
