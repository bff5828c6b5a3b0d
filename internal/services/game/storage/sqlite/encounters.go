package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/louisbranch/daruma/internal/services/game/domain/settings"
	"github.com/louisbranch/daruma/internal/services/game/storage"
)

// CreateEncounter inserts an open encounter and returns its id.
func (s *Store) CreateEncounter(ctx context.Context, channelID string, variant settings.Variant, startedAt time.Time) (string, error) {
	if err := s.ready(ctx); err != nil {
		return "", err
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return "", fmt.Errorf("channel id is required")
	}
	if startedAt.IsZero() {
		startedAt = s.clock()
	}
	id := uuid.NewString()
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO encounters (encounter_id, channel_id, variant, started_at) VALUES (?, ?, ?, ?)`,
		id, channelID, string(variant), toMillis(startedAt),
	); err != nil {
		return "", fmt.Errorf("create encounter: %w", err)
	}
	return id, nil
}

// CompleteEncounter records the result of an encounter.
func (s *Store) CompleteEncounter(ctx context.Context, encounter storage.Encounter) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	players, err := json.Marshal(encounter.Players)
	if err != nil {
		return fmt.Errorf("encode encounter players: %w", err)
	}
	endedAt := s.clock()
	if encounter.EndedAt != nil {
		endedAt = encounter.EndedAt.UTC()
	}
	zen := 0
	if encounter.Zen {
		zen = 1
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE encounters
		 SET ended_at = ?,
		     winning_round_index = ?,
		     winning_roll_index = ?,
		     zen = ?,
		     payout = ?,
		     players_json = ?
		 WHERE encounter_id = ?`,
		toMillis(endedAt),
		encounter.WinningPosition.RoundIndex,
		encounter.WinningPosition.RollIndex,
		zen,
		encounter.Payout,
		string(players),
		strings.TrimSpace(encounter.ID),
	)
	if err != nil {
		return fmt.Errorf("complete encounter: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete encounter: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetEncounter returns one encounter by id.
func (s *Store) GetEncounter(ctx context.Context, encounterID string) (storage.Encounter, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Encounter{}, err
	}
	var (
		encounter storage.Encounter
		variant   string
		startedAt int64
		endedAt   sql.NullInt64
		zen       int
		players   string
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT encounter_id, channel_id, variant, started_at, ended_at,
		        winning_round_index, winning_roll_index, zen, payout, players_json
		 FROM encounters
		 WHERE encounter_id = ?`, strings.TrimSpace(encounterID),
	).Scan(
		&encounter.ID,
		&encounter.ChannelID,
		&variant,
		&startedAt,
		&endedAt,
		&encounter.WinningPosition.RoundIndex,
		&encounter.WinningPosition.RollIndex,
		&zen,
		&encounter.Payout,
		&players,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Encounter{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Encounter{}, fmt.Errorf("get encounter: %w", err)
	}
	encounter.Variant = settings.Variant(variant)
	encounter.StartedAt = fromMillis(startedAt)
	if endedAt.Valid {
		value := fromMillis(endedAt.Int64)
		encounter.EndedAt = &value
	}
	encounter.Zen = zen != 0
	if err := json.Unmarshal([]byte(players), &encounter.Players); err != nil {
		return storage.Encounter{}, fmt.Errorf("decode encounter players: %w", err)
	}
	if encounter.Players == nil {
		encounter.Players = []storage.EncounterPlayer{}
	}
	return encounter, nil
}
