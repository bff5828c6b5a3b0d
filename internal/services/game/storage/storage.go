package storage

import (
	"context"
	"time"

	apperrors "github.com/louisbranch/daruma/internal/platform/errors"
	"github.com/louisbranch/daruma/internal/services/game/domain/cooldown"
	"github.com/louisbranch/daruma/internal/services/game/domain/dice"
	"github.com/louisbranch/daruma/internal/services/game/domain/settings"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")
	// ErrChannelConfigNotFound indicates a channel has no stored configuration.
	ErrChannelConfigNotFound = apperrors.New(apperrors.CodeChannelConfigNotFound, "channel config not found")
)

// ChannelConfigStore persists per-channel game configuration.
type ChannelConfigStore interface {
	ListChannelConfigs(ctx context.Context) ([]settings.ChannelConfig, error)
	GetChannelConfig(ctx context.Context, channelID string) (settings.ChannelConfig, error)
	PutChannelConfig(ctx context.Context, cfg settings.ChannelConfig) error
	DeleteChannelConfig(ctx context.Context, channelID string) error
}

// Asset is a registered collectible that can be seated in a game.
type Asset struct {
	ID            string
	OwnerID       string
	Name          string
	GamesPlayed   int
	Wins          int
	CooldownUntil time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Playable reports whether the asset is off cooldown at now.
func (a Asset) Playable(now time.Time) bool {
	return !now.Before(a.CooldownUntil)
}

// CooldownRemaining returns how long the asset still rests at now.
func (a Asset) CooldownRemaining(now time.Time) time.Duration {
	if a.Playable(now) {
		return 0
	}
	return a.CooldownUntil.Sub(now)
}

// AssetStore persists assets and their post-game bookkeeping.
type AssetStore interface {
	// ListPlayableAssets returns the owner's assets that are off cooldown.
	ListPlayableAssets(ctx context.Context, ownerID string, now time.Time) ([]Asset, error)
	GetAsset(ctx context.Context, assetID string) (Asset, error)
	PutAsset(ctx context.Context, asset Asset) error
	// RecordGamePlayed counts one game for the asset and sets its cooldown.
	RecordGamePlayed(ctx context.Context, assetID string, won bool, cooldownUntil time.Time) error
}

// StatsProvider supplies the figures the cooldown roll compares.
type StatsProvider interface {
	PopulationStats(ctx context.Context) (cooldown.PopulationStats, error)
	AssetStats(ctx context.Context, assetID string) (cooldown.AssetStats, error)
}

// EncounterPlayer is one seat in a persisted encounter.
type EncounterPlayer struct {
	UserID           string           `json:"user_id"`
	AssetID          string           `json:"asset_id"`
	IsNPC            bool             `json:"is_npc,omitempty"`
	IsWinner         bool             `json:"is_winner"`
	Trace            dice.RoundsTrace `json:"trace"`
	Cooldown         time.Duration    `json:"cooldown"`
	CooldownModified bool             `json:"cooldown_modified"`
}

// Encounter is the record of one played game.
type Encounter struct {
	ID        string
	ChannelID string
	Variant   settings.Variant
	StartedAt time.Time
	// EndedAt is nil until the encounter is completed.
	EndedAt         *time.Time
	Players         []EncounterPlayer
	WinningPosition dice.Position
	Zen             bool
	Payout          int64
}

// EncounterStore issues encounter ids on start and records results on end.
type EncounterStore interface {
	CreateEncounter(ctx context.Context, channelID string, variant settings.Variant, startedAt time.Time) (string, error)
	CompleteEncounter(ctx context.Context, encounter Encounter) error
	GetEncounter(ctx context.Context, encounterID string) (Encounter, error)
}
