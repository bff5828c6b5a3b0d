// Package settings defines game variants, their presets, and the immutable
// per-channel GameSettings a session runs with.
package settings

import (
	_ "embed"
	"fmt"
	"maps"
	"os"
	"time"

	apperrors "github.com/louisbranch/daruma/internal/platform/errors"
	"github.com/louisbranch/daruma/internal/services/game/domain/cooldown"
	"github.com/louisbranch/daruma/internal/services/game/domain/payout"
	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var defaultPresetsYAML []byte

// Variant is the game format a channel runs.
type Variant string

const (
	VariantOneVsNpc  Variant = "one_vs_npc"
	VariantOneVsOne  Variant = "one_vs_one"
	VariantFourVsNpc Variant = "four_vs_npc"
)

// Variants lists every supported variant.
var Variants = []Variant{VariantOneVsNpc, VariantOneVsOne, VariantFourVsNpc}

// ParseVariant validates a stored variant name.
func ParseVariant(raw string) (Variant, error) {
	v := Variant(raw)
	if v.Valid() {
		return v, nil
	}
	return "", apperrors.WithMetadata(
		apperrors.CodeSettingsUnknownVariant,
		fmt.Sprintf("unknown game variant %q", raw),
		map[string]string{"Variant": raw},
	)
}

// Valid reports whether v is a supported variant.
func (v Variant) Valid() bool {
	switch v {
	case VariantOneVsNpc, VariantOneVsOne, VariantFourVsNpc:
		return true
	default:
		return false
	}
}

// HasHouse reports whether the variant seats the house NPC.
func (v Variant) HasHouse() bool {
	return v == VariantOneVsNpc || v == VariantFourVsNpc
}

// DisplayName is the human label for the variant.
func (v Variant) DisplayName() string {
	switch v {
	case VariantOneVsNpc:
		return "One vs NPC"
	case VariantOneVsOne:
		return "One vs One"
	case VariantFourVsNpc:
		return "Four vs NPC"
	default:
		return string(v)
	}
}

// Delay is an inclusive random wait range.
type Delay struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// Pick returns a duration in [Min, Max] using int63n for randomness.
func (d Delay) Pick(int63n func(int64) int64) time.Duration {
	if d.Max <= d.Min || int63n == nil {
		return d.Min
	}
	return d.Min + time.Duration(int63n(int64(d.Max-d.Min)+1))
}

// Phase names one rendering step of a turn.
type Phase string

const (
	PhaseRoll   Phase = "roll"
	PhaseDamage Phase = "damage"
	PhaseScore  Phase = "score"
)

// Phases is the fixed order each turn is rendered in.
var Phases = []Phase{PhaseRoll, PhaseDamage, PhaseScore}

// NPC is the house player seated in house variants.
type NPC struct {
	UserID  string `yaml:"user_id"`
	AssetID string `yaml:"asset_id"`
	Name    string `yaml:"name"`
}

// Preset holds the per-variant defaults.
type Preset struct {
	MinCapacity  int                   `yaml:"min_capacity"`
	MaxCapacity  int                   `yaml:"max_capacity"`
	BaseCooldown time.Duration         `yaml:"base_cooldown"`
	ResetDelay   time.Duration         `yaml:"reset_delay"`
	PhaseDelays  map[Phase]Delay       `yaml:"phase_delays"`
	Economics    payout.TokenEconomics `yaml:"economics"`
}

// Presets is the full preset document.
type Presets struct {
	NPC      NPC                `yaml:"npc"`
	Variants map[Variant]Preset `yaml:"variants"`
	Cooldown cooldown.Table     `yaml:"cooldown_bonus"`
}

// DefaultPresets returns the embedded presets.
func DefaultPresets() (Presets, error) {
	return ParsePresets(defaultPresetsYAML)
}

// LoadPresets reads presets from path, or the embedded defaults when path is
// empty.
func LoadPresets(path string) (Presets, error) {
	if path == "" {
		return DefaultPresets()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Presets{}, fmt.Errorf("read presets %s: %w", path, err)
	}
	return ParsePresets(data)
}

// ParsePresets decodes and validates a presets document.
func ParsePresets(data []byte) (Presets, error) {
	var presets Presets
	if err := yaml.Unmarshal(data, &presets); err != nil {
		return Presets{}, apperrors.Wrap(apperrors.CodeSettingsInvalid, "decode presets", err)
	}
	if err := presets.Validate(); err != nil {
		return Presets{}, err
	}
	return presets, nil
}

// Validate checks every variant has a usable preset.
func (p Presets) Validate() error {
	for _, v := range Variants {
		preset, ok := p.Variants[v]
		if !ok {
			return invalid(fmt.Sprintf("missing preset for variant %s", v), v)
		}
		if preset.MinCapacity < 1 || preset.MaxCapacity < preset.MinCapacity {
			return invalid(fmt.Sprintf("variant %s capacity %d..%d is invalid", v, preset.MinCapacity, preset.MaxCapacity), v)
		}
		if preset.BaseCooldown < 0 || preset.ResetDelay < 0 {
			return invalid(fmt.Sprintf("variant %s durations must not be negative", v), v)
		}
		if err := validatePhaseDelays(v, preset.PhaseDelays); err != nil {
			return err
		}
		if preset.Economics.BaseAmount < 0 {
			return invalid(fmt.Sprintf("variant %s base amount must not be negative", v), v)
		}
	}
	for v := range p.Variants {
		if !v.Valid() {
			return apperrors.WithMetadata(apperrors.CodeSettingsUnknownVariant,
				fmt.Sprintf("unknown game variant %q", v), map[string]string{"Variant": string(v)})
		}
	}
	if p.NPC.UserID == "" || p.NPC.AssetID == "" {
		return invalid("npc user_id and asset_id are required", "")
	}
	return p.Cooldown.Validate()
}

func validatePhaseDelays(v Variant, delays map[Phase]Delay) error {
	if len(delays) != len(Phases) {
		return invalid(fmt.Sprintf("variant %s needs a delay for each of %v", v, Phases), v)
	}
	for _, phase := range Phases {
		d, ok := delays[phase]
		if !ok {
			return invalid(fmt.Sprintf("variant %s is missing the %s phase delay", v, phase), v)
		}
		if d.Min < 0 || d.Max < d.Min {
			return invalid(fmt.Sprintf("variant %s %s phase delay %s..%s is invalid", v, phase, d.Min, d.Max), v)
		}
	}
	return nil
}

func invalid(message string, v Variant) error {
	return apperrors.WithMetadata(apperrors.CodeSettingsInvalid, message, map[string]string{"Variant": string(v)})
}

// ChannelConfig is the persisted configuration of one game channel.
type ChannelConfig struct {
	ChannelID string
	Variant   Variant
	// PayoutModifier scales every payout in the channel when set.
	PayoutModifier *float64
	// BaseCooldown overrides the variant's base cooldown when set.
	BaseCooldown *time.Duration
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GameSettings is the immutable configuration of one session.
type GameSettings struct {
	ChannelID      string
	Variant        Variant
	MinCapacity    int
	MaxCapacity    int
	BaseCooldown   time.Duration
	Economics      payout.TokenEconomics
	PayoutModifier *float64
	PhaseDelays    map[Phase]Delay
	ResetDelay     time.Duration
	// NPC is set for house variants.
	NPC *NPC
}

// Build merges a channel config over its variant preset.
func (p Presets) Build(cfg ChannelConfig) (GameSettings, error) {
	if cfg.ChannelID == "" {
		return GameSettings{}, invalid("channel id is required", cfg.Variant)
	}
	if !cfg.Variant.Valid() {
		_, err := ParseVariant(string(cfg.Variant))
		return GameSettings{}, err
	}
	preset, ok := p.Variants[cfg.Variant]
	if !ok {
		return GameSettings{}, invalid(fmt.Sprintf("missing preset for variant %s", cfg.Variant), cfg.Variant)
	}

	gs := GameSettings{
		ChannelID:    cfg.ChannelID,
		Variant:      cfg.Variant,
		MinCapacity:  preset.MinCapacity,
		MaxCapacity:  preset.MaxCapacity,
		BaseCooldown: preset.BaseCooldown,
		Economics:    preset.Economics,
		PhaseDelays:  maps.Clone(preset.PhaseDelays),
		ResetDelay:   preset.ResetDelay,
	}
	if cfg.PayoutModifier != nil {
		modifier := *cfg.PayoutModifier
		gs.PayoutModifier = &modifier
	}
	if cfg.BaseCooldown != nil {
		if *cfg.BaseCooldown < 0 {
			return GameSettings{}, invalid("base cooldown override must not be negative", cfg.Variant)
		}
		gs.BaseCooldown = *cfg.BaseCooldown
	}
	if cfg.Variant.HasHouse() {
		npc := p.NPC
		gs.NPC = &npc
	}
	return gs, nil
}

// PhaseDelay returns the wait after rendering phase. Unknown phases do not
// wait.
func (gs GameSettings) PhaseDelay(phase Phase) Delay {
	return gs.PhaseDelays[phase]
}
