// Package cooldown rolls the randomized rest-period adjustment an asset gets
// after a game, based on how its owner compares with the population.
package cooldown

import (
	"fmt"
	"math"
	"time"

	apperrors "github.com/louisbranch/daruma/internal/platform/errors"
)

// Direction records which adjustment, if any, a roll applied.
type Direction int

const (
	// DirectionNone leaves the base cooldown unchanged.
	DirectionNone Direction = iota
	// DirectionIncrease lengthens the base cooldown.
	DirectionIncrease
	// DirectionDecrease shortens the base cooldown.
	DirectionDecrease
)

func (d Direction) String() string {
	switch d {
	case DirectionIncrease:
		return "increase"
	case DirectionDecrease:
		return "decrease"
	default:
		return "none"
	}
}

// Bounds are the maximum chance contributions of one factor, as fractions.
type Bounds struct {
	IncreaseMax float64 `yaml:"increase_max"`
	DecreaseMax float64 `yaml:"decrease_max"`
}

// Factor selects Above when the asset's stat is over the population average
// and Below otherwise.
type Factor struct {
	Above Bounds `yaml:"above"`
	Below Bounds `yaml:"below"`
}

// Table configures the calculator.
type Table struct {
	GamesPlayed Factor `yaml:"games_played"`
	TotalAssets Factor `yaml:"total_assets"`
	// Rank is lower-is-better, so Below means a better than average rank.
	Rank Factor `yaml:"rank"`

	BaseIncreaseChance float64 `yaml:"base_increase_chance"`
	BaseDecreaseChance float64 `yaml:"base_decrease_chance"`

	MaxIncreaseTimePercent float64 `yaml:"max_increase_time_percent"`
	MaxDecreaseTimePercent float64 `yaml:"max_decrease_time_percent"`
}

// DefaultTable returns the table used when presets do not override it.
func DefaultTable() Table {
	return Table{
		GamesPlayed: Factor{
			Above: Bounds{IncreaseMax: 0.10},
			Below: Bounds{DecreaseMax: 0.10},
		},
		TotalAssets: Factor{
			Above: Bounds{IncreaseMax: 0.05},
			Below: Bounds{DecreaseMax: 0.05},
		},
		Rank: Factor{
			Above: Bounds{DecreaseMax: 0.05},
			Below: Bounds{IncreaseMax: 0.05},
		},
		BaseIncreaseChance:     0.05,
		BaseDecreaseChance:     0.05,
		MaxIncreaseTimePercent: 0.50,
		MaxDecreaseTimePercent: 0.50,
	}
}

// Validate checks every fraction in the table lies in [0, 1].
func (t Table) Validate() error {
	fields := map[string]float64{
		"games_played.above.increase_max": t.GamesPlayed.Above.IncreaseMax,
		"games_played.above.decrease_max": t.GamesPlayed.Above.DecreaseMax,
		"games_played.below.increase_max": t.GamesPlayed.Below.IncreaseMax,
		"games_played.below.decrease_max": t.GamesPlayed.Below.DecreaseMax,
		"total_assets.above.increase_max": t.TotalAssets.Above.IncreaseMax,
		"total_assets.above.decrease_max": t.TotalAssets.Above.DecreaseMax,
		"total_assets.below.increase_max": t.TotalAssets.Below.IncreaseMax,
		"total_assets.below.decrease_max": t.TotalAssets.Below.DecreaseMax,
		"rank.above.increase_max":         t.Rank.Above.IncreaseMax,
		"rank.above.decrease_max":         t.Rank.Above.DecreaseMax,
		"rank.below.increase_max":         t.Rank.Below.IncreaseMax,
		"rank.below.decrease_max":         t.Rank.Below.DecreaseMax,
		"base_increase_chance":            t.BaseIncreaseChance,
		"base_decrease_chance":            t.BaseDecreaseChance,
		"max_increase_time_percent":       t.MaxIncreaseTimePercent,
		"max_decrease_time_percent":       t.MaxDecreaseTimePercent,
	}
	for name, value := range fields {
		if math.IsNaN(value) || value < 0 || value > 1 {
			return apperrors.WithMetadata(
				apperrors.CodeSettingsInvalid,
				fmt.Sprintf("cooldown table %s must be within [0, 1], got %v", name, value),
				map[string]string{"Field": name},
			)
		}
	}
	return nil
}

// maxChances returns the highest chance each direction can reach.
func (t Table) maxChances() (increase, decrease float64) {
	increase = t.BaseIncreaseChance
	decrease = t.BaseDecreaseChance
	for _, f := range []Factor{t.GamesPlayed, t.TotalAssets, t.Rank} {
		increase += math.Max(f.Above.IncreaseMax, f.Below.IncreaseMax)
		decrease += math.Max(f.Above.DecreaseMax, f.Below.DecreaseMax)
	}
	return math.Min(increase, 1), math.Min(decrease, 1)
}

// AssetStats describes the asset being cooled down and its owner.
type AssetStats struct {
	GamesPlayed int
	TotalAssets int
	Rank        int
}

// PopulationStats holds population averages for each factor.
type PopulationStats struct {
	AverageGamesPlayed float64
	AverageTotalAssets float64
	AverageRank        float64
}

// Chances are independent probabilities, each in [0, 1].
type Chances struct {
	Increase float64
	Decrease float64
}

// Result is the outcome of one Roll.
type Result struct {
	Chances   Chances
	Direction Direction
	// Adjustment is the signed change applied to the base cooldown.
	Adjustment time.Duration
	// Duration is the final cooldown, never negative.
	Duration time.Duration
}

// Modified reports whether the roll changed the base cooldown.
func (r Result) Modified() bool {
	return r.Direction != DirectionNone
}

// Float64Source yields uniform values in [0, 1).
type Float64Source interface {
	Float64() float64
}

// Calculator rolls cooldown adjustments against a Table.
type Calculator struct {
	table Table
	rng   Float64Source
}

// NewCalculator returns a Calculator drawing coins from rng.
func NewCalculator(table Table, rng Float64Source) *Calculator {
	return &Calculator{table: table, rng: rng}
}

// Chances computes the increase and decrease probabilities for asset.
func (c *Calculator) Chances(asset AssetStats, population PopulationStats) Chances {
	inc := c.table.BaseIncreaseChance
	dec := c.table.BaseDecreaseChance

	factors := []struct {
		factor  Factor
		average float64
		stat    int
	}{
		{c.table.GamesPlayed, population.AverageGamesPlayed, asset.GamesPlayed},
		{c.table.TotalAssets, population.AverageTotalAssets, asset.TotalAssets},
		{c.table.Rank, population.AverageRank, asset.Rank},
	}
	for _, f := range factors {
		i, d := factorChances(f.factor, f.average, f.stat)
		inc += i
		dec += d
	}
	return Chances{Increase: clamp01(inc), Decrease: clamp01(dec)}
}

func factorChances(factor Factor, average float64, stat int) (increase, decrease float64) {
	if average == 0 {
		return 0, 0
	}
	value := float64(stat - 1)
	difference := math.Abs(average - value)
	bounds := factor.Below
	if value > average {
		bounds = factor.Above
	}
	increase = math.Min(bounds.IncreaseMax, bounds.IncreaseMax/average*difference)
	decrease = math.Min(bounds.DecreaseMax, bounds.DecreaseMax/average*difference)
	return increase, decrease
}

// Roll flips the increase coin, then the decrease coin only if the first
// missed, and returns the adjusted cooldown.
func (c *Calculator) Roll(asset AssetStats, population PopulationStats, base time.Duration) Result {
	chances := c.Chances(asset, population)
	result := Result{Chances: chances, Duration: base}

	maxInc, maxDec := c.table.maxChances()
	increaseCoin := c.rng.Float64()
	decreaseCoin := c.rng.Float64()

	switch {
	case increaseCoin < chances.Increase:
		result.Direction = DirectionIncrease
		result.Adjustment = timeContribution(chances.Increase, maxInc, c.table.MaxIncreaseTimePercent, base)
	case decreaseCoin < chances.Decrease:
		result.Direction = DirectionDecrease
		result.Adjustment = -timeContribution(chances.Decrease, maxDec, c.table.MaxDecreaseTimePercent, base)
	}

	result.Duration = base + result.Adjustment
	if result.Duration < 0 {
		result.Duration = 0
	}
	return result
}

func timeContribution(chance, maxChance, maxTimePercent float64, base time.Duration) time.Duration {
	if maxChance <= 0 || base <= 0 {
		return 0
	}
	ratio := math.Min(chance/maxChance, 1)
	return time.Duration(ratio * maxTimePercent * float64(base))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
