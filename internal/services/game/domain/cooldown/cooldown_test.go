package cooldown

import (
	"errors"
	"math"
	"testing"
	"time"

	apperrors "github.com/louisbranch/daruma/internal/platform/errors"
	"github.com/louisbranch/daruma/internal/random"
)

type coins []float64

func (c *coins) Float64() float64 {
	v := (*c)[0]
	*c = (*c)[1:]
	return v
}

func near(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func nearDuration(a, b time.Duration) bool {
	return (a - b).Abs() <= time.Millisecond
}

var (
	sampleAsset      = AssetStats{GamesPlayed: 11, TotalAssets: 1, Rank: 1}
	samplePopulation = PopulationStats{AverageGamesPlayed: 10, AverageTotalAssets: 5, AverageRank: 10}
)

func TestChances(t *testing.T) {
	calc := NewCalculator(DefaultTable(), &coins{})
	got := calc.Chances(sampleAsset, samplePopulation)
	if !near(got.Increase, 0.10, 1e-9) || !near(got.Decrease, 0.10, 1e-9) {
		t.Fatalf("chances = %+v, want 0.10/0.10", got)
	}
}

func TestChancesZeroAverageUsesBaseOnly(t *testing.T) {
	calc := NewCalculator(DefaultTable(), &coins{})
	got := calc.Chances(AssetStats{GamesPlayed: 50, TotalAssets: 9, Rank: 3}, PopulationStats{})
	if got.Increase != 0.05 || got.Decrease != 0.05 {
		t.Fatalf("chances = %+v, want base chances", got)
	}
}

func TestChancesCapsPerFactor(t *testing.T) {
	calc := NewCalculator(DefaultTable(), &coins{})
	// far above average on games played: capped at 0.10
	got := calc.Chances(AssetStats{GamesPlayed: 1000, TotalAssets: 3, Rank: 3}, PopulationStats{AverageGamesPlayed: 2, AverageTotalAssets: 2, AverageRank: 2})
	if !near(got.Increase, 0.15, 1e-9) {
		t.Fatalf("increase = %v, want 0.15", got.Increase)
	}
}

func TestRollIncrease(t *testing.T) {
	calc := NewCalculator(DefaultTable(), &coins{0.05, 0.01})
	got := calc.Roll(sampleAsset, samplePopulation, time.Hour)
	if got.Direction != DirectionIncrease {
		t.Fatalf("direction = %v, want increase", got.Direction)
	}
	// 0.10/0.25 * 0.5 * 1h
	if !nearDuration(got.Duration, 72*time.Minute) {
		t.Fatalf("duration = %v, want 72m", got.Duration)
	}
	if !got.Modified() {
		t.Fatal("expected modified result")
	}
}

func TestRollDecrease(t *testing.T) {
	calc := NewCalculator(DefaultTable(), &coins{0.5, 0.05})
	got := calc.Roll(sampleAsset, samplePopulation, time.Hour)
	if got.Direction != DirectionDecrease {
		t.Fatalf("direction = %v, want decrease", got.Direction)
	}
	if !nearDuration(got.Duration, 48*time.Minute) {
		t.Fatalf("duration = %v, want 48m", got.Duration)
	}
	if got.Adjustment >= 0 {
		t.Fatalf("adjustment = %v, want negative", got.Adjustment)
	}
}

func TestRollNoChange(t *testing.T) {
	calc := NewCalculator(DefaultTable(), &coins{0.9, 0.9})
	got := calc.Roll(sampleAsset, samplePopulation, time.Hour)
	if got.Direction != DirectionNone || got.Duration != time.Hour || got.Adjustment != 0 {
		t.Fatalf("result = %+v, want unchanged", got)
	}
}

func TestRollIncreaseShortCircuitsDecrease(t *testing.T) {
	calc := NewCalculator(DefaultTable(), &coins{0.0, 0.0})
	got := calc.Roll(sampleAsset, samplePopulation, time.Hour)
	if got.Direction != DirectionIncrease {
		t.Fatalf("direction = %v, want increase", got.Direction)
	}
	if got.Duration <= time.Hour {
		t.Fatalf("duration = %v, want above base", got.Duration)
	}
}

func TestRollNeverNegative(t *testing.T) {
	table := DefaultTable()
	table.MaxDecreaseTimePercent = 1
	table.BaseIncreaseChance = 0
	rng := random.NewSource(7)
	calc := NewCalculator(table, rng)
	for i := 0; i < 2000; i++ {
		asset := AssetStats{
			GamesPlayed: rng.Intn(100),
			TotalAssets: rng.Intn(20),
			Rank:        rng.Intn(500),
		}
		population := PopulationStats{
			AverageGamesPlayed: rng.Float64() * 50,
			AverageTotalAssets: rng.Float64() * 10,
			AverageRank:        rng.Float64() * 250,
		}
		base := time.Duration(rng.Intn(48)) * time.Hour
		got := calc.Roll(asset, population, base)
		if got.Duration < 0 {
			t.Fatalf("duration = %v, want non-negative", got.Duration)
		}
		if got.Chances.Increase < 0 || got.Chances.Increase > 1 || got.Chances.Decrease < 0 || got.Chances.Decrease > 1 {
			t.Fatalf("chances = %+v out of range", got.Chances)
		}
		switch got.Direction {
		case DirectionNone:
			if got.Duration != base {
				t.Fatalf("unmodified duration = %v, want %v", got.Duration, base)
			}
		case DirectionIncrease:
			if got.Duration < base {
				t.Fatalf("increase shortened cooldown: %v < %v", got.Duration, base)
			}
		case DirectionDecrease:
			if got.Duration > base {
				t.Fatalf("decrease lengthened cooldown: %v > %v", got.Duration, base)
			}
		}
	}
}

func TestTableValidate(t *testing.T) {
	if err := DefaultTable().Validate(); err != nil {
		t.Fatalf("default table: %v", err)
	}
	table := DefaultTable()
	table.Rank.Above.DecreaseMax = 1.5
	err := table.Validate()
	if !errors.Is(err, apperrors.New(apperrors.CodeSettingsInvalid, "")) {
		t.Fatalf("err = %v, want settings invalid", err)
	}
}
