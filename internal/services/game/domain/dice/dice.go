// Package dice resolves a player's complete Daruma Training dice trace.
//
// A trace is computed once, eagerly, when a player takes a seat: the whole
// game is already decided before the first board is rendered, and the render
// loop only walks the precomputed rolls.
//
// # Scoring
//
// Each raw die value (1-6) maps to a damage value (1-MaxDamage) by splitting
// the die faces into MaxDamage equal bands. Damage accumulates from zero. A
// score above WinningScore falls back to ResetScore; the first roll landing on
// exactly WinningScore is the winning roll and closes the trace.
//
// # Grouping
//
// Rolls are grouped into rounds of RollsPerRound. Every round except the last
// is full; the last round ends on the winning roll.
package dice

import (
	"fmt"

	apperrors "github.com/louisbranch/daruma/internal/platform/errors"
)

const (
	// DieSides is the number of faces on a die.
	DieSides = 6
	// MaxDamage is the highest damage a single roll can deal.
	MaxDamage = 3
	// WinningScore is the exact score a player must land on to win.
	WinningScore = 21
	// ResetScore is where a score above WinningScore falls back to.
	ResetScore = 15
	// RollsPerRound is the number of rolls grouped into one round.
	RollsPerRound = 3
	// SequenceLength is how many raw values one resolution attempt draws.
	SequenceLength = 100
	// MaxAttempts bounds how many fresh sequences RollTrace tries.
	MaxAttempts = 3
)

var (
	// ErrNoWinningRollFound indicates a sequence never landed on WinningScore.
	ErrNoWinningRollFound = apperrors.New(apperrors.CodeDiceNoWinningRoll, "no winning roll found")
	// ErrNoWinningRollAfterRetries indicates every attempt in RollTrace failed.
	ErrNoWinningRollAfterRetries = apperrors.New(apperrors.CodeDiceNoWinningRollAfterRetries, "no winning roll found after retries")
	// ErrInvalidDieValue indicates a raw value outside 1..DieSides.
	ErrInvalidDieValue = apperrors.New(apperrors.CodeDiceInvalidValue, "die values must be between 1 and 6")
)

// Source is the randomness provider for raw die values.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	Intn(n int) int
}

// Roll is one throw of the die.
type Roll struct {
	// Value is the raw face, 1-6.
	Value int `json:"value"`
	// Damage is Value mapped onto 1..MaxDamage.
	Damage int `json:"damage"`
	// TotalScore is the cumulative score after this roll (post-reset).
	TotalScore int `json:"total_score"`
	// Reset marks a roll whose score overshot and fell back to ResetScore.
	Reset bool `json:"reset,omitempty"`
}

// Round groups up to RollsPerRound rolls.
type Round struct {
	Rolls []Roll `json:"rolls"`
}

// Position addresses one roll inside a trace.
type Position struct {
	RoundIndex int `json:"round_index"`
	RollIndex  int `json:"roll_index"`
}

// Before reports whether p comes strictly earlier than other, comparing the
// round first and the roll second.
func (p Position) Before(other Position) bool {
	if p.RoundIndex != other.RoundIndex {
		return p.RoundIndex < other.RoundIndex
	}
	return p.RollIndex < other.RollIndex
}

// RoundNumber returns the 1-based round of p.
func (p Position) RoundNumber() int {
	return p.RoundIndex + 1
}

func (p Position) String() string {
	return fmt.Sprintf("round %d roll %d", p.RoundIndex+1, p.RollIndex+1)
}

// RoundsTrace is a player's full, precomputed game.
type RoundsTrace struct {
	Rounds  []Round  `json:"rounds"`
	Winning Position `json:"winning"`
}

// RollAt returns the roll at pos, or false when pos lies beyond the trace.
func (t RoundsTrace) RollAt(pos Position) (Roll, bool) {
	if pos.RoundIndex < 0 || pos.RoundIndex >= len(t.Rounds) {
		return Roll{}, false
	}
	rolls := t.Rounds[pos.RoundIndex].Rolls
	if pos.RollIndex < 0 || pos.RollIndex >= len(rolls) {
		return Roll{}, false
	}
	return rolls[pos.RollIndex], true
}

// ScoreAt returns the cumulative score visible at pos. Positions past the
// winning roll report the winning score.
func (t RoundsTrace) ScoreAt(pos Position) int {
	if roll, ok := t.RollAt(pos); ok {
		return roll.TotalScore
	}
	if t.Winning.Before(pos) {
		return WinningScore
	}
	return 0
}

// RollCount returns the number of rolls in the trace.
func (t RoundsTrace) RollCount() int {
	count := 0
	for _, round := range t.Rounds {
		count += len(round.Rolls)
	}
	return count
}

// DamageFor maps a raw die value onto 1..maxDamage using equal-width bands.
func DamageFor(value, maxDamage int) int {
	if maxDamage <= 0 {
		maxDamage = MaxDamage
	}
	band := DieSides / maxDamage
	if band <= 0 {
		band = 1
	}
	damage := (value-1)/band + 1
	if damage > maxDamage {
		return maxDamage
	}
	return damage
}

// Resolve builds the trace for an ordered sequence of raw die values.
//
// Every total above WinningScore drops back to ResetScore, so a trace may
// reset more than once before its win. The trace ends on the winning roll and
// never resets after it.
//
// It returns ErrNoWinningRollFound when no prefix of values lands on exactly
// WinningScore, and ErrInvalidDieValue when a value is outside 1..DieSides.
func Resolve(values []int) (RoundsTrace, error) {
	var (
		rounds  []Round
		current Round
		score   int
	)
	for _, value := range values {
		if value < 1 || value > DieSides {
			return RoundsTrace{}, apperrors.WithMetadata(
				apperrors.CodeDiceInvalidValue,
				fmt.Sprintf("die value %d out of range", value),
				map[string]string{"Value": fmt.Sprint(value)},
			)
		}

		damage := DamageFor(value, MaxDamage)
		score += damage
		reset := false
		if score > WinningScore {
			score = ResetScore
			reset = true
		}
		current.Rolls = append(current.Rolls, Roll{
			Value:      value,
			Damage:     damage,
			TotalScore: score,
			Reset:      reset,
		})

		if score == WinningScore {
			rounds = append(rounds, current)
			return RoundsTrace{
				Rounds: rounds,
				Winning: Position{
					RoundIndex: len(rounds) - 1,
					RollIndex:  len(current.Rolls) - 1,
				},
			}, nil
		}
		if len(current.Rolls) == RollsPerRound {
			rounds = append(rounds, current)
			current = Round{}
		}
	}
	return RoundsTrace{}, ErrNoWinningRollFound
}

// RollValues draws n raw die values from src.
func RollValues(src Source, n int) []int {
	values := make([]int, n)
	for i := range values {
		values[i] = src.Intn(DieSides) + 1
	}
	return values
}

// RollTrace draws fresh sequences from src until one resolves, trying at most
// MaxAttempts times before returning ErrNoWinningRollAfterRetries.
func RollTrace(src Source) (RoundsTrace, error) {
	var lastErr error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		trace, err := Resolve(RollValues(src, SequenceLength))
		if err == nil {
			return trace, nil
		}
		lastErr = err
	}
	return RoundsTrace{}, apperrors.Wrap(
		apperrors.CodeDiceNoWinningRollAfterRetries,
		fmt.Sprintf("no winning roll after %d attempts", MaxAttempts),
		lastErr,
	)
}
