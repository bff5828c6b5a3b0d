// Package payout computes the token reward for a finished game.
package payout

import (
	"github.com/shopspring/decimal"
)

// RoundOffset is subtracted from the winning round before it scales the
// payout; games won in round five or earlier pay the flat base.
const RoundOffset = 5

// TokenEconomics holds the per-variant payout inputs.
type TokenEconomics struct {
	BaseAmount       float64 `yaml:"base_amount" json:"base_amount"`
	RoundModifier    float64 `yaml:"round_modifier" json:"round_modifier"`
	ZenMultiplier    float64 `yaml:"zen_multiplier" json:"zen_multiplier"`
	ZenRoundModifier float64 `yaml:"zen_round_modifier" json:"zen_round_modifier"`
}

// RoundMultiplier returns max(0, winningRound-RoundOffset).
func RoundMultiplier(winningRound int) int {
	if winningRound <= RoundOffset {
		return 0
	}
	return winningRound - RoundOffset
}

// Calculate returns the per-winner payout for a game whose earliest win landed
// in the 1-based winningRound. A nil modifier counts as 1. The result is
// floored and never negative.
func Calculate(winningRound int, econ TokenEconomics, zen bool, modifier *float64) int64 {
	mult := decimal.NewFromInt(int64(RoundMultiplier(winningRound)))

	regular := decimal.NewFromFloat(econ.BaseAmount).
		Add(decimal.NewFromFloat(econ.RoundModifier).Mul(mult))

	amount := regular
	if zen {
		zenFactor := decimal.NewFromFloat(econ.ZenRoundModifier).Mul(mult).
			Add(decimal.NewFromFloat(econ.ZenMultiplier))
		amount = regular.Mul(zenFactor)
	}
	if modifier != nil {
		amount = amount.Mul(decimal.NewFromFloat(*modifier))
	}

	amount = amount.Floor()
	if amount.IsNegative() {
		return 0
	}
	return amount.IntPart()
}
