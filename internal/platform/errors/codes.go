// Package errors provides structured domain errors with machine-readable codes.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Game state errors
	CodeGameInvalidTransition      Code = "GAME_INVALID_TRANSITION"
	CodeGameWinInfoNotComputed     Code = "GAME_WIN_INFO_NOT_COMPUTED"
	CodeGameWinnersAlreadyComputed Code = "GAME_WINNERS_ALREADY_COMPUTED"
	CodeGamePlayerIndexOutOfRange  Code = "GAME_PLAYER_INDEX_OUT_OF_RANGE"

	// Dice errors
	CodeDiceNoWinningRoll             Code = "DICE_NO_WINNING_ROLL"
	CodeDiceNoWinningRollAfterRetries Code = "DICE_NO_WINNING_ROLL_AFTER_RETRIES"
	CodeDiceInvalidValue              Code = "DICE_INVALID_VALUE"

	// Settings errors
	CodeSettingsInvalid        Code = "SETTINGS_INVALID"
	CodeSettingsUnknownVariant Code = "SETTINGS_UNKNOWN_VARIANT"

	// Channel errors
	CodeChannelNotFound       Code = "CHANNEL_NOT_FOUND"
	CodeChannelConfigNotFound Code = "CHANNEL_CONFIG_NOT_FOUND"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// IsKnown reports whether c is one of the declared codes.
func (c Code) IsKnown() bool {
	switch c {
	case CodeUnknown,
		CodeGameInvalidTransition,
		CodeGameWinInfoNotComputed,
		CodeGameWinnersAlreadyComputed,
		CodeGamePlayerIndexOutOfRange,
		CodeDiceNoWinningRoll,
		CodeDiceNoWinningRollAfterRetries,
		CodeDiceInvalidValue,
		CodeSettingsInvalid,
		CodeSettingsUnknownVariant,
		CodeChannelNotFound,
		CodeChannelConfigNotFound,
		CodeNotFound:
		return true
	default:
		return false
	}
}
