// Package gamestate holds the copy-on-write round and turn state machine of a
// single channel's game.
//
// State is a value type. Every transition returns a new State and leaves the
// receiver untouched, and roster slices are cloned before they are written, so
// a State handed to a renderer stays valid while the session moves on.
package gamestate

import (
	"fmt"
	"slices"
	"time"

	apperrors "github.com/louisbranch/daruma/internal/platform/errors"
	"github.com/louisbranch/daruma/internal/services/game/domain/dice"
	"github.com/louisbranch/daruma/internal/services/game/domain/payout"
)

// Status is the lifecycle stage of a game.
type Status int

const (
	StatusWaitingRoom Status = iota
	StatusActiveGame
	StatusWin
	StatusFinished
	StatusMaintenance
)

// String returns a stable label for a status.
func (s Status) String() string {
	switch s {
	case StatusWaitingRoom:
		return "WAITING_ROOM"
	case StatusActiveGame:
		return "ACTIVE_GAME"
	case StatusWin:
		return "WIN"
	case StatusFinished:
		return "FINISHED"
	case StatusMaintenance:
		return "MAINTENANCE"
	default:
		return "UNSPECIFIED"
	}
}

var (
	// ErrInvalidTransition indicates a disallowed status change.
	ErrInvalidTransition = apperrors.New(apperrors.CodeGameInvalidTransition, "game status transition is not allowed")
	// ErrWinInfoNotComputed indicates win detection ran before FindZenAndWinners.
	ErrWinInfoNotComputed = apperrors.New(apperrors.CodeGameWinInfoNotComputed, "win info has not been computed")
	// ErrWinnersAlreadyComputed indicates FindZenAndWinners ran twice for one game.
	ErrWinnersAlreadyComputed = apperrors.New(apperrors.CodeGameWinnersAlreadyComputed, "winners already computed for this game")
	// ErrPlayerIndexOutOfRange indicates SetCurrentPlayer got an index outside the roster.
	ErrPlayerIndexOutOfRange = apperrors.New(apperrors.CodeGamePlayerIndexOutOfRange, "player index out of range")
)

// Player is one registered entry in a game.
type Player struct {
	UserID    string
	AssetID   string
	AssetName string
	IsNPC     bool
	Trace     dice.RoundsTrace

	IsWinner bool
	// CooldownModified is set when the post-game cooldown roll changed the base.
	CooldownModified bool
	// RandomCooldown is the cooldown the asset received after the game.
	RandomCooldown time.Duration
}

// RoundState walks every player's trace in lockstep.
type RoundState struct {
	RoundIndex         int
	RollIndex          int
	CurrentPlayerIndex int
}

// Position returns the shared round and roll position.
func (r RoundState) Position() dice.Position {
	return dice.Position{RoundIndex: r.RoundIndex, RollIndex: r.RollIndex}
}

// WinInfo is the outcome of FindZenAndWinners.
type WinInfo struct {
	Computed bool
	Position dice.Position
	Zen      bool
	Payout   int64
}

// State is the full game state of one channel.
type State struct {
	Status      Status
	Round       RoundState
	Win         WinInfo
	Players     []Player
	EncounterID string
}

// New returns an empty waiting room.
func New() State {
	return State{Status: StatusWaitingRoom}
}

func transition(s State, target Status) (State, error) {
	if !isTransitionAllowed(s.Status, target) {
		from := s.Status.String()
		to := target.String()
		return s, apperrors.WithMetadata(
			apperrors.CodeGameInvalidTransition,
			fmt.Sprintf("game status transition not allowed: %s -> %s", from, to),
			map[string]string{"FromStatus": from, "ToStatus": to},
		)
	}
	updated := s
	updated.Status = target
	return updated, nil
}

// isTransitionAllowed reports whether a status transition is permitted.
func isTransitionAllowed(from, to Status) bool {
	switch from {
	case StatusWaitingRoom:
		return to == StatusActiveGame || to == StatusMaintenance || to == StatusWaitingRoom
	case StatusActiveGame:
		return to == StatusWin
	case StatusWin:
		return to == StatusFinished
	case StatusFinished, StatusMaintenance:
		return to == StatusWaitingRoom
	default:
		return false
	}
}

// CanStartGame reports whether the waiting room is full.
func (s State) CanStartGame(maxCapacity int) bool {
	return s.Status == StatusWaitingRoom && len(s.Players) > 0 && len(s.Players) >= maxCapacity
}

// StartGame moves a waiting room into play under encounterID.
func (s State) StartGame(encounterID string) (State, error) {
	updated, err := transition(s, StatusActiveGame)
	if err != nil {
		return s, err
	}
	updated.EncounterID = encounterID
	updated.Round = RoundState{}
	updated.Win = WinInfo{}
	updated.Players = slices.Clone(s.Players)
	for i := range updated.Players {
		updated.Players[i].IsWinner = false
	}
	return updated, nil
}

// CheckForWin reports whether the shared position has reached the recorded
// win, or the game already left play.
func (s State) CheckForWin() (bool, error) {
	if s.Status == StatusWin {
		return true, nil
	}
	if !s.Win.Computed {
		return false, ErrWinInfoNotComputed
	}
	return s.Round.Position() == s.Win.Position, nil
}

// NextRoll advances the shared position after a full roster pass, or moves
// to Win once the recorded winning position has been shown.
func (s State) NextRoll() (State, error) {
	if s.Status != StatusActiveGame {
		return s, apperrors.WithMetadata(
			apperrors.CodeGameInvalidTransition,
			fmt.Sprintf("next roll requires %s, got %s", StatusActiveGame, s.Status),
			map[string]string{"FromStatus": s.Status.String(), "ToStatus": StatusActiveGame.String()},
		)
	}
	won, err := s.CheckForWin()
	if err != nil {
		return s, err
	}
	if won {
		return transition(s, StatusWin)
	}

	updated := s
	if (s.Round.RollIndex+1)%dice.RollsPerRound == 0 {
		updated.Round.RoundIndex++
		updated.Round.RollIndex = 0
	} else {
		updated.Round.RollIndex++
	}
	updated.Round.CurrentPlayerIndex = 0
	return updated, nil
}

// FindZenAndWinners records the earliest winning position, marks every player
// reaching it, and computes the payout. It runs once per game.
func (s State) FindZenAndWinners(econ payout.TokenEconomics, modifier *float64) (State, error) {
	if s.Win.Computed {
		return s, ErrWinnersAlreadyComputed
	}
	if len(s.Players) == 0 {
		return s, apperrors.New(apperrors.CodeGameWinInfoNotComputed, "cannot compute winners without players")
	}

	earliest := s.Players[0].Trace.Winning
	for _, p := range s.Players[1:] {
		if p.Trace.Winning.Before(earliest) {
			earliest = p.Trace.Winning
		}
	}

	updated := s
	updated.Players = slices.Clone(s.Players)
	winners := 0
	for i := range updated.Players {
		isWinner := updated.Players[i].Trace.Winning == earliest
		updated.Players[i].IsWinner = isWinner
		if isWinner {
			winners++
		}
	}
	zen := winners > 1
	updated.Win = WinInfo{
		Computed: true,
		Position: earliest,
		Zen:      zen,
		Payout:   payout.Calculate(earliest.RoundNumber(), econ, zen, modifier),
	}
	return updated, nil
}

// FinishGame closes a won game.
func (s State) FinishGame() (State, error) {
	return transition(s, StatusFinished)
}

// ForceWin ends an active game early. Winners are those already computed.
func (s State) ForceWin() (State, error) {
	return transition(s, StatusWin)
}

// Maintenance parks an idle waiting room.
func (s State) Maintenance() (State, error) {
	return transition(s, StatusMaintenance)
}

// Reset returns a fresh, empty waiting room.
func (s State) Reset() (State, error) {
	if _, err := transition(s, StatusWaitingRoom); err != nil {
		return s, err
	}
	return New(), nil
}

// PlayerIndex returns the roster index of userID, or -1.
func (s State) PlayerIndex(userID string) int {
	return slices.IndexFunc(s.Players, func(p Player) bool { return p.UserID == userID })
}

// HasAsset reports whether assetID is already seated.
func (s State) HasAsset(assetID string) bool {
	return slices.ContainsFunc(s.Players, func(p Player) bool { return p.AssetID == assetID })
}

// AddPlayer seats p. It returns false without change when the owner or asset
// is already seated or the game is not a waiting room.
func (s State) AddPlayer(p Player) (State, bool) {
	if s.Status != StatusWaitingRoom || s.PlayerIndex(p.UserID) >= 0 || s.HasAsset(p.AssetID) {
		return s, false
	}
	updated := s
	updated.Players = append(slices.Clone(s.Players), p)
	return updated, true
}

// RemovePlayer unseats userID. It returns false without change when the
// owner is not seated or the game is not a waiting room.
func (s State) RemovePlayer(userID string) (State, bool) {
	idx := s.PlayerIndex(userID)
	if s.Status != StatusWaitingRoom || idx < 0 {
		return s, false
	}
	updated := s
	updated.Players = slices.Delete(slices.Clone(s.Players), idx, idx+1)
	return updated, true
}

// SetCurrentPlayer marks whose turn is being rendered.
func (s State) SetCurrentPlayer(index int) (State, error) {
	if index < 0 || index >= len(s.Players) {
		return s, apperrors.WithMetadata(
			apperrors.CodeGamePlayerIndexOutOfRange,
			fmt.Sprintf("player index %d out of range [0, %d)", index, len(s.Players)),
			map[string]string{"Index": fmt.Sprint(index)},
		)
	}
	updated := s
	updated.Round.CurrentPlayerIndex = index
	return updated, nil
}

// CurrentPlayer returns the player whose turn is being rendered.
func (s State) CurrentPlayer() (Player, bool) {
	if s.Round.CurrentPlayerIndex < 0 || s.Round.CurrentPlayerIndex >= len(s.Players) {
		return Player{}, false
	}
	return s.Players[s.Round.CurrentPlayerIndex], true
}

// Winners returns the players marked as winners.
func (s State) Winners() []Player {
	var winners []Player
	for _, p := range s.Players {
		if p.IsWinner {
			winners = append(winners, p)
		}
	}
	return winners
}

// WithCooldown records the post-game cooldown of the player seated with
// assetID.
func (s State) WithCooldown(assetID string, cooldown time.Duration, modified bool) State {
	idx := slices.IndexFunc(s.Players, func(p Player) bool { return p.AssetID == assetID })
	if idx < 0 {
		return s
	}
	updated := s
	updated.Players = slices.Clone(s.Players)
	updated.Players[idx].RandomCooldown = cooldown
	updated.Players[idx].CooldownModified = modified
	return updated
}

// Clone returns a State sharing no roster memory with s.
func (s State) Clone() State {
	c := s
	c.Players = slices.Clone(s.Players)
	return c
}
