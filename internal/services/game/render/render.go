// Package render turns game state into channel messages.
//
// Output is plain text plus button descriptors; platform payload formatting
// belongs to the channel adapter.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/daruma/internal/services/game/domain/dice"
	"github.com/louisbranch/daruma/internal/services/game/domain/gamestate"
	"github.com/louisbranch/daruma/internal/services/game/domain/settings"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Button ids routed back into the game.
const (
	ButtonRegisterPlayer = "register-player"
	ButtonQuickJoin      = "quick-join"
	ButtonWithdrawPlayer = "withdraw-player"
	// ButtonSelectAssetPrefix is followed by the asset id.
	ButtonSelectAssetPrefix = "select-asset_"
)

// Kind identifies what a message shows.
type Kind string

const (
	KindWaitingRoom Kind = "waiting_room"
	KindBoard       Kind = "board"
	KindResult      Kind = "result"
	KindMaintenance Kind = "maintenance"
	KindReply       Kind = "reply"
)

// Button is an interactive control attached to a message.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Message is one rendered update for a channel or a user.
type Message struct {
	Kind    Kind     `json:"kind"`
	Content string   `json:"content"`
	Buttons []Button `json:"buttons,omitempty"`
	// Ephemeral replies are only shown to the interacting user.
	Ephemeral bool `json:"ephemeral,omitempty"`
}

// Phase is one step of a player's turn on the board.
type Phase = settings.Phase

const (
	PhaseRoll   = settings.PhaseRoll
	PhaseDamage = settings.PhaseDamage
	PhaseScore  = settings.PhaseScore
)

// Phases is the fixed order each turn is rendered in.
var Phases = settings.Phases

// Localizer is the minimal message-printer contract required by the renderer.
type Localizer interface {
	Sprintf(key message.Reference, args ...any) string
}

// NewLocalizer returns a printer for the given locale tag, falling back to
// English for unknown tags.
func NewLocalizer(tag string) Localizer {
	lang, err := language.Parse(strings.TrimSpace(tag))
	if err != nil {
		lang = language.English
	}
	return message.NewPrinter(lang)
}

// Reply keys for user-facing responses.
const (
	ReplyRegistered      = "reply.registered"
	ReplyAlreadySeated   = "reply.already_seated"
	ReplyWithdrawn       = "reply.withdrawn"
	ReplyNotSeated       = "reply.not_seated"
	ReplyGameFull        = "reply.game_full"
	ReplyGameInProgress  = "reply.game_in_progress"
	ReplyNoSession       = "reply.no_session"
	ReplyNoPlayable      = "reply.no_playable_assets"
	ReplyAssetNotFound   = "reply.asset_not_found"
	ReplyAssetOnCooldown = "reply.asset_on_cooldown"
	ReplyAssetBusy       = "reply.asset_busy"
	ReplyPickAsset       = "reply.pick_asset"
	ReplyFailed          = "reply.failed"
)

// Reply renders an ephemeral response.
func Reply(loc Localizer, key string, args ...any) Message {
	return Message{Kind: KindReply, Content: localize(loc, key, args...), Ephemeral: true}
}

// AssetChoice is one selectable asset in a pick list.
type AssetChoice struct {
	ID   string
	Name string
}

// AssetPicker renders the per-asset selection reply.
func AssetPicker(loc Localizer, choices []AssetChoice) Message {
	msg := Reply(loc, ReplyPickAsset)
	for _, c := range choices {
		label := c.Name
		if label == "" {
			label = c.ID
		}
		msg.Buttons = append(msg.Buttons, Button{ID: ButtonSelectAssetPrefix + c.ID, Label: label})
	}
	return msg
}

// WaitingRoom renders the registration board.
func WaitingRoom(loc Localizer, gs settings.GameSettings, st gamestate.State) Message {
	var b strings.Builder
	b.WriteString(localize(loc, "board.waiting_room.title", gs.Variant.DisplayName()))
	b.WriteByte('\n')
	b.WriteString(localize(loc, "board.waiting_room.capacity", len(st.Players), gs.MaxCapacity))
	for _, p := range st.Players {
		b.WriteByte('\n')
		b.WriteString(localize(loc, "board.waiting_room.player", playerLabel(p)))
	}
	return Message{
		Kind:    KindWaitingRoom,
		Content: b.String(),
		Buttons: []Button{
			{ID: ButtonRegisterPlayer, Label: localize(loc, "button.register")},
			{ID: ButtonQuickJoin, Label: localize(loc, "button.quick_join")},
			{ID: ButtonWithdrawPlayer, Label: localize(loc, "button.withdraw")},
		},
	}
}

// Board renders the shared position for one phase of the current turn.
// Players after the current one still show their score from the previous
// position.
func Board(loc Localizer, st gamestate.State, phase Phase) Message {
	pos := st.Round.Position()
	var b strings.Builder
	b.WriteString(localize(loc, "board.round", pos.RoundIndex+1, pos.RollIndex+1))
	for i, p := range st.Players {
		b.WriteByte('\n')
		switch {
		case i == st.Round.CurrentPlayerIndex:
			b.WriteString("> ")
			b.WriteString(currentTurnLine(loc, p, pos, phase))
		case i < st.Round.CurrentPlayerIndex:
			b.WriteString("  ")
			b.WriteString(localize(loc, "board.turn.score", playerLabel(p), scoreAt(p.Trace, pos)))
		default:
			b.WriteString("  ")
			b.WriteString(localize(loc, "board.turn.score", playerLabel(p), scoreAt(p.Trace, previousPosition(pos))))
		}
	}
	return Message{Kind: KindBoard, Content: b.String()}
}

func currentTurnLine(loc Localizer, p gamestate.Player, pos dice.Position, phase Phase) string {
	name := playerLabel(p)
	roll, ok := p.Trace.RollAt(pos)
	if !ok {
		return localize(loc, "board.turn.score", name, scoreAt(p.Trace, pos))
	}
	switch phase {
	case PhaseRoll:
		return localize(loc, "board.turn.roll", name, roll.Value)
	case PhaseDamage:
		return localize(loc, "board.turn.damage", name, roll.Value, roll.Damage)
	default:
		line := localize(loc, "board.turn.total", name, roll.Damage, roll.TotalScore)
		if roll.Reset {
			line += " " + localize(loc, "board.turn.reset", dice.ResetScore)
		}
		if roll.TotalScore == dice.WinningScore {
			line += " " + localize(loc, "board.turn.win")
		}
		return line
	}
}

func scoreAt(trace dice.RoundsTrace, pos dice.Position) int {
	if pos.RoundIndex < 0 {
		return 0
	}
	return trace.ScoreAt(pos)
}

func previousPosition(pos dice.Position) dice.Position {
	if pos.RollIndex > 0 {
		return dice.Position{RoundIndex: pos.RoundIndex, RollIndex: pos.RollIndex - 1}
	}
	return dice.Position{RoundIndex: pos.RoundIndex - 1, RollIndex: dice.RollsPerRound - 1}
}

// Result renders the end-of-game summary.
func Result(loc Localizer, st gamestate.State) Message {
	var b strings.Builder
	if st.Win.Zen {
		b.WriteString(localize(loc, "result.zen", st.Win.Position.RoundNumber()))
	} else {
		b.WriteString(localize(loc, "result.win", st.Win.Position.RoundNumber()))
	}
	for _, p := range st.Players {
		b.WriteByte('\n')
		switch {
		case p.IsWinner && !p.IsNPC:
			b.WriteString(localize(loc, "result.winner", playerLabel(p), st.Win.Payout))
		case p.IsWinner:
			b.WriteString(localize(loc, "result.house_winner", playerLabel(p)))
		default:
			b.WriteString(localize(loc, "result.loser", playerLabel(p)))
		}
		if !p.IsNPC && p.RandomCooldown > 0 {
			b.WriteString(" ")
			b.WriteString(localize(loc, "result.cooldown", formatDuration(p.RandomCooldown)))
		}
	}
	return Message{Kind: KindResult, Content: b.String()}
}

// Maintenance renders the parked-channel notice.
func Maintenance(loc Localizer) Message {
	return Message{Kind: KindMaintenance, Content: localize(loc, "board.maintenance")}
}

func playerLabel(p gamestate.Player) string {
	if p.AssetName != "" {
		return p.AssetName
	}
	return p.AssetID
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return strings.TrimSuffix(d.String(), "0s")
}

func localize(loc Localizer, key message.Reference, args ...any) string {
	if loc == nil {
		loc = message.NewPrinter(language.English)
	}
	return loc.Sprintf(key, args...)
}
