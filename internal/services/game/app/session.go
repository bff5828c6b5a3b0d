package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/louisbranch/daruma/internal/platform/errors"
	"github.com/louisbranch/daruma/internal/platform/logging"
	"github.com/louisbranch/daruma/internal/platform/timeouts"
	"github.com/louisbranch/daruma/internal/services/game/distribution"
	"github.com/louisbranch/daruma/internal/services/game/domain/cooldown"
	"github.com/louisbranch/daruma/internal/services/game/domain/dice"
	"github.com/louisbranch/daruma/internal/services/game/domain/gamestate"
	"github.com/louisbranch/daruma/internal/services/game/domain/settings"
	"github.com/louisbranch/daruma/internal/services/game/render"
	"github.com/louisbranch/daruma/internal/services/game/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/louisbranch/daruma/internal/services/game/app"

// maxConsecutiveRenderFailures aborts a render loop through the fail-safe path.
const maxConsecutiveRenderFailures = 3

// ErrGameNotStartable indicates StartChannelGame found no waiting room to start.
var ErrGameNotStartable = apperrors.New(apperrors.CodeGameInvalidTransition, "game cannot be started")

// SessionDeps are the collaborators shared by every session.
type SessionDeps struct {
	Encounters storage.EncounterStore
	Assets     storage.AssetStore
	// Stats may also implement Invalidate(ctx) error, called once a game's
	// results are stored.
	Stats       storage.StatsProvider
	Distributor distribution.Distributor
	Cooldown    *cooldown.Calculator
	Random      Source
	Localizer   render.Localizer
	Logger      *zap.Logger
	// Seats is shared by every session of a process. Nil gives the session a
	// private index.
	Seats *Seats
	Now   func() time.Time
	// Sleep waits d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// RosterResult is the outcome of a roster change.
type RosterResult int

const (
	// RosterChanged means the player was seated or unseated.
	RosterChanged RosterResult = iota
	// RosterUnchanged means a duplicate seat or a missing player.
	RosterUnchanged
	// RosterFull means the waiting room is at capacity.
	RosterFull
	// RosterClosed means no registration is accepted right now.
	RosterClosed
	// RosterAssetBusy means the asset is seated in another channel.
	RosterAssetBusy
)

// statsInvalidator drops cached population stats.
type statsInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Changed reports whether the roster was modified.
func (r RosterResult) Changed() bool {
	return r == RosterChanged
}

// Session owns one channel's game.
type Session struct {
	settings settings.GameSettings
	deps     SessionDeps
	logger   *zap.Logger
	tracer   trace.Tracer

	mu            sync.Mutex
	state         gamestate.State
	channel       Channel
	lifecycle     context.Context
	starting      bool
	stopRequested bool
	done          chan struct{}
}

// NewSession builds a session for gs. Call Initialize before use.
func NewSession(gs settings.GameSettings, deps SessionDeps) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	if deps.Seats == nil {
		deps.Seats = NewSeats()
	}
	return &Session{
		settings: gs,
		deps:     deps,
		logger:   logging.OrNop(deps.Logger).With(zap.String("channel_id", gs.ChannelID)),
		tracer:   otel.Tracer(tracerName),
		state:    gamestate.New(),
	}
}

// Initialize binds the session to its channel, opens the waiting room, and
// keeps ctx as the lifetime of games started from registrations.
func (s *Session) Initialize(ctx context.Context, channel Channel) error {
	s.mu.Lock()
	s.channel = channel
	s.lifecycle = ctx
	s.mu.Unlock()

	if err := s.openWaitingRoom(ctx); err != nil {
		return err
	}
	s.send(ctx, render.WaitingRoom(s.deps.Localizer, s.settings, s.State()))
	return nil
}

// ChannelID returns the channel the session runs in.
func (s *Session) ChannelID() string {
	return s.settings.ChannelID
}

// Settings returns the session's immutable settings.
func (s *Session) Settings() settings.GameSettings {
	return s.settings
}

// State returns a copy of the current game state.
func (s *Session) State() gamestate.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// AddPlayer seats player with a freshly rolled trace. A full roster starts
// the game in the background.
func (s *Session) AddPlayer(ctx context.Context, player gamestate.Player) (RosterResult, error) {
	rolled, err := dice.RollTrace(s.deps.Random)
	if err != nil {
		return RosterUnchanged, fmt.Errorf("roll trace for %s: %w", player.AssetID, err)
	}
	player.Trace = rolled

	s.mu.Lock()
	if s.closedLocked() {
		s.mu.Unlock()
		return RosterClosed, nil
	}
	if s.state.PlayerIndex(player.UserID) >= 0 || s.state.HasAsset(player.AssetID) {
		s.mu.Unlock()
		return RosterUnchanged, nil
	}
	if len(s.state.Players) >= s.settings.MaxCapacity {
		s.mu.Unlock()
		return RosterFull, nil
	}
	if !player.IsNPC && !s.deps.Seats.claim(player.AssetID, s.settings.ChannelID) {
		s.mu.Unlock()
		return RosterAssetBusy, nil
	}
	next, ok := s.state.AddPlayer(player)
	if !ok {
		s.releaseSeatsLocked([]gamestate.Player{player})
		s.mu.Unlock()
		return RosterUnchanged, nil
	}
	s.state = next
	autoStart := next.CanStartGame(s.settings.MaxCapacity) && s.claimStartLocked()
	lifecycle := s.lifecycle
	snapshot := next.Clone()
	s.mu.Unlock()

	s.logger.Info("player seated", zap.String("user_id", player.UserID), zap.String("asset_id", player.AssetID))
	s.send(ctx, render.WaitingRoom(s.deps.Localizer, s.settings, snapshot))
	if autoStart {
		go s.playDetached(lifecycle)
	}
	return RosterChanged, nil
}

// RemovePlayer unseats userID from the waiting room.
func (s *Session) RemovePlayer(ctx context.Context, userID string) RosterResult {
	s.mu.Lock()
	if s.closedLocked() {
		s.mu.Unlock()
		return RosterClosed
	}
	idx := s.state.PlayerIndex(userID)
	if idx < 0 || s.state.Players[idx].IsNPC {
		s.mu.Unlock()
		return RosterUnchanged
	}
	removed := s.state.Players[idx]
	next, ok := s.state.RemovePlayer(userID)
	if !ok {
		s.mu.Unlock()
		return RosterUnchanged
	}
	s.state = next
	s.releaseSeatsLocked([]gamestate.Player{removed})
	snapshot := next.Clone()
	s.mu.Unlock()

	s.logger.Info("player withdrawn", zap.String("user_id", userID))
	s.send(ctx, render.WaitingRoom(s.deps.Localizer, s.settings, snapshot))
	return RosterChanged
}

// StartChannelGame plays one full game and returns after end-of-game
// processing.
func (s *Session) StartChannelGame(ctx context.Context) error {
	s.mu.Lock()
	claimed := s.claimStartLocked()
	s.mu.Unlock()
	if !claimed {
		return ErrGameNotStartable
	}
	return s.play(ctx)
}

// StopOnceGameEnds parks the session in maintenance, waiting for a running
// game to finish first. Players waiting in an idle room are unseated.
func (s *Session) StopOnceGameEnds(ctx context.Context) error {
	s.mu.Lock()
	s.stopRequested = true
	if s.state.Status == gamestate.StatusMaintenance {
		s.mu.Unlock()
		return nil
	}
	if s.state.Status == gamestate.StatusWaitingRoom && !s.starting {
		next, err := s.state.Reset()
		if err == nil {
			next, err = next.Maintenance()
		}
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.releaseSeatsLocked(s.state.Players)
		s.state = next
		s.mu.Unlock()
		s.logger.Info("session parked for maintenance")
		s.send(ctx, render.Maintenance(s.deps.Localizer))
		return nil
	}
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume reopens a parked session's waiting room.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	s.stopRequested = false
	parked := s.state.Status == gamestate.StatusMaintenance
	s.mu.Unlock()
	if !parked {
		return nil
	}
	if err := s.openWaitingRoom(ctx); err != nil {
		return err
	}
	s.logger.Info("session resumed")
	s.send(ctx, render.WaitingRoom(s.deps.Localizer, s.settings, s.State()))
	return nil
}

// Done returns a channel closed when the running game, if any, has ended.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

func (s *Session) closedLocked() bool {
	return s.state.Status != gamestate.StatusWaitingRoom || s.starting || s.stopRequested
}

// claimStartLocked reserves the waiting room for a starting game.
func (s *Session) claimStartLocked() bool {
	if s.state.Status != gamestate.StatusWaitingRoom || s.starting || len(s.state.Players) == 0 {
		return false
	}
	s.starting = true
	s.done = make(chan struct{})
	return true
}

func (s *Session) releaseSeatsLocked(players []gamestate.Player) {
	for _, p := range players {
		if !p.IsNPC {
			s.deps.Seats.release(p.AssetID, s.settings.ChannelID)
		}
	}
}

// openWaitingRoom resets the state, frees the old roster's seats, and seats
// the house player.
func (s *Session) openWaitingRoom(ctx context.Context) error {
	s.mu.Lock()
	next, err := s.state.Reset()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.releaseSeatsLocked(s.state.Players)
	s.state = next
	s.mu.Unlock()

	if s.settings.NPC == nil {
		return nil
	}
	npc := gamestate.Player{
		UserID:    s.settings.NPC.UserID,
		AssetID:   s.settings.NPC.AssetID,
		AssetName: s.settings.NPC.Name,
		IsNPC:     true,
	}
	rolled, err := dice.RollTrace(s.deps.Random)
	if err != nil {
		return fmt.Errorf("roll house trace: %w", err)
	}
	npc.Trace = rolled

	s.mu.Lock()
	defer s.mu.Unlock()
	if next, ok := s.state.AddPlayer(npc); ok {
		s.state = next
	}
	return nil
}

func (s *Session) playDetached(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.play(ctx); err != nil {
		s.logger.Error("game ended with error", zap.Error(err))
	}
}

// play runs a claimed game: encounter, start, winners, render loop, end.
func (s *Session) play(ctx context.Context) (err error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	defer close(done)

	ctx, span := s.tracer.Start(ctx, "game.session.play",
		trace.WithAttributes(
			attribute.String("channel_id", s.settings.ChannelID),
			attribute.String("variant", string(s.settings.Variant)),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	encounterID, err := s.deps.Encounters.CreateEncounter(ctx, s.settings.ChannelID, s.settings.Variant, s.deps.Now())
	if err != nil {
		s.abortStart(ctx)
		return fmt.Errorf("create encounter: %w", err)
	}
	span.SetAttributes(attribute.String("encounter_id", encounterID))

	if err := s.begin(encounterID); err != nil {
		s.abortStart(ctx)
		return err
	}
	logger := s.logger.With(zap.String("encounter_id", encounterID))
	logger.Info("game started", zap.Int("players", len(s.State().Players)))

	if loopErr := s.renderLoop(ctx); loopErr != nil {
		logger.Error("render loop aborted, forcing win", zap.Error(loopErr))
		if _, forceErr := s.update(func(st gamestate.State) (gamestate.State, error) {
			if st.Status != gamestate.StatusActiveGame {
				return st, nil
			}
			return st.ForceWin()
		}); forceErr != nil {
			logger.Error("force win", zap.Error(forceErr))
		}
	}

	endCtx, cancel := s.settleContext(ctx)
	defer cancel()
	return s.endGame(endCtx, logger)
}

// settleContext keeps ctx unless it has ended. An ended ctx means shutdown:
// the session parks afterwards and settles under a fresh deadline.
func (s *Session) settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	s.mu.Lock()
	s.stopRequested = true
	s.mu.Unlock()
	return context.WithTimeout(context.WithoutCancel(ctx), timeouts.Shutdown)
}

// begin moves the claimed waiting room into play and computes winners.
func (s *Session) begin(encounterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.state.StartGame(encounterID)
	if err != nil {
		return err
	}
	next, err = next.FindZenAndWinners(s.settings.Economics, s.settings.PayoutModifier)
	if err != nil {
		return err
	}
	s.state = next
	s.starting = false
	return nil
}

// abortStart voids a claimed start that never began. The roster is unseated
// and the room reopens, or parks when a stop is pending.
func (s *Session) abortStart(ctx context.Context) {
	ctx, cancel := s.settleContext(ctx)
	defer cancel()

	if err := s.openWaitingRoom(ctx); err != nil {
		s.logger.Error("reopen waiting room after failed start", zap.Error(err))
	}
	s.mu.Lock()
	s.starting = false
	stop := s.stopRequested
	if stop {
		if next, err := s.state.Maintenance(); err != nil {
			s.logger.Error("park session after failed start", zap.Error(err))
			stop = false
		} else {
			s.state = next
		}
	}
	snapshot := s.state.Clone()
	s.mu.Unlock()

	if stop {
		s.logger.Info("session parked for maintenance")
		s.send(ctx, render.Maintenance(s.deps.Localizer))
		return
	}
	s.logger.Warn("game start failed, waiting room reopened")
	s.send(ctx, render.WaitingRoom(s.deps.Localizer, s.settings, snapshot))
}

func (s *Session) update(fn func(gamestate.State) (gamestate.State, error)) (gamestate.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := fn(s.state)
	if err != nil {
		return s.state.Clone(), err
	}
	s.state = next
	return next.Clone(), nil
}

// renderLoop walks the shared position until the game leaves play. Panics are
// returned as errors.
func (s *Session) renderLoop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render loop panic: %v", r)
		}
	}()

	failures := 0
	for {
		st := s.State()
		if st.Status != gamestate.StatusActiveGame {
			return nil
		}
		for i := range st.Players {
			current, err := s.update(func(cur gamestate.State) (gamestate.State, error) {
				return cur.SetCurrentPlayer(i)
			})
			if err != nil {
				return err
			}
			for _, phase := range render.Phases {
				if sendErr := s.sendBoard(ctx, render.Board(s.deps.Localizer, current, phase)); sendErr != nil {
					failures++
					s.logger.Warn("render step failed", zap.Int("consecutive", failures), zap.Error(sendErr))
					if failures >= maxConsecutiveRenderFailures {
						return fmt.Errorf("%d consecutive render failures: %w", failures, sendErr)
					}
				} else {
					failures = 0
				}
				if err := s.deps.Sleep(ctx, s.settings.PhaseDelay(phase).Pick(s.deps.Random.Int63n)); err != nil {
					return err
				}
			}
		}
		if _, err := s.update(gamestate.State.NextRoll); err != nil {
			return err
		}
	}
}

// endGame settles a won game and reopens or parks the session.
func (s *Session) endGame(ctx context.Context, logger *zap.Logger) error {
	st, err := s.update(gamestate.State.FinishGame)
	if err != nil {
		return fmt.Errorf("finish game: %w", err)
	}

	s.applyCooldowns(ctx, st, logger)
	if invalidator, ok := s.deps.Stats.(statsInvalidator); ok {
		if err := invalidator.Invalidate(ctx); err != nil {
			logger.Warn("invalidate population stats", zap.Error(err))
		}
	}
	st = s.State()

	if err := s.deps.Encounters.CompleteEncounter(ctx, encounterRecord(s.settings, st, s.deps.Now())); err != nil {
		logger.Error("complete encounter", zap.Error(err))
	}
	if err := s.deps.Distributor.Distribute(ctx, payoutFor(s.settings, st)); err != nil {
		logger.Error("distribute payout", zap.Error(err))
	}
	logger.Info("game finished",
		zap.Bool("zen", st.Win.Zen),
		zap.Int64("payout", st.Win.Payout),
		zap.Int("winning_round", st.Win.Position.RoundNumber()),
	)
	s.send(ctx, render.Result(s.deps.Localizer, st))

	s.mu.Lock()
	stop := s.stopRequested
	s.mu.Unlock()
	if !stop {
		if err := s.deps.Sleep(ctx, s.settings.ResetDelay); err != nil {
			logger.Warn("reset delay interrupted", zap.Error(err))
		}
		s.mu.Lock()
		stop = s.stopRequested
		s.mu.Unlock()
	}

	if err := s.openWaitingRoom(ctx); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	if stop {
		if _, err := s.update(gamestate.State.Maintenance); err != nil {
			return fmt.Errorf("park session: %w", err)
		}
		logger.Info("session parked for maintenance")
		s.send(ctx, render.Maintenance(s.deps.Localizer))
		return nil
	}
	s.send(ctx, render.WaitingRoom(s.deps.Localizer, s.settings, s.State()))
	return nil
}

// applyCooldowns rolls and stores the cooldown of every non-house asset.
func (s *Session) applyCooldowns(ctx context.Context, st gamestate.State, logger *zap.Logger) {
	population, popErr := s.deps.Stats.PopulationStats(ctx)
	if popErr != nil {
		logger.Warn("population stats unavailable, using base cooldown", zap.Error(popErr))
	}
	now := s.deps.Now()
	for _, p := range st.Players {
		if p.IsNPC {
			continue
		}
		result := cooldown.Result{Duration: s.settings.BaseCooldown}
		if popErr == nil {
			assetStats, err := s.deps.Stats.AssetStats(ctx, p.AssetID)
			if err != nil {
				logger.Warn("asset stats unavailable, using base cooldown", zap.String("asset_id", p.AssetID), zap.Error(err))
			} else {
				result = s.deps.Cooldown.Roll(assetStats, population, s.settings.BaseCooldown)
			}
		}
		if err := s.deps.Assets.RecordGamePlayed(ctx, p.AssetID, p.IsWinner, now.Add(result.Duration)); err != nil {
			logger.Error("record game played", zap.String("asset_id", p.AssetID), zap.Error(err))
		}
		assetID := p.AssetID
		_, _ = s.update(func(cur gamestate.State) (gamestate.State, error) {
			return cur.WithCooldown(assetID, result.Duration, result.Modified()), nil
		})
	}
}

func encounterRecord(gs settings.GameSettings, st gamestate.State, endedAt time.Time) storage.Encounter {
	players := make([]storage.EncounterPlayer, 0, len(st.Players))
	for _, p := range st.Players {
		players = append(players, storage.EncounterPlayer{
			UserID:           p.UserID,
			AssetID:          p.AssetID,
			IsNPC:            p.IsNPC,
			IsWinner:         p.IsWinner,
			Trace:            p.Trace,
			Cooldown:         p.RandomCooldown,
			CooldownModified: p.CooldownModified,
		})
	}
	return storage.Encounter{
		ID:              st.EncounterID,
		ChannelID:       gs.ChannelID,
		Variant:         gs.Variant,
		EndedAt:         &endedAt,
		Players:         players,
		WinningPosition: st.Win.Position,
		Zen:             st.Win.Zen,
		Payout:          st.Win.Payout,
	}
}

func payoutFor(gs settings.GameSettings, st gamestate.State) distribution.Payout {
	payout := distribution.Payout{
		EncounterID: st.EncounterID,
		ChannelID:   gs.ChannelID,
		Amount:      st.Win.Payout,
		Zen:         st.Win.Zen,
	}
	for _, p := range st.Winners() {
		if p.IsNPC {
			continue
		}
		payout.Winners = append(payout.Winners, distribution.Winner{UserID: p.UserID, AssetID: p.AssetID})
	}
	return payout
}

func (s *Session) sendBoard(ctx context.Context, msg render.Message) error {
	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()
	if channel == nil {
		return errors.New("session has no channel")
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeouts.RenderStep)
	defer cancel()
	return channel.Send(sendCtx, msg)
}

// send delivers msg, logging failures.
func (s *Session) send(ctx context.Context, msg render.Message) {
	if err := s.sendBoard(ctx, msg); err != nil {
		s.logger.Warn("send message", zap.String("kind", string(msg.Kind)), zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
