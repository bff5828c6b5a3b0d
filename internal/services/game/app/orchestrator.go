package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/louisbranch/daruma/internal/platform/logging"
	"github.com/louisbranch/daruma/internal/services/game/domain/gamestate"
	"github.com/louisbranch/daruma/internal/services/game/domain/settings"
	"github.com/louisbranch/daruma/internal/services/game/render"
	"github.com/louisbranch/daruma/internal/services/game/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultFanoutLimit = 16

// OrchestratorDeps wires an Orchestrator.
type OrchestratorDeps struct {
	Configs  storage.ChannelConfigStore
	Channels ChannelResolver
	Registry AssetRegistry
	Presets  settings.Presets
	Session  SessionDeps
	// FanoutLimit bounds concurrent per-session work in bulk operations.
	FanoutLimit int
	// OnMaintenance is called whenever maintenance mode flips.
	OnMaintenance func(inMaintenance bool)
}

// Orchestrator owns every running session, keyed by channel id.
type Orchestrator struct {
	deps   OrchestratorDeps
	logger *zap.Logger
	tracer trace.Tracer

	mu          sync.Mutex
	sessions    map[string]*Session
	maintenance atomic.Bool
}

// NewOrchestrator returns an Orchestrator with no sessions.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.FanoutLimit <= 0 {
		deps.FanoutLimit = defaultFanoutLimit
	}
	if deps.Session.Now == nil {
		deps.Session.Now = time.Now
	}
	if deps.Session.Seats == nil {
		deps.Session.Seats = NewSeats()
	}
	deps.Session.Logger = logging.OrNop(deps.Session.Logger)
	return &Orchestrator{
		deps:     deps,
		logger:   deps.Session.Logger.Named("orchestrator"),
		tracer:   otel.Tracer(tracerName),
		sessions: make(map[string]*Session),
	}
}

// StartGameWaitingRooms opens a waiting room for each config and returns how
// many started. Failures are logged and skipped.
func (o *Orchestrator) StartGameWaitingRooms(ctx context.Context, configs []settings.ChannelConfig) int {
	ctx, span := o.tracer.Start(ctx, "game.orchestrator.start_waiting_rooms",
		trace.WithAttributes(attribute.Int("configs", len(configs))))
	defer span.End()

	started := 0
	for _, cfg := range configs {
		if err := o.startSession(ctx, cfg); err != nil {
			o.logger.Warn("skip channel", zap.String("channel_id", cfg.ChannelID), zap.Error(err))
			continue
		}
		started++
	}
	span.SetAttributes(attribute.Int("started", started))
	return started
}

// StartWaitingRoomForChannel opens the waiting room of one stored channel. It
// never fails loudly; false means nothing was started.
func (o *Orchestrator) StartWaitingRoomForChannel(ctx context.Context, channelID string) bool {
	cfg, err := o.deps.Configs.GetChannelConfig(ctx, channelID)
	if err != nil {
		o.logger.Warn("channel config unavailable", zap.String("channel_id", channelID), zap.Error(err))
		return false
	}
	if err := o.startSession(ctx, cfg); err != nil {
		o.logger.Warn("start waiting room", zap.String("channel_id", channelID), zap.Error(err))
		return false
	}
	return true
}

var errAssetsNotReady = errors.New("shared game assets are not ready")

func (o *Orchestrator) startSession(ctx context.Context, cfg settings.ChannelConfig) error {
	if o.deps.Registry != nil && !o.deps.Registry.Ready() {
		return errAssetsNotReady
	}
	if _, ok := o.Session(cfg.ChannelID); ok {
		return fmt.Errorf("channel %s already has a session", cfg.ChannelID)
	}
	gs, err := o.deps.Presets.Build(cfg)
	if err != nil {
		return fmt.Errorf("build settings: %w", err)
	}
	channel, err := o.deps.Channels.Channel(ctx, cfg.ChannelID)
	if errors.Is(err, ErrChannelNotFound) {
		if delErr := o.deps.Configs.DeleteChannelConfig(ctx, cfg.ChannelID); delErr != nil {
			o.logger.Error("remove stale channel config", zap.String("channel_id", cfg.ChannelID), zap.Error(delErr))
		} else {
			o.logger.Info("removed stale channel config", zap.String("channel_id", cfg.ChannelID))
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("resolve channel: %w", err)
	}

	session := NewSession(gs, o.deps.Session)
	if err := session.Initialize(ctx, channel); err != nil {
		return fmt.Errorf("initialize session: %w", err)
	}
	if o.maintenance.Load() {
		if err := session.StopOnceGameEnds(ctx); err != nil {
			o.logger.Warn("park new session", zap.String("channel_id", cfg.ChannelID), zap.Error(err))
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.sessions[cfg.ChannelID]; exists {
		return fmt.Errorf("channel %s already has a session", cfg.ChannelID)
	}
	o.sessions[cfg.ChannelID] = session
	o.logger.Info("waiting room open", zap.String("channel_id", cfg.ChannelID), zap.String("variant", string(cfg.Variant)))
	return nil
}

// Session returns the session running in channelID.
func (o *Orchestrator) Session(channelID string) (*Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[channelID]
	return s, ok
}

// ChannelIDs returns the channels with a running session, sorted.
func (o *Orchestrator) ChannelIDs() []string {
	o.mu.Lock()
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	o.mu.Unlock()
	slices.Sort(ids)
	return ids
}

func (o *Orchestrator) snapshot() []*Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s)
	}
	return out
}

// InMaintenance reports whether sessions are parked.
func (o *Orchestrator) InMaintenance() bool {
	return o.maintenance.Load()
}

func (o *Orchestrator) setMaintenance(on bool) {
	o.maintenance.Store(on)
	if o.deps.OnMaintenance != nil {
		o.deps.OnMaintenance(on)
	}
}

// StopWaitingRoomsOnceGamesEnd parks every session, waiting for running games
// to finish. One session's failure does not stop the others.
func (o *Orchestrator) StopWaitingRoomsOnceGamesEnd(ctx context.Context) {
	o.setMaintenance(true)
	o.fanout(ctx, "game.orchestrator.stop_waiting_rooms", func(ctx context.Context, s *Session) error {
		return s.StopOnceGameEnds(ctx)
	})
}

// ResumeWaitingRooms reopens every parked session.
func (o *Orchestrator) ResumeWaitingRooms(ctx context.Context) {
	o.fanout(ctx, "game.orchestrator.resume_waiting_rooms", func(ctx context.Context, s *Session) error {
		return s.Resume(ctx)
	})
	o.setMaintenance(false)
}

// fanout runs fn for every session with bounded concurrency and logs
// individual failures.
func (o *Orchestrator) fanout(ctx context.Context, name string, fn func(context.Context, *Session) error) {
	sessions := o.snapshot()
	ctx, span := o.tracer.Start(ctx, name, trace.WithAttributes(attribute.Int("sessions", len(sessions))))
	defer span.End()

	var g errgroup.Group
	g.SetLimit(o.deps.FanoutLimit)
	var failed atomic.Int64
	for _, s := range sessions {
		g.Go(func() error {
			if err := fn(ctx, s); err != nil {
				failed.Add(1)
				o.logger.Warn(name+" failed", zap.String("channel_id", s.ChannelID()), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	span.SetAttributes(attribute.Int64("failed", failed.Load()))
}

// RemoveChannel drops the channel's session and stored configuration. A
// running game finishes and then parks.
func (o *Orchestrator) RemoveChannel(ctx context.Context, channelID string) error {
	o.mu.Lock()
	session, ok := o.sessions[channelID]
	delete(o.sessions, channelID)
	o.mu.Unlock()

	if ok {
		go func() {
			stopCtx := context.WithoutCancel(ctx)
			if err := session.StopOnceGameEnds(stopCtx); err != nil {
				o.logger.Warn("stop removed session", zap.String("channel_id", channelID), zap.Error(err))
			}
		}()
	}
	if err := o.deps.Configs.DeleteChannelConfig(ctx, channelID); err != nil {
		return fmt.Errorf("delete channel config: %w", err)
	}
	o.logger.Info("channel removed", zap.String("channel_id", channelID))
	return nil
}

// RegisterPlayer seats the user's only playable asset, or replies with a
// picker when there are several.
func (o *Orchestrator) RegisterPlayer(ctx context.Context, in Interaction) error {
	session, ok := o.sessionFor(ctx, in)
	if !ok {
		return nil
	}
	if session.State().PlayerIndex(in.UserID()) >= 0 {
		return o.reply(ctx, in, render.ReplyAlreadySeated)
	}
	assets, err := o.playableAssets(ctx, session, in.UserID())
	if err != nil {
		return o.fail(ctx, in, err)
	}
	switch len(assets) {
	case 0:
		return o.reply(ctx, in, render.ReplyNoPlayable)
	case 1:
		return o.join(ctx, in, session, assets[0])
	default:
		choices := make([]render.AssetChoice, 0, len(assets))
		for _, a := range assets {
			choices = append(choices, render.AssetChoice{ID: a.ID, Name: a.Name})
		}
		return in.Reply(ctx, render.AssetPicker(o.deps.Session.Localizer, choices))
	}
}

// QuickJoin seats the user's first playable asset.
func (o *Orchestrator) QuickJoin(ctx context.Context, in Interaction) error {
	session, ok := o.sessionFor(ctx, in)
	if !ok {
		return nil
	}
	if session.State().PlayerIndex(in.UserID()) >= 0 {
		return o.reply(ctx, in, render.ReplyAlreadySeated)
	}
	assets, err := o.playableAssets(ctx, session, in.UserID())
	if err != nil {
		return o.fail(ctx, in, err)
	}
	if len(assets) == 0 {
		return o.reply(ctx, in, render.ReplyNoPlayable)
	}
	return o.join(ctx, in, session, assets[0])
}

// SelectAsset seats the named asset after checking ownership and cooldown.
func (o *Orchestrator) SelectAsset(ctx context.Context, in Interaction, assetID string) error {
	session, ok := o.sessionFor(ctx, in)
	if !ok {
		return nil
	}
	asset, err := o.deps.Session.Assets.GetAsset(ctx, assetID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && asset.OwnerID != in.UserID()) {
		return o.reply(ctx, in, render.ReplyAssetNotFound)
	}
	if err != nil {
		return o.fail(ctx, in, err)
	}
	if remaining := asset.CooldownRemaining(o.deps.Session.Now()); remaining > 0 {
		return o.reply(ctx, in, render.ReplyAssetOnCooldown, remaining.Round(time.Minute).String())
	}
	if channelID, seated := o.deps.Session.Seats.ChannelOf(asset.ID); seated && channelID != session.ChannelID() {
		return o.reply(ctx, in, render.ReplyAssetBusy)
	}
	return o.join(ctx, in, session, asset)
}

// WithdrawPlayer unseats the user.
func (o *Orchestrator) WithdrawPlayer(ctx context.Context, in Interaction) error {
	session, ok := o.sessionFor(ctx, in)
	if !ok {
		return nil
	}
	player, seated := playerFor(session.State(), in.UserID())
	switch session.RemovePlayer(ctx, in.UserID()) {
	case RosterChanged:
		return o.reply(ctx, in, render.ReplyWithdrawn, assetLabel(player.AssetName, player.AssetID))
	case RosterClosed:
		if seated {
			return o.reply(ctx, in, render.ReplyGameInProgress)
		}
		return o.reply(ctx, in, render.ReplyNotSeated)
	default:
		return o.reply(ctx, in, render.ReplyNotSeated)
	}
}

func (o *Orchestrator) join(ctx context.Context, in Interaction, session *Session, asset storage.Asset) error {
	result, err := session.AddPlayer(ctx, gamestate.Player{
		UserID:    in.UserID(),
		AssetID:   asset.ID,
		AssetName: asset.Name,
	})
	if err != nil {
		return o.fail(ctx, in, err)
	}
	switch result {
	case RosterChanged:
		return o.reply(ctx, in, render.ReplyRegistered, assetLabel(asset.Name, asset.ID))
	case RosterFull:
		return o.reply(ctx, in, render.ReplyGameFull)
	case RosterClosed:
		return o.reply(ctx, in, render.ReplyGameInProgress)
	case RosterAssetBusy:
		return o.reply(ctx, in, render.ReplyAssetBusy)
	default:
		return o.reply(ctx, in, render.ReplyAlreadySeated)
	}
}

// playableAssets lists the user's off-cooldown assets not seated in any
// channel.
func (o *Orchestrator) playableAssets(ctx context.Context, session *Session, userID string) ([]storage.Asset, error) {
	assets, err := o.deps.Session.Assets.ListPlayableAssets(ctx, userID, o.deps.Session.Now())
	if err != nil {
		return nil, fmt.Errorf("list playable assets: %w", err)
	}
	st := session.State()
	return slices.DeleteFunc(assets, func(a storage.Asset) bool {
		if st.HasAsset(a.ID) {
			return true
		}
		_, seated := o.deps.Session.Seats.ChannelOf(a.ID)
		return seated
	}), nil
}

// sessionFor replies with the operator-contact message when the channel has
// no session.
func (o *Orchestrator) sessionFor(ctx context.Context, in Interaction) (*Session, bool) {
	session, ok := o.Session(in.ChannelID())
	if !ok {
		if err := o.reply(ctx, in, render.ReplyNoSession); err != nil {
			o.logger.Warn("reply", zap.String("channel_id", in.ChannelID()), zap.Error(err))
		}
		return nil, false
	}
	return session, true
}

func (o *Orchestrator) reply(ctx context.Context, in Interaction, key string, args ...any) error {
	return in.Reply(ctx, render.Reply(o.deps.Session.Localizer, key, args...))
}

func (o *Orchestrator) fail(ctx context.Context, in Interaction, err error) error {
	o.logger.Error("interaction failed",
		zap.String("channel_id", in.ChannelID()),
		zap.String("user_id", in.UserID()),
		zap.String("custom_id", in.CustomID()),
		zap.Error(err),
	)
	return o.reply(ctx, in, render.ReplyFailed)
}

func playerFor(st gamestate.State, userID string) (gamestate.Player, bool) {
	idx := st.PlayerIndex(userID)
	if idx < 0 {
		return gamestate.Player{}, false
	}
	return st.Players[idx], true
}

func assetLabel(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
