package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/louisbranch/daruma/internal/random"
	"github.com/louisbranch/daruma/internal/services/game/distribution"
	"github.com/louisbranch/daruma/internal/services/game/domain/cooldown"
	"github.com/louisbranch/daruma/internal/services/game/domain/settings"
	"github.com/louisbranch/daruma/internal/services/game/render"
	"github.com/louisbranch/daruma/internal/services/game/storage"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeChannel struct {
	id string

	mu       sync.Mutex
	messages []render.Message
	attempts map[render.Kind]int
	failKind render.Kind
}

func newFakeChannel(id string) *fakeChannel {
	return &fakeChannel{id: id, attempts: make(map[render.Kind]int)}
}

func (c *fakeChannel) ID() string { return c.id }

func (c *fakeChannel) Send(_ context.Context, msg render.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[msg.Kind]++
	if c.failKind != "" && msg.Kind == c.failKind {
		return errors.New("channel unavailable")
	}
	c.messages = append(c.messages, msg)
	return nil
}

func (c *fakeChannel) sent() []render.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]render.Message(nil), c.messages...)
}

func (c *fakeChannel) attemptsOf(kind render.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[kind]
}

func (c *fakeChannel) last() (render.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return render.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

type fakeEncounters struct {
	mu        sync.Mutex
	next      int
	createErr error
	completed []storage.Encounter
	// entered and gate, when set, hold CreateEncounter until gate closes.
	entered chan struct{}
	gate    chan struct{}
}

func (f *fakeEncounters) CreateEncounter(_ context.Context, channelID string, _ settings.Variant, _ time.Time) (string, error) {
	f.mu.Lock()
	entered, gate := f.entered, f.gate
	f.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.next++
	return fmt.Sprintf("enc-%s-%d", channelID, f.next), nil
}

func (f *fakeEncounters) CompleteEncounter(_ context.Context, encounter storage.Encounter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, encounter)
	return nil
}

func (f *fakeEncounters) GetEncounter(_ context.Context, encounterID string) (storage.Encounter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.completed {
		if e.ID == encounterID {
			return e, nil
		}
	}
	return storage.Encounter{}, storage.ErrNotFound
}

func (f *fakeEncounters) completedEncounters() []storage.Encounter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.Encounter(nil), f.completed...)
}

type recordedGame struct {
	AssetID       string
	Won           bool
	CooldownUntil time.Time
}

type fakeAssets struct {
	mu       sync.Mutex
	assets   map[string]storage.Asset
	recorded []recordedGame
	listErr  error
}

func newFakeAssets(assets ...storage.Asset) *fakeAssets {
	f := &fakeAssets{assets: make(map[string]storage.Asset)}
	for _, a := range assets {
		f.assets[a.ID] = a
	}
	return f
}

func (f *fakeAssets) ListPlayableAssets(_ context.Context, ownerID string, now time.Time) ([]storage.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []storage.Asset
	for _, id := range sortedKeys(f.assets) {
		a := f.assets[id]
		if a.OwnerID == ownerID && a.Playable(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAssets) GetAsset(_ context.Context, assetID string) (storage.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assets[assetID]
	if !ok {
		return storage.Asset{}, storage.ErrNotFound
	}
	return a, nil
}

func (f *fakeAssets) PutAsset(_ context.Context, asset storage.Asset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[asset.ID] = asset
	return nil
}

func (f *fakeAssets) RecordGamePlayed(_ context.Context, assetID string, won bool, cooldownUntil time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, recordedGame{AssetID: assetID, Won: won, CooldownUntil: cooldownUntil})
	return nil
}

func (f *fakeAssets) recordedGames() []recordedGame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedGame(nil), f.recorded...)
}

type fakeStats struct {
	err error
}

func (f fakeStats) PopulationStats(context.Context) (cooldown.PopulationStats, error) {
	if f.err != nil {
		return cooldown.PopulationStats{}, f.err
	}
	return cooldown.PopulationStats{AverageGamesPlayed: 10, AverageTotalAssets: 2, AverageRank: 50}, nil
}

func (f fakeStats) AssetStats(context.Context, string) (cooldown.AssetStats, error) {
	return cooldown.AssetStats{GamesPlayed: 10, TotalAssets: 2, Rank: 50}, nil
}

// cachedStats counts cache invalidations.
type cachedStats struct {
	fakeStats
	invalidated atomic.Int32
}

func (c *cachedStats) Invalidate(context.Context) error {
	c.invalidated.Add(1)
	return nil
}

type fakeDistributor struct {
	mu      sync.Mutex
	payouts []distribution.Payout
}

func (f *fakeDistributor) Distribute(_ context.Context, payout distribution.Payout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payouts = append(f.payouts, payout)
	return nil
}

func (f *fakeDistributor) distributed() []distribution.Payout {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]distribution.Payout(nil), f.payouts...)
}

type testEnv struct {
	encounters  *fakeEncounters
	assets      *fakeAssets
	distributor *fakeDistributor
	deps        SessionDeps
}

func newTestEnv(t *testing.T, assets ...storage.Asset) *testEnv {
	t.Helper()
	env := &testEnv{
		encounters:  &fakeEncounters{},
		assets:      newFakeAssets(assets...),
		distributor: &fakeDistributor{},
	}
	env.deps = SessionDeps{
		Encounters:  env.encounters,
		Assets:      env.assets,
		Stats:       fakeStats{},
		Distributor: env.distributor,
		Cooldown:    cooldown.NewCalculator(cooldown.DefaultTable(), random.NewSource(3)),
		Random:      random.NewSource(7),
		Localizer:   render.NewLocalizer("en"),
		Logger:      zap.NewNop(),
		Seats:       NewSeats(),
		Now:         func() time.Time { return testNow },
		Sleep:       func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}
	return env
}

func testSettings(t *testing.T, channelID string, variant settings.Variant) settings.GameSettings {
	t.Helper()
	presets, err := settings.DefaultPresets()
	if err != nil {
		t.Fatalf("DefaultPresets() error = %v", err)
	}
	gs, err := presets.Build(settings.ChannelConfig{ChannelID: channelID, Variant: variant})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return gs
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("game did not finish")
	}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

type fakeConfigs struct {
	mu      sync.Mutex
	configs map[string]settings.ChannelConfig
	deleted []string
}

func newFakeConfigs(configs ...settings.ChannelConfig) *fakeConfigs {
	f := &fakeConfigs{configs: make(map[string]settings.ChannelConfig)}
	for _, c := range configs {
		f.configs[c.ChannelID] = c
	}
	return f
}

func (f *fakeConfigs) ListChannelConfigs(context.Context) ([]settings.ChannelConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]settings.ChannelConfig, 0, len(f.configs))
	for _, id := range sortedKeys(f.configs) {
		out = append(out, f.configs[id])
	}
	return out, nil
}

func (f *fakeConfigs) GetChannelConfig(_ context.Context, channelID string) (settings.ChannelConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.configs[channelID]
	if !ok {
		return settings.ChannelConfig{}, storage.ErrChannelConfigNotFound
	}
	return c, nil
}

func (f *fakeConfigs) PutChannelConfig(_ context.Context, cfg settings.ChannelConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[cfg.ChannelID] = cfg
	return nil
}

func (f *fakeConfigs) DeleteChannelConfig(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.configs, channelID)
	f.deleted = append(f.deleted, channelID)
	return nil
}

func (f *fakeConfigs) has(channelID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.configs[channelID]
	return ok
}

type fakeResolver struct {
	mu       sync.Mutex
	channels map[string]*fakeChannel
}

func newFakeResolver(ids ...string) *fakeResolver {
	r := &fakeResolver{channels: make(map[string]*fakeChannel)}
	for _, id := range ids {
		r.channels[id] = newFakeChannel(id)
	}
	return r
}

func (r *fakeResolver) Channel(_ context.Context, channelID string) (Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[channelID]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return c, nil
}

func (r *fakeResolver) AddChannel(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[channelID]; !ok {
		r.channels[channelID] = newFakeChannel(channelID)
	}
}

func (r *fakeResolver) RemoveChannel(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, channelID)
}

func (r *fakeResolver) channel(id string) *fakeChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channels[id]
}

type readyRegistry bool

func (r readyRegistry) Ready() bool { return bool(r) }

type fakeInteraction struct {
	channelID string
	userID    string
	customID  string

	mu      sync.Mutex
	replies []render.Message
}

func (i *fakeInteraction) ChannelID() string { return i.channelID }
func (i *fakeInteraction) UserID() string    { return i.userID }
func (i *fakeInteraction) CustomID() string  { return i.customID }

func (i *fakeInteraction) Reply(_ context.Context, msg render.Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.replies = append(i.replies, msg)
	return nil
}

func (i *fakeInteraction) lastReply() render.Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.replies) == 0 {
		return render.Message{}
	}
	return i.replies[len(i.replies)-1]
}
