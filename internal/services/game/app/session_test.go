package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/daruma/internal/services/game/domain/gamestate"
	"github.com/louisbranch/daruma/internal/services/game/domain/settings"
	"github.com/louisbranch/daruma/internal/services/game/render"
)

func newTestSession(t *testing.T, env *testEnv, variant settings.Variant) (*Session, *fakeChannel) {
	t.Helper()
	gs := testSettings(t, "chan-1", variant)
	channel := newFakeChannel("chan-1")
	s := NewSession(gs, env.deps)
	if err := s.Initialize(context.Background(), channel); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return s, channel
}

func TestInitializeSeatsHousePlayer(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	s, channel := newTestSession(t, env, settings.VariantOneVsNpc)

	st := s.State()
	if st.Status != gamestate.StatusWaitingRoom {
		t.Fatalf("status = %v, want %v", st.Status, gamestate.StatusWaitingRoom)
	}
	if len(st.Players) != 1 || !st.Players[0].IsNPC {
		t.Fatalf("players = %+v, want the house player only", st.Players)
	}
	if st.Players[0].Trace.RollCount() == 0 {
		t.Fatal("house player has no rolled trace")
	}
	msg, ok := channel.last()
	if !ok || msg.Kind != render.KindWaitingRoom {
		t.Fatalf("last message = %+v, want waiting room", msg)
	}
}

func TestFullRosterPlaysGameToCompletion(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	s, channel := newTestSession(t, env, settings.VariantOneVsNpc)

	result, err := s.AddPlayer(context.Background(), gamestate.Player{UserID: "user-1", AssetID: "asset-1", AssetName: "Hoshi"})
	if err != nil {
		t.Fatalf("AddPlayer() error = %v", err)
	}
	if result != RosterChanged {
		t.Fatalf("AddPlayer() = %v, want %v", result, RosterChanged)
	}
	waitDone(t, s)

	st := s.State()
	if st.Status != gamestate.StatusWaitingRoom {
		t.Fatalf("status = %v, want %v", st.Status, gamestate.StatusWaitingRoom)
	}
	if len(st.Players) != 1 || !st.Players[0].IsNPC {
		t.Fatalf("players = %+v, want a reopened room with the house player", st.Players)
	}

	encounters := env.encounters.completedEncounters()
	if len(encounters) != 1 {
		t.Fatalf("completed encounters = %d, want 1", len(encounters))
	}
	enc := encounters[0]
	if len(enc.Players) != 2 {
		t.Fatalf("encounter players = %d, want 2", len(enc.Players))
	}
	if enc.EndedAt == nil {
		t.Fatal("encounter EndedAt = nil")
	}
	winners := 0
	for _, p := range enc.Players {
		if p.IsWinner {
			winners++
			if p.Trace.Winning != enc.WinningPosition {
				t.Fatalf("winner %s won at %v, want %v", p.AssetID, p.Trace.Winning, enc.WinningPosition)
			}
		}
	}
	if winners == 0 {
		t.Fatal("encounter has no winner")
	}
	if enc.Zen != (winners > 1) {
		t.Fatalf("zen = %v with %d winners", enc.Zen, winners)
	}

	recorded := env.assets.recordedGames()
	if len(recorded) != 1 || recorded[0].AssetID != "asset-1" {
		t.Fatalf("recorded games = %+v, want one for asset-1", recorded)
	}
	if recorded[0].CooldownUntil.Before(testNow) {
		t.Fatalf("cooldown until %v is before %v", recorded[0].CooldownUntil, testNow)
	}

	payouts := env.distributor.distributed()
	if len(payouts) != 1 {
		t.Fatalf("payouts = %d, want 1", len(payouts))
	}
	for _, w := range payouts[0].Winners {
		if w.UserID == "npc-karasu" {
			t.Fatalf("house player was paid: %+v", payouts[0])
		}
	}

	var boards, results int
	for _, msg := range channel.sent() {
		switch msg.Kind {
		case render.KindBoard:
			boards++
		case render.KindResult:
			results++
		}
	}
	if boards == 0 {
		t.Fatal("no board updates rendered")
	}
	if results != 1 {
		t.Fatalf("result messages = %d, want 1", results)
	}
	if msg, _ := channel.last(); msg.Kind != render.KindWaitingRoom {
		t.Fatalf("last message kind = %s, want %s", msg.Kind, render.KindWaitingRoom)
	}
}

func TestAddPlayerRejectsDuplicates(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	s, _ := newTestSession(t, env, settings.VariantFourVsNpc)
	ctx := context.Background()

	if got, err := s.AddPlayer(ctx, gamestate.Player{UserID: "user-1", AssetID: "asset-1"}); err != nil || got != RosterChanged {
		t.Fatalf("AddPlayer() = %v, %v, want %v", got, err, RosterChanged)
	}
	if got, _ := s.AddPlayer(ctx, gamestate.Player{UserID: "user-1", AssetID: "asset-2"}); got != RosterUnchanged {
		t.Fatalf("same owner AddPlayer() = %v, want %v", got, RosterUnchanged)
	}
	if got, _ := s.AddPlayer(ctx, gamestate.Player{UserID: "user-2", AssetID: "asset-1"}); got != RosterUnchanged {
		t.Fatalf("same asset AddPlayer() = %v, want %v", got, RosterUnchanged)
	}
	if n := len(s.State().Players); n != 2 {
		t.Fatalf("players = %d, want 2", n)
	}
}

func TestRemovePlayer(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	s, _ := newTestSession(t, env, settings.VariantFourVsNpc)
	ctx := context.Background()

	if _, err := s.AddPlayer(ctx, gamestate.Player{UserID: "user-1", AssetID: "asset-1"}); err != nil {
		t.Fatalf("AddPlayer() error = %v", err)
	}
	if got := s.RemovePlayer(ctx, "npc-karasu"); got != RosterUnchanged {
		t.Fatalf("RemovePlayer(house) = %v, want %v", got, RosterUnchanged)
	}
	if got := s.RemovePlayer(ctx, "user-9"); got != RosterUnchanged {
		t.Fatalf("RemovePlayer(unknown) = %v, want %v", got, RosterUnchanged)
	}
	if got := s.RemovePlayer(ctx, "user-1"); got != RosterChanged {
		t.Fatalf("RemovePlayer(user-1) = %v, want %v", got, RosterChanged)
	}
	if s.State().PlayerIndex("user-1") >= 0 {
		t.Fatal("user-1 still seated")
	}
}

func TestRenderFailuresForceWin(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	s, channel := newTestSession(t, env, settings.VariantFourVsNpc)
	channel.mu.Lock()
	channel.failKind = render.KindBoard
	channel.mu.Unlock()

	if _, err := s.AddPlayer(context.Background(), gamestate.Player{UserID: "user-1", AssetID: "asset-1"}); err != nil {
		t.Fatalf("AddPlayer() error = %v", err)
	}
	if err := s.StartChannelGame(context.Background()); err != nil {
		t.Fatalf("StartChannelGame() error = %v", err)
	}

	if got := channel.attemptsOf(render.KindBoard); got != maxConsecutiveRenderFailures {
		t.Fatalf("board attempts = %d, want %d", got, maxConsecutiveRenderFailures)
	}
	if got := len(env.encounters.completedEncounters()); got != 1 {
		t.Fatalf("completed encounters = %d, want 1", got)
	}
	if got := len(env.distributor.distributed()); got != 1 {
		t.Fatalf("payouts = %d, want 1", got)
	}
	if st := s.State(); st.Status != gamestate.StatusWaitingRoom {
		t.Fatalf("status = %v, want %v", st.Status, gamestate.StatusWaitingRoom)
	}
}

func TestStartChannelGameRequiresPlayers(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	s, _ := newTestSession(t, env, settings.VariantOneVsOne)

	err := s.StartChannelGame(context.Background())
	if !errors.Is(err, ErrGameNotStartable) {
		t.Fatalf("StartChannelGame() error = %v, want %v", err, ErrGameNotStartable)
	}
}

func TestEncounterFailureReopensWaitingRoom(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.encounters.createErr = errors.New("database is locked")
	s, channel := newTestSession(t, env, settings.VariantFourVsNpc)
	ctx := context.Background()

	if _, err := s.AddPlayer(ctx, gamestate.Player{UserID: "user-1", AssetID: "asset-1"}); err != nil {
		t.Fatalf("AddPlayer() error = %v", err)
	}
	if err := s.StartChannelGame(ctx); err == nil {
		t.Fatal("StartChannelGame() error = nil, want encounter failure")
	}
	st := s.State()
	if st.Status != gamestate.StatusWaitingRoom {
		t.Fatalf("status = %v, want %v", st.Status, gamestate.StatusWaitingRoom)
	}
	if len(st.Players) != 1 || !st.Players[0].IsNPC {
		t.Fatalf("players = %+v, want the house player only", st.Players)
	}
	if _, seated := env.deps.Seats.ChannelOf("asset-1"); seated {
		t.Fatal("asset-1 still holds a seat")
	}
	if msg, _ := channel.last(); msg.Kind != render.KindWaitingRoom {
		t.Fatalf("last message kind = %s, want %s", msg.Kind, render.KindWaitingRoom)
	}
	if got, err := s.AddPlayer(ctx, gamestate.Player{UserID: "user-1", AssetID: "asset-1"}); err != nil || got != RosterChanged {
		t.Fatalf("AddPlayer() after failure = %v, %v, want %v", got, err, RosterChanged)
	}
}

func TestEncounterFailureWithFullRosterRecovers(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.encounters.createErr = errors.New("database is locked")
	s, _ := newTestSession(t, env, settings.VariantOneVsNpc)
	ctx := context.Background()

	if got, err := s.AddPlayer(ctx, gamestate.Player{UserID: "user-1", AssetID: "asset-1"}); err != nil || got != RosterChanged {
		t.Fatalf("AddPlayer() = %v, %v, want %v", got, err, RosterChanged)
	}
	waitDone(t, s)

	if st := s.State(); st.Status != gamestate.StatusWaitingRoom || len(st.Players) != 1 {
		t.Fatalf("state = %v with %d players, want an open room with the house player", st.Status, len(st.Players))
	}
	env.encounters.mu.Lock()
	env.encounters.createErr = nil
	env.encounters.mu.Unlock()
	if got, err := s.AddPlayer(ctx, gamestate.Player{UserID: "user-1", AssetID: "asset-1"}); err != nil || got != RosterChanged {
		t.Fatalf("AddPlayer() after failure = %v, %v, want %v", got, err, RosterChanged)
	}
	waitDone(t, s)
	if got := len(env.encounters.completedEncounters()); got != 1 {
		t.Fatalf("completed encounters = %d, want 1", got)
	}
}

func TestEncounterFailureParksWhenStopPending(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.encounters.createErr = errors.New("database is locked")
	env.encounters.entered = make(chan struct{}, 1)
	env.encounters.gate = make(chan struct{})
	s, channel := newTestSession(t, env, settings.VariantOneVsNpc)
	ctx := context.Background()

	if _, err := s.AddPlayer(ctx, gamestate.Player{UserID: "user-1", AssetID: "asset-1"}); err != nil {
		t.Fatalf("AddPlayer() error = %v", err)
	}
	<-env.encounters.entered

	stopped := make(chan error, 1)
	go func() { stopped <- s.StopOnceGameEnds(ctx) }()
	close(env.encounters.gate)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("StopOnceGameEnds() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("StopOnceGameEnds() did not return")
	}
	waitDone(t, s)

	if st := s.State(); st.Status != gamestate.StatusMaintenance {
		t.Fatalf("status = %v, want %v", st.Status, gamestate.StatusMaintenance)
	}
	if msg, _ := channel.last(); msg.Kind != render.KindMaintenance {
		t.Fatalf("last message kind = %s, want %s", msg.Kind, render.KindMaintenance)
	}
	if _, seated := env.deps.Seats.ChannelOf("asset-1"); seated {
		t.Fatal("asset-1 still holds a seat")
	}
	if err := s.Resume(ctx); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if st := s.State(); st.Status != gamestate.StatusWaitingRoom {
		t.Fatalf("status after resume = %v, want %v", st.Status, gamestate.StatusWaitingRoom)
	}
}

func TestAssetSeatedInOneChannelAtATime(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	sessions := make([]*Session, 0, 2)
	for _, id := range []string{"chan-a", "chan-b"} {
		s := NewSession(testSettings(t, id, settings.VariantFourVsNpc), env.deps)
		if err := s.Initialize(ctx, newFakeChannel(id)); err != nil {
			t.Fatalf("Initialize(%s) error = %v", id, err)
		}
		sessions = append(sessions, s)
	}
	a, b := sessions[0], sessions[1]
	player := gamestate.Player{UserID: "user-1", AssetID: "asset-1"}

	if got, err := a.AddPlayer(ctx, player); err != nil || got != RosterChanged {
		t.Fatalf("chan-a AddPlayer() = %v, %v, want %v", got, err, RosterChanged)
	}
	if got, err := b.AddPlayer(ctx, player); err != nil || got != RosterAssetBusy {
		t.Fatalf("chan-b AddPlayer() = %v, %v, want %v", got, err, RosterAssetBusy)
	}
	if b.State().HasAsset("asset-1") {
		t.Fatal("asset-1 seated in chan-b")
	}
	if channelID, _ := env.deps.Seats.ChannelOf("asset-1"); channelID != "chan-a" {
		t.Fatalf("asset-1 seated in %q, want chan-a", channelID)
	}

	if got := a.RemovePlayer(ctx, "user-1"); got != RosterChanged {
		t.Fatalf("chan-a RemovePlayer() = %v, want %v", got, RosterChanged)
	}
	if got, _ := b.AddPlayer(ctx, player); got != RosterChanged {
		t.Fatalf("chan-b AddPlayer() after withdraw = %v, want %v", got, RosterChanged)
	}
	if err := b.StartChannelGame(ctx); err != nil {
		t.Fatalf("chan-b StartChannelGame() error = %v", err)
	}
	if _, seated := env.deps.Seats.ChannelOf("asset-1"); seated {
		t.Fatal("asset-1 still seated after its game ended")
	}
	if got := len(env.assets.recordedGames()); got != 1 {
		t.Fatalf("recorded games = %d, want 1", got)
	}
}

func TestGameEndInvalidatesCachedStats(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	stats := &cachedStats{}
	env.deps.Stats = stats
	s, _ := newTestSession(t, env, settings.VariantOneVsNpc)

	if _, err := s.AddPlayer(context.Background(), gamestate.Player{UserID: "user-1", AssetID: "asset-1"}); err != nil {
		t.Fatalf("AddPlayer() error = %v", err)
	}
	waitDone(t, s)
	if got := stats.invalidated.Load(); got != 1 {
		t.Fatalf("invalidations = %d, want 1", got)
	}
}

func TestStopOnceGameEndsParksIdleSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	s, channel := newTestSession(t, env, settings.VariantOneVsOne)
	ctx := context.Background()

	if err := s.StopOnceGameEnds(ctx); err != nil {
		t.Fatalf("StopOnceGameEnds() error = %v", err)
	}
	if st := s.State(); st.Status != gamestate.StatusMaintenance {
		t.Fatalf("status = %v, want %v", st.Status, gamestate.StatusMaintenance)
	}
	if msg, _ := channel.last(); msg.Kind != render.KindMaintenance {
		t.Fatalf("last message kind = %s, want %s", msg.Kind, render.KindMaintenance)
	}
	if got, _ := s.AddPlayer(ctx, gamestate.Player{UserID: "user-1", AssetID: "asset-1"}); got != RosterClosed {
		t.Fatalf("AddPlayer() while parked = %v, want %v", got, RosterClosed)
	}
	if _, seated := env.deps.Seats.ChannelOf("asset-1"); seated {
		t.Fatal("closed room claimed a seat")
	}

	if err := s.Resume(ctx); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if st := s.State(); st.Status != gamestate.StatusWaitingRoom {
		t.Fatalf("status after resume = %v, want %v", st.Status, gamestate.StatusWaitingRoom)
	}
	if got, _ := s.AddPlayer(ctx, gamestate.Player{UserID: "user-1", AssetID: "asset-1"}); got != RosterChanged {
		t.Fatalf("AddPlayer() after resume = %v, want %v", got, RosterChanged)
	}
}

func TestCanceledGameForcesWinAndParks(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	s, _ := newTestSession(t, env, settings.VariantFourVsNpc)
	if _, err := s.AddPlayer(context.Background(), gamestate.Player{UserID: "user-1", AssetID: "asset-1"}); err != nil {
		t.Fatalf("AddPlayer() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.StartChannelGame(ctx); err != nil {
		t.Fatalf("StartChannelGame() error = %v", err)
	}

	if st := s.State(); st.Status != gamestate.StatusMaintenance {
		t.Fatalf("status = %v, want %v", st.Status, gamestate.StatusMaintenance)
	}
	if got := len(env.encounters.completedEncounters()); got != 1 {
		t.Fatalf("completed encounters = %d, want 1", got)
	}
	if got := len(env.assets.recordedGames()); got != 1 {
		t.Fatalf("recorded games = %d, want 1", got)
	}
}
