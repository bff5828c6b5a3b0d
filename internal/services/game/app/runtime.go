package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/louisbranch/daruma/internal/platform/logging"
	"github.com/louisbranch/daruma/internal/platform/timeouts"
	"github.com/louisbranch/daruma/internal/random"
	"github.com/louisbranch/daruma/internal/services/game/distribution"
	"github.com/louisbranch/daruma/internal/services/game/domain/cooldown"
	"github.com/louisbranch/daruma/internal/services/game/domain/settings"
	"github.com/louisbranch/daruma/internal/services/game/gateway"
	"github.com/louisbranch/daruma/internal/services/game/render"
	"github.com/louisbranch/daruma/internal/services/game/storage"
	"github.com/louisbranch/daruma/internal/services/game/storage/rediscache"
	gamesqlite "github.com/louisbranch/daruma/internal/services/game/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// RuntimeConfig controls game startup and dependencies.
type RuntimeConfig struct {
	// GRPCAddr serves the health service.
	GRPCAddr string
	// HTTPAddr serves the channel gateway.
	HTTPAddr    string
	DBPath      string
	PresetsPath string
	// Channels seeds channel configs, keyed by channel id, valued by variant.
	// The gateway serves these plus every stored channel config.
	Channels     map[string]string
	RedisAddr    string
	StatsTTL     time.Duration
	AMQPURL      string
	AMQPExchange string
	Locale       string
	FanoutLimit  int
	// AdminToken enables the /admin/ HTTP surface when set.
	AdminToken string
	Logger     *zap.Logger
}

const (
	defaultGRPCAddr     = ":8091"
	defaultHTTPAddr     = ":8090"
	defaultGameDB       = "data/game.db"
	defaultStatsTTL     = 5 * time.Minute
	defaultAMQPExchange = "daruma.payouts"
	defaultLocale       = "en"

	orchestratorHealthService = "game.orchestrator"
)

func (c RuntimeConfig) normalized() RuntimeConfig {
	if strings.TrimSpace(c.GRPCAddr) == "" {
		c.GRPCAddr = defaultGRPCAddr
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		c.HTTPAddr = defaultHTTPAddr
	}
	if strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = defaultGameDB
	}
	if c.StatsTTL <= 0 {
		c.StatsTTL = defaultStatsTTL
	}
	if strings.TrimSpace(c.AMQPExchange) == "" {
		c.AMQPExchange = defaultAMQPExchange
	}
	if strings.TrimSpace(c.Locale) == "" {
		c.Locale = defaultLocale
	}
	if c.FanoutLimit <= 0 {
		c.FanoutLimit = defaultFanoutLimit
	}
	return c
}

// Run starts the game runtime and blocks until ctx ends. Running games are
// finished before Run returns.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.normalized()
	logger := logging.OrNop(cfg.Logger)

	seeds, err := parseChannelSeeds(cfg.Channels)
	if err != nil {
		return err
	}
	presets, err := settings.LoadPresets(cfg.PresetsPath)
	if err != nil {
		return fmt.Errorf("load presets: %w", err)
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create game storage dir: %w", err)
		}
	}
	store, err := gamesqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open game sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("close game sqlite store", zap.Error(closeErr))
		}
	}()

	var stats storage.StatsProvider = store
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client := rediscache.NewClient(addr)
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("close redis client", zap.Error(closeErr))
			}
		}()
		stats = rediscache.NewStats(client, store, cfg.StatsTTL, logger)
	}

	distributor, closeDistributor, err := newDistributor(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDistributor()

	rng, err := random.NewSeededSource()
	if err != nil {
		return err
	}

	registry := &assetRegistry{}
	if err := seedHouseAsset(ctx, store, presets.NPC, time.Now()); err != nil {
		return err
	}
	registry.markReady()
	if err := seedChannelConfigs(ctx, store, seeds, time.Now()); err != nil {
		return err
	}

	configs, err := store.ListChannelConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list channel configs: %w", err)
	}
	hub := gateway.NewHub(servedChannelIDs(seeds, configs), logger)

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on health addr %s: %w", cfg.GRPCAddr, err)
	}
	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcListener.Close()
		return fmt.Errorf("listen on gateway addr %s: %w", cfg.HTTPAddr, err)
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(orchestratorHealthService, grpc_health_v1.HealthCheckResponse_SERVING)

	orch := NewOrchestrator(OrchestratorDeps{
		Configs:  store,
		Channels: gatewayChannels{hub: hub},
		Registry: registry,
		Presets:  presets,
		Session: SessionDeps{
			Encounters:  store,
			Assets:      store,
			Stats:       stats,
			Distributor: distributor,
			Cooldown:    cooldown.NewCalculator(presets.Cooldown, rng),
			Random:      rng,
			Localizer:   render.NewLocalizer(cfg.Locale),
			Logger:      logger,
		},
		FanoutLimit:   cfg.FanoutLimit,
		OnMaintenance: maintenanceHealth(healthServer),
	})
	router := NewRouter(orch)

	mux := http.NewServeMux()
	mux.Handle("/", hub.Handler(func(ctx context.Context, in *gateway.Interaction) error {
		return router.Dispatch(ctx, in)
	}))
	if cfg.AdminToken != "" {
		mux.Handle("/admin/", NewAdminHandler(orch, hub, cfg.AdminToken))
	}
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	serveErr := make(chan error, 2)
	go func() {
		serveErr <- grpcServer.Serve(grpcListener)
	}()
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
	}()

	started := orch.StartGameWaitingRooms(ctx, configs)
	logger.Info("game runtime ready",
		zap.String("health_addr", grpcListener.Addr().String()),
		zap.String("gateway_addr", httpListener.Addr().String()),
		zap.Int("waiting_rooms", started),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Shutdown)
	defer cancel()
	orch.StopWaitingRoomsOnceGamesEnd(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown gateway", zap.Error(err))
	}
	logger.Info("game runtime stopped")
	return runErr
}

// servedChannelIDs lists the seeded and stored channels, sorted.
func servedChannelIDs(seeds map[string]settings.Variant, configs []settings.ChannelConfig) []string {
	ids := make(map[string]struct{}, len(seeds)+len(configs))
	for id := range seeds {
		ids[id] = struct{}{}
	}
	for _, cfg := range configs {
		ids[cfg.ChannelID] = struct{}{}
	}
	return slices.Sorted(maps.Keys(ids))
}

// parseChannelSeeds validates the configured channel variants.
func parseChannelSeeds(raw map[string]string) (map[string]settings.Variant, error) {
	seeds := make(map[string]settings.Variant, len(raw))
	for id, v := range raw {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, errors.New("channel seed has an empty channel id")
		}
		variant, err := settings.ParseVariant(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", id, err)
		}
		seeds[id] = variant
	}
	return seeds, nil
}

// seedChannelConfigs stores a config for each seed that has none. Existing
// configs keep their overrides.
func seedChannelConfigs(ctx context.Context, configs storage.ChannelConfigStore, seeds map[string]settings.Variant, now time.Time) error {
	for id, variant := range seeds {
		_, err := configs.GetChannelConfig(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrChannelConfigNotFound) {
			return fmt.Errorf("get channel config %s: %w", id, err)
		}
		if err := configs.PutChannelConfig(ctx, settings.ChannelConfig{
			ChannelID: id,
			Variant:   variant,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return fmt.Errorf("seed channel config %s: %w", id, err)
		}
	}
	return nil
}

// seedHouseAsset makes sure the house player's asset exists.
func seedHouseAsset(ctx context.Context, assets storage.AssetStore, npc settings.NPC, now time.Time) error {
	if npc.AssetID == "" {
		return nil
	}
	_, err := assets.GetAsset(ctx, npc.AssetID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("get house asset: %w", err)
	}
	if err := assets.PutAsset(ctx, storage.Asset{
		ID:        npc.AssetID,
		OwnerID:   npc.UserID,
		Name:      npc.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("seed house asset: %w", err)
	}
	return nil
}

func newDistributor(cfg RuntimeConfig, logger *zap.Logger) (distribution.Distributor, func(), error) {
	url := strings.TrimSpace(cfg.AMQPURL)
	if url == "" {
		return distribution.NewLogDistributor(logger), func() {}, nil
	}
	d, err := distribution.DialAMQP(url, cfg.AMQPExchange, logger)
	if err != nil {
		return nil, nil, err
	}
	return d, func() {
		if err := d.Close(); err != nil {
			logger.Warn("close amqp distributor", zap.Error(err))
		}
	}, nil
}

func maintenanceHealth(server *health.Server) func(bool) {
	return func(inMaintenance bool) {
		status := grpc_health_v1.HealthCheckResponse_SERVING
		if inMaintenance {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		server.SetServingStatus(orchestratorHealthService, status)
	}
}

// assetRegistry flips ready once the house asset is stored.
type assetRegistry struct {
	ready atomic.Bool
}

func (r *assetRegistry) Ready() bool { return r.ready.Load() }

func (r *assetRegistry) markReady() { r.ready.Store(true) }

// gatewayChannels resolves channels served by the WebSocket gateway.
type gatewayChannels struct {
	hub *gateway.Hub
}

func (g gatewayChannels) Channel(ctx context.Context, channelID string) (Channel, error) {
	c, err := g.hub.Channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return c, nil
}
