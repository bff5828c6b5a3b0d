// Package game parses game command flags and starts the game runtime.
package game

import (
	"context"
	"flag"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/daruma/internal/platform/cmd"
	"github.com/louisbranch/daruma/internal/platform/logging"
	server "github.com/louisbranch/daruma/internal/services/game/app"
	"go.uber.org/zap"
)

// Config holds game command configuration.
type Config struct {
	// EnvFile is the .env file loaded before the environment is parsed.
	EnvFile      string
	GRPCAddr     string            `env:"DARUMA_GAME_GRPC_ADDR" envDefault:":8091"`
	HTTPAddr     string            `env:"DARUMA_GAME_HTTP_ADDR" envDefault:":8090"`
	DBPath       string            `env:"DARUMA_GAME_DB_PATH" envDefault:"data/game.db"`
	PresetsPath  string            `env:"DARUMA_GAME_PRESETS_PATH"`
	Channels     map[string]string `env:"DARUMA_GAME_CHANNELS" envKeyValSeparator:":"`
	RedisAddr    string            `env:"DARUMA_GAME_REDIS_ADDR"`
	StatsTTL     time.Duration     `env:"DARUMA_GAME_STATS_TTL" envDefault:"5m"`
	AMQPURL      string            `env:"DARUMA_GAME_AMQP_URL"`
	AMQPExchange string            `env:"DARUMA_GAME_AMQP_EXCHANGE" envDefault:"daruma.payouts"`
	Locale       string            `env:"DARUMA_GAME_LOCALE" envDefault:"en"`
	FanoutLimit  int               `env:"DARUMA_GAME_FANOUT_LIMIT" envDefault:"16"`
	AdminToken   string            `env:"DARUMA_GAME_ADMIN_TOKEN"`
	LogLevel     string            `env:"DARUMA_LOG_LEVEL" envDefault:"info"`
	LogDev       bool              `env:"DARUMA_LOG_DEV"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	envFile := envFileFromArgs(args)
	if err := entrypoint.ParseConfig(&cfg, envFile); err != nil {
		return Config{}, err
	}
	cfg.EnvFile = envFile
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "The health gRPC listen address")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The channel gateway listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "The game SQLite database path")
	fs.StringVar(&cfg.PresetsPath, "presets", cfg.PresetsPath, "A presets YAML file replacing the embedded defaults")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "The log level")
	fs.StringVar(&cfg.EnvFile, "env-file", cfg.EnvFile, "The .env file loaded before parsing")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envFileFromArgs finds an -env-file flag before the flag set is parsed.
func envFileFromArgs(args []string) string {
	for i, arg := range args {
		switch arg {
		case "-env-file", "--env-file":
			if i+1 < len(args) {
				return args[i+1]
			}
		}
		for _, prefix := range []string{"-env-file=", "--env-file="} {
			if path, ok := strings.CutPrefix(arg, prefix); ok && path != "" {
				return path
			}
		}
	}
	return ".env"
}

// Run starts the game runtime.
func Run(ctx context.Context, cfg Config) error {
	logger, err := logging.New(logging.Config{
		Level:       cfg.LogLevel,
		Development: cfg.LogDev,
		Service:     entrypoint.ServiceGame,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceGame, entrypoint.RunOptions{Logger: logger}, func(ctx context.Context) error {
		logger.Info("starting game runtime", zap.String("grpc_addr", cfg.GRPCAddr), zap.String("http_addr", cfg.HTTPAddr))
		return server.Run(ctx, server.RuntimeConfig{
			GRPCAddr:     cfg.GRPCAddr,
			HTTPAddr:     cfg.HTTPAddr,
			DBPath:       cfg.DBPath,
			PresetsPath:  cfg.PresetsPath,
			Channels:     cfg.Channels,
			RedisAddr:    cfg.RedisAddr,
			StatsTTL:     cfg.StatsTTL,
			AMQPURL:      cfg.AMQPURL,
			AMQPExchange: cfg.AMQPExchange,
			Locale:       cfg.Locale,
			FanoutLimit:  cfg.FanoutLimit,
			AdminToken:   cfg.AdminToken,
			Logger:       logger,
		})
	})
}
