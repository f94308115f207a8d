// Command chattender runs the Twitch chat bot. It:
//   - Loads configuration, the auth file, and the users file.
//   - Opens token storage (Postgres when DB_DSN is set, a bbolt file
//     otherwise) with optional at-rest sealing via ENCRYPTION_KEY.
//   - Starts the background credential validation cycle.
//   - Connects the IRC bot to every configured channel.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status and
//     /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/onnwee/chattender/analogue"
	"github.com/onnwee/chattender/auth"
	"github.com/onnwee/chattender/chat"
	"github.com/onnwee/chattender/config"
	"github.com/onnwee/chattender/crypto"
	"github.com/onnwee/chattender/db"
	"github.com/onnwee/chattender/server"
	"github.com/onnwee/chattender/store"
	"github.com/onnwee/chattender/telemetry"
	"github.com/onnwee/chattender/twitchapi"
	"github.com/onnwee/chattender/users"
	"github.com/onnwee/chattender/weather"
	"github.com/onnwee/chattender/wotd"
)

func main() {
	// Local dev convenience only; production relies on real env.
	_ = godotenv.Load()

	initLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("chattender", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	userRepo, err := users.LoadFile(cfg.UsersFile)
	if err != nil {
		slog.Error("users file load failed", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("users loaded", slog.Int("count", len(userRepo.Users())))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sealer := loadSealer()

	// Token storage backend.
	var tokens store.TokenStore
	var ping func(context.Context) error
	if cfg.DBDsn != "" {
		database, err := db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		if err := db.RunMigrations(database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
		tokens = db.NewTokenStore(database, sealer)
		ping = database.PingContext
		slog.Info("token storage ready", slog.String("backend", "postgres"))
	} else {
		bolt, err := store.OpenBolt(cfg.TokenDBPath, sealer)
		if err != nil {
			slog.Error("failed to open token db", slog.Any("err", err), slog.String("path", cfg.TokenDBPath))
			os.Exit(1)
		}
		defer func() {
			if err := bolt.Close(); err != nil {
				slog.Error("failed to close token db", slog.Any("err", err))
			}
		}()
		tokens = bolt
		slog.Info("token storage ready", slog.String("backend", "bolt"), slog.String("path", cfg.TokenDBPath))
	}

	// Background credential validation.
	identity := &twitchapi.IdentityClient{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
	}
	validator := auth.NewValidator(identity, tokens)
	validator.StartCycle(ctx, userRepo.Handles(), cfg.ValidateInterval)

	// Chat bot with its data sources.
	botCfg := chat.Config{
		Username:      cfg.BotUsername,
		IRCToken:      cfg.Auth.IRCAuthToken,
		Users:         userRepo,
		Wotd:          wotd.New(),
		Analogue:      analogue.New(),
		Resolver:      twitchapi.NewHelixClient(cfg.Auth.ClientID, cfg.Auth.ClientSecret),
		OnAuthFailure: validator.Trigger,
	}
	if cfg.Auth.OneWeatherAPIKey != "" {
		w, err := weather.New(cfg.Auth.OneWeatherAPIKey)
		if err != nil {
			slog.Error("weather repository init failed", slog.Any("err", err))
			os.Exit(1)
		}
		botCfg.Weather = w
	} else {
		slog.Info("weather disabled: no OpenWeather API key in auth file")
	}
	bot := chat.NewBot(botCfg)

	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, server.Config{
			Users:  userRepo,
			Tokens: tokens,
			Ping:   ping,
		}); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	if err := bot.Run(ctx); err != nil {
		slog.Error("irc bot exited with error", slog.Any("err", err))
		stop()
		os.Exit(1)
	}
	slog.Info("shutting down")
}

// initLogging configures slog from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func initLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))
}

// loadSealer builds the token sealer from ENCRYPTION_KEY. An invalid key is
// fatal; an absent key falls back to plaintext storage with a warning.
func loadSealer() crypto.Sealer {
	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		slog.Warn("ENCRYPTION_KEY not set, tokens will be stored in plaintext (not recommended for production)")
		return crypto.Plaintext{}
	}
	sealer, err := crypto.NewAESSealer(key)
	if err != nil {
		slog.Error("encryption initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("token sealing enabled (AES-256-GCM)")
	return sealer
}
