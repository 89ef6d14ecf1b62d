// Command clackbot runs the SrTeclados community bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the store (Postgres with migrations, or in memory) and the overlay hub.
//   - Connects Twitch chat and the Discord gateway when their credentials are set.
//   - Starts the spawner tick, the Twitch token refresher and the HTTP server
//     (/healthz, /readyz, /status, /metrics, /overlay/events).
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"github.com/srteclados/clackbot/bot"
	"github.com/srteclados/clackbot/chat"
	"github.com/srteclados/clackbot/config"
	"github.com/srteclados/clackbot/db"
	"github.com/srteclados/clackbot/discord"
	"github.com/srteclados/clackbot/hangman"
	"github.com/srteclados/clackbot/oauth"
	"github.com/srteclados/clackbot/overlay"
	"github.com/srteclados/clackbot/platform"
	"github.com/srteclados/clackbot/server"
	"github.com/srteclados/clackbot/spawner"
	"github.com/srteclados/clackbot/store"
	"github.com/srteclados/clackbot/telemetry"
	"github.com/srteclados/clackbot/twitchapi"
	"github.com/srteclados/clackbot/voting"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
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
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	// Optional; requires OTEL_EXPORTER_OTLP_ENDPOINT
	shutdown, err := telemetry.InitTracing("clackbot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, database := openStore(ctx, cfg)
	if database != nil {
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
	}

	hub := openOverlay(ctx, cfg)

	words := hangman.DefaultWords
	if cfg.HangmanWordsFile != "" {
		if words, err = hangman.LoadWords(cfg.HangmanWordsFile); err != nil {
			slog.Error("hangman word list", slog.Any("err", err))
			os.Exit(1)
		}
	}
	commands := bot.New(bot.Deps{Store: st, Hangman: hangman.New(words), DailyCooldown: cfg.DailyCooldown})

	var stream spawner.StreamStatus
	if err := cfg.ValidateStreamStatusReady(); err == nil {
		stream = &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
			HTTPClient:     &http.Client{Timeout: 10 * time.Second},
		}
	} else {
		slog.Warn("live detection disabled; sessions will not be spawned", slog.Any("err", err))
	}

	var action spawner.ChatAction
	if client := startTwitchChat(ctx, cfg, database, commands); client != nil {
		action = client
	}

	var announcer platform.Platform
	if client := startDiscord(ctx, cfg, commands); client != nil {
		announcer = client
	}

	// The refreshed token is picked up by the chat client on its next connect.
	if database != nil && cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		oc := twitchapi.UserOAuthConfig(cfg.TwitchClientID, cfg.TwitchClientSecret, "")
		oauth.StartRefresher(ctx, &db.TokenStoreAdapter{DB: database}, "twitch", 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (*oauth2.Token, string, error) {
			tok, err := twitchapi.RefreshUserToken(rctx, oc, refreshToken)
			if err != nil {
				return nil, "", err
			}
			return tok, twitchapi.TokenScope(tok), nil
		})
	}

	sp := spawner.New(st, stream, action, announcer, hub, spawner.Config{
		TwitchChannel:   cfg.TwitchChannel,
		AnnounceChannel: cfg.DiscordAnnounceChannel,
		AlertRole:       cfg.DiscordGBAlertRole,
		WarnLead:        cfg.GroupBuyWarnLead,
	})
	go spawner.StartSpawnerJob(ctx, sp, cfg.SpawnerInterval)

	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	go func() {
		deps := server.Deps{Store: st, Overlay: hub, Spawner: sp, HeartbeatMaxAge: 3 * cfg.SpawnerInterval}
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}

// openStore returns the configured backend. The *sql.DB is nil for the memory backend.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, *sql.DB) {
	policy := store.SessionPolicy{
		GapMin: cfg.SessionGapMin, GapMax: cfg.SessionGapMax,
		DurationMin: cfg.SessionDurationMin, DurationMax: cfg.SessionDurationMax,
		BonusMin: cfg.SessionBonusMin, BonusMax: cfg.SessionBonusMax,
	}
	if cfg.StoreBackend == config.StoreBackendMemory {
		slog.Warn("using in-memory store; data is lost on restart", slog.String("component", "store"))
		return store.NewMemory(policy).Store(), nil
	}

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	// Versioned migrations first; the embedded idempotent schema covers databases that predate
	// the schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL", slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	}
	return store.NewPostgres(db.NewBun(database), policy), database
}

func openOverlay(ctx context.Context, cfg *config.Config) *overlay.Hub {
	if cfg.RedisAddr == "" {
		return overlay.NewHub()
	}
	rc, err := overlay.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		slog.Warn("redis unavailable; overlay events stay in-process", slog.Any("err", err), slog.String("component", "overlay"))
		return overlay.NewHub()
	}
	go func() {
		<-ctx.Done()
		_ = rc.Close()
	}()
	slog.Info("overlay events published to redis", slog.String("channel", cfg.OverlayRedisChannel), slog.String("component", "overlay"))
	return overlay.NewHub(overlay.NewRedisPublisher(rc, cfg.OverlayRedisChannel))
}

func startTwitchChat(ctx context.Context, cfg *config.Config, database *sql.DB, commands *bot.Bot) *chat.Client {
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("twitch chat disabled", slog.Any("err", err))
		return nil
	}
	var tokens chat.TokenStore
	if database != nil {
		tokens = &db.TokenStoreAdapter{DB: database}
	}
	token, err := chat.ResolveToken(ctx, cfg.TwitchOAuthToken, tokens)
	if err != nil {
		slog.Warn("twitch chat disabled", slog.Any("err", err))
		return nil
	}
	client := chat.NewClient(cfg.TwitchBotUsername, token, cfg.TwitchChannel)
	iface := bot.NewTwitchInterface(client)
	client.OnMessage(func(ctx context.Context, m chat.Message) {
		if err := commands.HandleMessage(ctx, iface, m.Platform()); err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("twitch message failed", slog.String("component", "twitch_chat"), slog.Any("err", err))
		}
	})
	go func() {
		if err := client.Run(ctx); err != nil {
			slog.Error("twitch chat stopped", slog.Any("err", err))
		}
	}()
	return client
}

func startDiscord(ctx context.Context, cfg *config.Config, commands *bot.Bot) *discord.Client {
	if err := cfg.ValidateDiscordReady(); err != nil {
		slog.Info("discord disabled", slog.Any("err", err))
		return nil
	}
	client, err := discord.Connect(cfg.DiscordToken, cfg.DiscordGuildID)
	if err != nil {
		slog.Error("discord disabled", slog.Any("err", err))
		return nil
	}
	votes := voting.NewProcessor(client, voting.Config{
		Channels:     cfg.VotingChannels,
		AllowedRoles: cfg.VotingAllowRoles,
		Window:       cfg.VotingWindow,
	})
	commands.UsePreProcessor(bot.Discord, votes.Handle)
	iface := bot.NewDiscordInterface(client)
	client.OnMessage(func(ctx context.Context, msg platform.Message) {
		if err := commands.HandleMessage(ctx, iface, msg); err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("discord message failed", slog.String("component", "discord"), slog.Any("err", err))
		}
	})
	client.OnReaction(func(ctx context.Context, r platform.Reaction) {
		if err := votes.HandleReaction(ctx, r); err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("vote enforcement failed", slog.String("component", "voting"), slog.Any("err", err))
		}
	})
	go func() {
		if err := client.Run(ctx); err != nil {
			slog.Error("discord stopped", slog.Any("err", err))
		}
	}()
	return client
}
