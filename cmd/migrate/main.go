// Command migrate manages the clackbot schema and seeds the Twitch bot token.
//
// Usage:
//
//	migrate [-action up|down|version] [-import-token]
//
// -import-token stores TWITCH_OAUTH_TOKEN and TWITCH_REFRESH_TOKEN in oauth_tokens so the bot's
// refresher keeps the token fresh instead of relying on the environment.
//
// Environment Variables:
//
//	DB_DSN: Database connection string (required)
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/srteclados/clackbot/db"
)

type options struct {
	action       string
	importToken  bool
	accessToken  string
	refreshToken string
	// tokenTTL is the assumed lifetime of an imported token; the refresher renews it early.
	tokenTTL time.Duration
}

func (o options) validate() error {
	switch o.action {
	case "up", "down", "version":
	default:
		return fmt.Errorf("unknown action %q (want up, down or version)", o.action)
	}
	if o.importToken && o.accessToken == "" {
		return errors.New("-import-token requires TWITCH_OAUTH_TOKEN")
	}
	return nil
}

func main() {
	action := flag.String("action", "up", "up, down (one step) or version")
	importToken := flag.Bool("import-token", false, "store TWITCH_OAUTH_TOKEN/TWITCH_REFRESH_TOKEN in oauth_tokens")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		slog.Error("DB_DSN environment variable is required")
		os.Exit(1)
	}
	opts := options{
		action:       *action,
		importToken:  *importToken,
		accessToken:  strings.TrimPrefix(os.Getenv("TWITCH_OAUTH_TOKEN"), "oauth:"),
		refreshToken: os.Getenv("TWITCH_REFRESH_TOKEN"),
		tokenTTL:     time.Hour,
	}
	if err := opts.validate(); err != nil {
		slog.Error("invalid arguments", slog.Any("err", err))
		os.Exit(2)
	}

	database, err := db.Connect(dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("err", err))
		os.Exit(1)
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.PingContext(ctx); err != nil {
		slog.Error("failed to ping database", slog.Any("err", err))
		os.Exit(1)
	}
	if err := run(ctx, database, opts); err != nil {
		slog.Error("migrate failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, database *sql.DB, opts options) error {
	switch opts.action {
	case "up":
		if err := db.RunMigrations(database); err != nil {
			return err
		}
	case "down":
		if err := db.MigrateDown(database); err != nil {
			return err
		}
	}
	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return err
	}
	slog.Info("schema version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))

	if !opts.importToken {
		return nil
	}
	expiry := time.Now().Add(opts.tokenTTL)
	if err := db.UpsertOAuthToken(ctx, database, "twitch", opts.accessToken, opts.refreshToken, expiry, "chat:read chat:edit"); err != nil {
		return fmt.Errorf("import twitch token: %w", err)
	}
	slog.Info("twitch token imported", slog.Bool("has_refresh_token", opts.refreshToken != ""), slog.Time("expires_at", expiry))
	return nil
}
