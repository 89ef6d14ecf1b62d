package config

import (
	"os"
	"testing"
	"time"
)

// unsetenv clears key for the duration of the test and restores it afterwards.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"STORE_BACKEND", "SPAWNER_INTERVAL", "DISCORD_ANNOUNCE_CHANNEL", "DAILY_COOLDOWN", "VOTING_WINDOW"} {
		unsetenv(t, k)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.StoreBackend != StoreBackendPostgres {
		t.Errorf("StoreBackend = %q, want %q", cfg.StoreBackend, StoreBackendPostgres)
	}
	if cfg.SpawnerInterval != time.Minute {
		t.Errorf("SpawnerInterval = %v, want 1m", cfg.SpawnerInterval)
	}
	if cfg.DiscordAnnounceChannel != "announcements" {
		t.Errorf("DiscordAnnounceChannel = %q, want announcements", cfg.DiscordAnnounceChannel)
	}
	if cfg.DailyCooldown != 24*time.Hour {
		t.Errorf("DailyCooldown = %v, want 24h", cfg.DailyCooldown)
	}
	if cfg.VotingWindow != 10 {
		t.Errorf("VotingWindow = %d, want 10", cfg.VotingWindow)
	}
	if cfg.GroupBuyWarnLead != 0 {
		t.Errorf("GroupBuyWarnLead = %v, want 0", cfg.GroupBuyWarnLead)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("SPAWNER_INTERVAL", "15s")
	t.Setenv("SESSION_BONUS_MIN", "1")
	t.Setenv("SESSION_BONUS_MAX", "3")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.StoreBackend != StoreBackendMemory {
		t.Errorf("StoreBackend = %q, want memory", cfg.StoreBackend)
	}
	if cfg.SpawnerInterval != 15*time.Second {
		t.Errorf("SpawnerInterval = %v, want 15s", cfg.SpawnerInterval)
	}
	if cfg.SessionBonusMin != 1 || cfg.SessionBonusMax != 3 {
		t.Errorf("bonus range = %d..%d, want 1..3", cfg.SessionBonusMin, cfg.SessionBonusMax)
	}
}

func TestLoadRejectsInvalidRanges(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"backend", map[string]string{"STORE_BACKEND": "mongo"}},
		{"gap", map[string]string{"SESSION_GAP_MIN": "1h", "SESSION_GAP_MAX": "1m"}},
		{"duration", map[string]string{"SESSION_DURATION_MIN": "0"}},
		{"bonus", map[string]string{"SESSION_BONUS_MIN": "10", "SESSION_BONUS_MAX": "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %v", tt.env)
			}
		})
	}
}

func TestValidateChatReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	t.Setenv("TWITCH_CHANNEL", "")
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Errorf("expected error when missing twitch envs")
	}
}

func TestValidateDiscordReady(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("DISCORD_GUILD_ID", "")
	cfg, _ := Load()
	if err := cfg.ValidateDiscordReady(); err == nil {
		t.Errorf("expected error when DISCORD_GUILD_ID is empty")
	}
	t.Setenv("DISCORD_GUILD_ID", "123")
	cfg, _ = Load()
	if err := cfg.ValidateDiscordReady(); err != nil {
		t.Errorf("expected valid discord config, got %v", err)
	}
}

func TestValidateStreamStatusReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_CLIENT_ID", "id")
	t.Setenv("TWITCH_CLIENT_SECRET", "")
	cfg, _ := Load()
	if err := cfg.ValidateStreamStatusReady(); err == nil {
		t.Errorf("expected error without client secret")
	}
}
