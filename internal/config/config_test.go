package config

import "testing"

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("API_HASH", "")
	t.Setenv("BOT_TOKEN", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load to fail without API_HASH/BOT_TOKEN set")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("API_HASH", "hash")
	t.Setenv("BOT_TOKEN", "token")
	t.Setenv("OWNER", "111 222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxQueueSize != 15 {
		t.Errorf("expected default max_queue_size 15, got %d", cfg.MaxQueueSize)
	}
	if cfg.FFmpegPath != "ffmpeg" {
		t.Errorf("expected default ffmpeg path, got %q", cfg.FFmpegPath)
	}
	if len(cfg.Owners) != 2 || cfg.Owners[0] != 111 || cfg.Owners[1] != 222 {
		t.Errorf("expected owners [111 222], got %v", cfg.Owners)
	}
	if !cfg.IsOwner(111) || cfg.IsOwner(999) {
		t.Error("IsOwner did not match the parsed OWNER list")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv("API_HASH", "hash")
	t.Setenv("BOT_TOKEN", "token")
	t.Setenv("MAX_QUEUE_SIZE", "42")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxQueueSize != 42 {
		t.Errorf("expected overridden max_queue_size 42, got %d", cfg.MaxQueueSize)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected overridden log level debug, got %q", cfg.LogLevel)
	}
}
