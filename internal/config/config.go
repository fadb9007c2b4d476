package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the process-wide settings read once at startup from the
// environment. Everything a SettingsDocument can override per-user or
// globally is seeded here as the hard-coded fallback.
type Config struct {
	AppID    int    `mapstructure:"app_id"`
	APIHash  string `mapstructure:"api_hash"`
	BotToken string `mapstructure:"bot_token"`
	Owners   []int64

	MaxFileSizeMiB int  `mapstructure:"max_file_size"`
	MaxQueueSize   int  `mapstructure:"max_queue_size"`
	AutoDelete     bool `mapstructure:"auto_delete_original"`

	FilenameTemplate        string `mapstructure:"filename_template"`
	HardwareAccelEnabled    bool   `mapstructure:"enable_hardware_acceleration"`
	ProgressUpdateInterval  int    `mapstructure:"progress_update_interval"`

	DefaultCodec        string `mapstructure:"default_codec"`
	DefaultSpeedPreset  string `mapstructure:"default_speed_preset"`
	DefaultQualityQP    int    `mapstructure:"default_quality_qp"`
	DefaultScaleHeight  int    `mapstructure:"default_scale_height"`
	DefaultFPS          int    `mapstructure:"default_fps"`
	DefaultAudioBitrate string `mapstructure:"default_audio_bitrate"`

	WatermarkEnabled  bool   `mapstructure:"watermark_enabled"`
	WatermarkText     string `mapstructure:"watermark_text"`
	WatermarkPosition string `mapstructure:"watermark_position"`

	EnableScreenshots   bool `mapstructure:"enable_screenshots"`
	ScreenshotCount     int  `mapstructure:"screenshot_count"`
	EnableVideoPreview  bool `mapstructure:"enable_video_preview"`
	PreviewDurationSecs int  `mapstructure:"preview_duration"`

	LogLevel      string `mapstructure:"log_level"`
	FFmpegPath    string `mapstructure:"ffmpeg_path"`
	FFprobePath   string `mapstructure:"ffprobe_path"`
	HistoryDBPath string `mapstructure:"history_db_path"`

	MediaPath string `mapstructure:"media_path"`
	TempPath  string `mapstructure:"temp_path"`
	QueueFile string `mapstructure:"queue_file"`
}

func defaults() map[string]any {
	return map[string]any{
		"max_file_size":                 4000,
		"max_queue_size":                15,
		"auto_delete_original":          false,
		"filename_template":             "{original_name} [{resolution} {codec}]",
		"enable_hardware_acceleration":  false,
		"progress_update_interval":      5,
		"default_codec":                 "libx264",
		"default_speed_preset":          "medium",
		"default_quality_qp":            26,
		"default_scale_height":          1080,
		"default_fps":                   30,
		"default_audio_bitrate":         "192k",
		"watermark_enabled":             false,
		"watermark_text":                "Compressed",
		"watermark_position":            "bottom-right",
		"enable_screenshots":            true,
		"screenshot_count":              5,
		"enable_video_preview":          true,
		"preview_duration":              10,
		"log_level":                     "info",
		"ffmpeg_path":                   "ffmpeg",
		"ffprobe_path":                  "ffprobe",
		"history_db_path":               "./history.sqlite",
		"media_path":                    "/media",
		"temp_path":                     "",
		"queue_file":                    "./queue.json",
	}
}

// Load reads configuration from the environment (via viper), applying
// defaults for anything unset. AppID/APIHash/BotToken have no defaults —
// their absence is a startup failure the caller should treat as fatal.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, val := range defaults() {
		v.SetDefault(key, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	cfg.AppID = v.GetInt("app_id")
	cfg.APIHash = v.GetString("api_hash")
	cfg.BotToken = v.GetString("bot_token")

	if cfg.APIHash == "" || cfg.BotToken == "" {
		return nil, fmt.Errorf("missing required credentials: API_HASH and BOT_TOKEN must be set")
	}

	for _, field := range strings.Fields(v.GetString("owner")) {
		var id int64
		if _, err := fmt.Sscanf(field, "%d", &id); err == nil {
			cfg.Owners = append(cfg.Owners, id)
		}
	}

	return &cfg, nil
}

// IsOwner reports whether userID is authorized to submit jobs or manage
// settings.
func (c *Config) IsOwner(userID int64) bool {
	for _, id := range c.Owners {
		if id == userID {
			return true
		}
	}
	return false
}
