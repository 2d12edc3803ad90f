// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Retention RetentionConfig `mapstructure:"retention"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// StorageConfig sets the artifact directory and size ceiling.
type StorageConfig struct {
	DownloadDir   string `mapstructure:"download_dir"`
	MaxFileSizeMB int    `mapstructure:"max_file_size_mb"`
}

// LimitsConfig holds the admission control ceilings.
type LimitsConfig struct {
	DownloadsPerHour   int `mapstructure:"downloads_per_hour"`
	DownloadsPerDay    int `mapstructure:"downloads_per_day"`
	MaxDurationMinutes int `mapstructure:"max_duration_minutes"`
	HistoryPerPageMax  int `mapstructure:"history_per_page_max"`
}

// RetentionConfig governs the expiration/cleanup reclaimer. FileRetentionHours
// is the absolute expiry window stamped at submission; CompletedRetentionMins
// is the much shorter window after which the frequent sweep reclaims completed
// artifacts.
type RetentionConfig struct {
	FileRetentionHours     int `mapstructure:"file_retention_hours"`
	CompletedRetentionMins int `mapstructure:"completed_retention_minutes"`
	SessionRetentionMins   int `mapstructure:"session_retention_minutes"`
	PurgeGraceMins         int `mapstructure:"purge_grace_minutes"`
	RetentionSweepMins     int `mapstructure:"retention_sweep_minutes"`
	ExpirySweepHours       int `mapstructure:"expiry_sweep_hours"`
	PurgeSweepMins         int `mapstructure:"purge_sweep_minutes"`
}

// StrategyConfig is one named retrieval profile.
type StrategyConfig struct {
	ClientProfile  string `mapstructure:"client_profile"`
	Retries        int    `mapstructure:"retries"`
	SocketTimeoutS int    `mapstructure:"socket_timeout_seconds"`
	QualityCeiling int    `mapstructure:"quality_ceiling"`
}

// RetrievalConfig configures the external retrieval engine and both
// strategies.
type RetrievalConfig struct {
	BinaryPath   string         `mapstructure:"binary_path"`
	AudioCodec   string         `mapstructure:"audio_codec"`
	AudioBitrate string         `mapstructure:"audio_bitrate"`
	Primary      StrategyConfig `mapstructure:"primary"`
	Fallback     StrategyConfig `mapstructure:"fallback"`
}

// WorkerConfig governs the download worker pool.
type WorkerConfig struct {
	Concurrency       int `mapstructure:"concurrency"`
	QueueDepth        int `mapstructure:"queue_depth"`
	JobTimeoutMinutes int `mapstructure:"job_timeout_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SAVEFORME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.table", "downloads")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("storage.download_dir", "downloads")
	v.SetDefault("storage.max_file_size_mb", 500)
	v.SetDefault("limits.downloads_per_hour", 50)
	v.SetDefault("limits.downloads_per_day", 200)
	v.SetDefault("limits.max_duration_minutes", 60)
	v.SetDefault("limits.history_per_page_max", 100)
	v.SetDefault("retention.file_retention_hours", 24)
	v.SetDefault("retention.completed_retention_minutes", 60)
	v.SetDefault("retention.session_retention_minutes", 60)
	v.SetDefault("retention.purge_grace_minutes", 1)
	v.SetDefault("retention.retention_sweep_minutes", 10)
	v.SetDefault("retention.expiry_sweep_hours", 24)
	v.SetDefault("retention.purge_sweep_minutes", 1)
	v.SetDefault("retrieval.binary_path", "yt-dlp")
	v.SetDefault("retrieval.audio_codec", "mp3")
	v.SetDefault("retrieval.audio_bitrate", "192")
	v.SetDefault("retrieval.primary.client_profile", "web")
	v.SetDefault("retrieval.primary.retries", 3)
	v.SetDefault("retrieval.primary.socket_timeout_seconds", 30)
	v.SetDefault("retrieval.primary.quality_ceiling", 1080)
	v.SetDefault("retrieval.fallback.client_profile", "android")
	v.SetDefault("retrieval.fallback.retries", 5)
	v.SetDefault("retrieval.fallback.socket_timeout_seconds", 30)
	v.SetDefault("retrieval.fallback.quality_ceiling", 720)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("worker.job_timeout_minutes", 30)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Storage.DownloadDir == "" {
		return fmt.Errorf("storage.download_dir is required")
	}
	if c.Storage.MaxFileSizeMB <= 0 {
		return fmt.Errorf("storage.max_file_size_mb must be > 0")
	}
	if c.Limits.DownloadsPerHour <= 0 || c.Limits.DownloadsPerDay <= 0 {
		return fmt.Errorf("limits.downloads_per_hour and limits.downloads_per_day must be > 0")
	}
	if c.Limits.DownloadsPerHour > c.Limits.DownloadsPerDay {
		return fmt.Errorf("limits.downloads_per_hour must not exceed limits.downloads_per_day")
	}
	if c.Retention.FileRetentionHours <= 0 {
		return fmt.Errorf("retention.file_retention_hours must be > 0")
	}
	if c.Retention.CompletedRetentionMins <= 0 {
		return fmt.Errorf("retention.completed_retention_minutes must be > 0")
	}
	if c.Retrieval.Primary.Retries <= 0 || c.Retrieval.Fallback.Retries <= 0 {
		return fmt.Errorf("retrieval strategy retries must be > 0")
	}
	if c.Retrieval.Fallback.QualityCeiling > c.Retrieval.Primary.QualityCeiling {
		return fmt.Errorf("retrieval.fallback.quality_ceiling must not exceed the primary ceiling")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.JobTimeoutMinutes <= 0 {
		return fmt.Errorf("worker.job_timeout_minutes must be > 0")
	}
	return nil
}

// JobTimeout is the per-job wall-clock ceiling.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Worker.JobTimeoutMinutes) * time.Minute
}

// FileRetention is the absolute retention window applied at submission.
func (c Config) FileRetention() time.Duration {
	return time.Duration(c.Retention.FileRetentionHours) * time.Hour
}

// CompletedRetention is the short window after which the frequent sweep
// reclaims completed artifacts, well ahead of the absolute expiry.
func (c Config) CompletedRetention() time.Duration {
	return time.Duration(c.Retention.CompletedRetentionMins) * time.Minute
}

// SessionRetention is the shorter window applied to session-scoped artifacts.
func (c Config) SessionRetention() time.Duration {
	return time.Duration(c.Retention.SessionRetentionMins) * time.Minute
}

// PurgeGrace is how long an expired record lingers before deletion.
func (c Config) PurgeGrace() time.Duration {
	return time.Duration(c.Retention.PurgeGraceMins) * time.Minute
}
