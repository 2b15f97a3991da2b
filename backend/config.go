package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/chhayvoinvy/promptexify-sub001/cleanup"
	"github.com/chhayvoinvy/promptexify-sub001/records"
)

type RateLimitConfig struct {
	Enabled         bool `mapstructure:"Enabled"`
	Requests        int  `mapstructure:"Requests"`
	DurationMinutes int  `mapstructure:"DurationMinutes"`
}

type CleanupConfig struct {
	Enabled          bool   `mapstructure:"Enabled"`
	Schedule         string `mapstructure:"Schedule"`
	RetentionHours   int    `mapstructure:"RetentionHours"`
	BatchSize        int    `mapstructure:"BatchSize"`
	BatchDelayMillis int    `mapstructure:"BatchDelayMillis"`
}

type ResolveConfig struct {
	MaxPaths int `mapstructure:"MaxPaths"`
}

type LogConfig struct {
	Level string `mapstructure:"Level"`
}

type Config struct {
	ServerPort         string           `mapstructure:"ServerPort"`
	MaxUploadSizeMB    int64            `mapstructure:"MaxUploadSizeMB"`
	CORSAllowedOrigins string           `mapstructure:"CORSAllowedOrigins"`
	RateLimit          RateLimitConfig  `mapstructure:"RateLimit"`
	Database           records.DBConfig `mapstructure:"Database"`
	Cleanup            CleanupConfig    `mapstructure:"Cleanup"`
	Resolve            ResolveConfig    `mapstructure:"Resolve"`
	Log                LogConfig        `mapstructure:"Log"`
	ClamdSocket        string           `mapstructure:"ClamdSocket"`
	FFmpegPath         string           `mapstructure:"FFmpegPath"`
	FFprobePath        string           `mapstructure:"FFprobePath"`
}

var AppConfig *Config

// LoadConfig reads an optional JSON config file, then MEDIASTORE_* environment
// variables (a .env file is loaded first when present). A missing file is not
// an error. Storage settings are not part of this file: they live in the
// database and fall back to MEDIASTORE_STORAGE_* variables.
func LoadConfig(path string) error {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, reading from environment")
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetDefault("ServerPort", "8080")
	v.SetDefault("MaxUploadSizeMB", 64)
	v.SetDefault("CORSAllowedOrigins", "")
	v.SetDefault("RateLimit.Enabled", true)
	v.SetDefault("RateLimit.Requests", 120)
	v.SetDefault("RateLimit.DurationMinutes", 1)
	v.SetDefault("Database.Type", "sqlite")
	v.SetDefault("Database.DSN", "data/mediastore.db")
	v.SetDefault("Cleanup.Enabled", true)
	v.SetDefault("Cleanup.Schedule", "@every 1h")
	v.SetDefault("Cleanup.RetentionHours", int(cleanup.DefaultRetention/time.Hour))
	v.SetDefault("Cleanup.BatchSize", cleanup.DefaultBatchSize)
	v.SetDefault("Cleanup.BatchDelayMillis", int(cleanup.DefaultBatchDelay/time.Millisecond))
	v.SetDefault("Resolve.MaxPaths", 100)
	v.SetDefault("Log.Level", "info")
	v.SetDefault("ClamdSocket", "")
	v.SetDefault("FFmpegPath", "ffmpeg")
	v.SetDefault("FFprobePath", "ffprobe")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		slog.Info("config file not found, using environment and defaults", "path", path)
	}

	v.SetEnvPrefix("MEDIASTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return err
	}
	AppConfig = cfg

	slog.Info("configuration loaded",
		slog.String("serverPort", cfg.ServerPort),
		slog.String("dbType", cfg.Database.Type),
		slog.Bool("rateLimit", cfg.RateLimit.Enabled),
		slog.String("cleanupSchedule", cfg.Cleanup.Schedule),
	)
	return nil
}

func (c *Config) GetRateLimitDuration() time.Duration {
	return time.Duration(c.RateLimit.DurationMinutes) * time.Minute
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.Cleanup.RetentionHours) * time.Hour
}

func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.Cleanup.BatchDelayMillis) * time.Millisecond
}
