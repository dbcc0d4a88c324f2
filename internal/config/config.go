// Package config loads SpendGuard configuration from defaults, an optional
// YAML file, a .env file and SPENDGUARD_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/opensource-finance/spendguard/internal/domain"
)

// EnvPrefix prefixes every environment override.
// Nested keys are separated by a double underscore, e.g.
// SPENDGUARD_MODEL__ARTIFACT_DIR sets model.artifact_dir.
const EnvPrefix = "SPENDGUARD_"

// DefaultFile is read when no explicit path is given and it exists.
const DefaultFile = "spendguard.yaml"

// Load builds the configuration. An explicit path must exist; the default
// file and .env are optional.
func Load(path string) (*domain.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	defaults := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv(EnvPrefix+"TIER"), string(domain.TierPro)) {
		defaults = domain.ProConfig()
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg domain.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate rejects settings the services cannot start with.
func Validate(cfg *domain.Config) error {
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		return fmt.Errorf("unknown tier: %q", cfg.Tier)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Model.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Model.Timezone); err != nil {
			return fmt.Errorf("invalid model timezone %q: %w", cfg.Model.Timezone, err)
		}
	}
	t := cfg.Training
	if t.NumTrees <= 0 || t.SampleSize < 2 {
		return fmt.Errorf("%w: num_trees=%d sample_size=%d", domain.ErrInsufficientSample, t.NumTrees, t.SampleSize)
	}
	if t.Contamination < 0 || t.Contamination > 0.5 {
		return fmt.Errorf("%w: contamination %v outside [0, 0.5]", domain.ErrInsufficientSample, t.Contamination)
	}
	return nil
}

// Location resolves the configured model timezone, falling back to UTC.
func Location(cfg *domain.Config) *time.Location {
	if cfg.Model.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(cfg.Model.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NewLogger builds the process logger from logging settings.
func NewLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
