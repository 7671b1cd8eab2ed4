package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Restore backends
const (
	RestoreBolt   = "bolt"
	RestoreHA     = "ha"
	RestoreMemory = "memory"
)

// Settings are the process settings read from the environment
type Settings struct {
	HAURL          string `mapstructure:"HA_URL"`
	HAToken        string `mapstructure:"HA_TOKEN"`
	HARestURL      string `mapstructure:"HA_REST_URL"`
	ReadOnly       bool   `mapstructure:"READ_ONLY"`
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int    `mapstructure:"REDIS_DB"`
	APIPort        int    `mapstructure:"API_PORT"`
	ConfigDir      string `mapstructure:"CONFIG_DIR"`
	RestoreBackend string `mapstructure:"RESTORE_BACKEND"`
	RestorePath    string `mapstructure:"RESTORE_PATH"`
	UnitSystem     string `mapstructure:"UNIT_SYSTEM"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
}

var settingKeys = []string{
	"HA_URL", "HA_TOKEN", "HA_REST_URL", "READ_ONLY",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"API_PORT", "CONFIG_DIR",
	"RESTORE_BACKEND", "RESTORE_PATH",
	"UNIT_SYSTEM", "LOG_LEVEL",
}

// LoadSettings reads envFiles (missing files are fine) and then the
// environment. Variables already set in the environment win over the files.
func LoadSettings(logger *zap.Logger, envFiles ...string) (*Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			logger.Warn("No .env file found, using environment variables", zap.String("file", f))
		}
	}

	v := viper.New()
	v.SetDefault("READ_ONLY", false)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("API_PORT", 8080)
	v.SetDefault("CONFIG_DIR", "./configs")
	v.SetDefault("RESTORE_BACKEND", RestoreBolt)
	v.SetDefault("RESTORE_PATH", "./data/restore.db")
	v.SetDefault("UNIT_SYSTEM", "metric")
	v.SetDefault("LOG_LEVEL", "info")

	v.AutomaticEnv()
	for _, key := range settingKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("settings unmarshal failed: %w", err)
	}
	s.RestoreBackend = strings.ToLower(s.RestoreBackend)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("settings validation failed: %w", err)
	}
	return &s, nil
}

// Validate checks the settings every deployment needs
func (s *Settings) Validate() error {
	var errs []error
	if s.HAURL == "" || s.HAToken == "" {
		errs = append(errs, errors.New("HA_URL and HA_TOKEN environment variables must be set"))
	}
	switch s.RestoreBackend {
	case RestoreBolt:
		if s.RestorePath == "" {
			errs = append(errs, errors.New("RESTORE_PATH must be set for the bolt restore backend"))
		}
	case RestoreHA, RestoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown RESTORE_BACKEND %q", s.RestoreBackend))
	}
	if s.APIPort < 0 || s.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid API_PORT %d", s.APIPort))
	}
	return errors.Join(errs...)
}
