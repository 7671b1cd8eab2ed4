package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"yandexweather/internal/daylight"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	WeatherConfigFile = "weather_config.yaml"

	DefaultImageSource    = "Yandex"
	DefaultUpdateInterval = 30 * time.Minute
	MinUpdateInterval     = time.Minute
)

// WeatherEntry is one configured weather entity
type WeatherEntry struct {
	Name        string `yaml:"name" json:"name"`
	UniqueID    string `yaml:"unique_id" json:"unique_id"`
	ImageSource string `yaml:"image_source" json:"image_source"`
	RedisKey    string `yaml:"redis_key" json:"redis_key"`
	DeviceID    string `yaml:"device_id" json:"device_id,omitempty"`

	// Optional; used for day/night icons when the updater omits daytime
	Latitude  *float64 `yaml:"latitude" json:"latitude,omitempty"`
	Longitude *float64 `yaml:"longitude" json:"longitude,omitempty"`

	// Raw value, e.g. "30m"; parsed into UpdateInterval
	Interval       string        `yaml:"update_interval" json:"-"`
	UpdateInterval time.Duration `yaml:"-" json:"update_interval"`
}

// WeatherConfig represents the weather_config.yaml structure
type WeatherConfig struct {
	Weather []WeatherEntry `yaml:"weather"`
}

// Loader manages configuration file loading
type Loader struct {
	configDir string
	logger    *zap.Logger

	mu            sync.RWMutex
	weatherConfig *WeatherConfig
}

// NewLoader creates a new configuration loader
func NewLoader(configDir string, logger *zap.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger.Named("config"),
	}
}

// LoadAll loads all configuration files
func (l *Loader) LoadAll() error {
	l.logger.Info("Loading configuration files", zap.String("dir", l.configDir))

	if err := l.LoadWeatherConfig(); err != nil {
		return fmt.Errorf("failed to load weather config: %w", err)
	}

	l.logger.Info("All configuration files loaded successfully")
	return nil
}

// LoadWeatherConfig loads the weather_config.yaml file
func (l *Loader) LoadWeatherConfig() error {
	path := filepath.Join(l.configDir, WeatherConfigFile)
	l.logger.Debug("Loading weather config", zap.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read weather config: %w", err)
	}

	var config WeatherConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse weather config: %w", err)
	}

	if err := config.normalize(); err != nil {
		return fmt.Errorf("invalid weather config: %w", err)
	}

	l.mu.Lock()
	l.weatherConfig = &config
	l.mu.Unlock()

	l.logger.Info("Weather config loaded successfully",
		zap.Int("entries", len(config.Weather)))
	return nil
}

// Location returns the entry's coordinates, or nil when none are set
func (e WeatherEntry) Location() *daylight.Location {
	if e.Latitude == nil || e.Longitude == nil {
		return nil
	}
	return &daylight.Location{Latitude: *e.Latitude, Longitude: *e.Longitude}
}

// GetWeatherConfig returns the loaded weather configuration
func (l *Loader) GetWeatherConfig() *WeatherConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.weatherConfig
}

// normalize fills defaults and validates every entry
func (c *WeatherConfig) normalize() error {
	if len(c.Weather) == 0 {
		return errors.New("no weather entries configured")
	}

	var errs []error
	names := make(map[string]bool)
	uniqueIDs := make(map[string]bool)

	for i := range c.Weather {
		e := &c.Weather[i]
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("entry %d: name is required", i))
			continue
		}

		key := strings.ToLower(e.Name)
		if names[key] {
			errs = append(errs, fmt.Errorf("entry %d: duplicate name %q", i, e.Name))
		}
		names[key] = true

		if e.UniqueID == "" {
			e.UniqueID = key
		}
		if uniqueIDs[e.UniqueID] {
			errs = append(errs, fmt.Errorf("entry %d: duplicate unique_id %q", i, e.UniqueID))
		}
		uniqueIDs[e.UniqueID] = true

		if (e.Latitude == nil) != (e.Longitude == nil) {
			errs = append(errs, fmt.Errorf("entry %q: latitude and longitude must be set together", e.Name))
		} else if e.Latitude != nil && (*e.Latitude < -90 || *e.Latitude > 90 || *e.Longitude < -180 || *e.Longitude > 180) {
			errs = append(errs, fmt.Errorf("entry %q: coordinates out of range", e.Name))
		}

		if e.ImageSource == "" {
			e.ImageSource = DefaultImageSource
		}
		if e.RedisKey == "" {
			e.RedisKey = "yandex_weather:" + e.UniqueID
		}

		e.UpdateInterval = DefaultUpdateInterval
		if e.Interval != "" {
			d, err := time.ParseDuration(e.Interval)
			if err != nil {
				errs = append(errs, fmt.Errorf("entry %q: invalid update_interval: %w", e.Name, err))
				continue
			}
			if d < MinUpdateInterval {
				errs = append(errs, fmt.Errorf("entry %q: update_interval %s is below %s", e.Name, d, MinUpdateInterval))
				continue
			}
			e.UpdateInterval = d
		}
	}

	return errors.Join(errs...)
}
