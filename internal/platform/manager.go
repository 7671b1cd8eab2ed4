// Package platform sets up one weather entity per configured entry and owns
// their lifecycle.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"yandexweather/internal/clock"
	"yandexweather/internal/config"
	"yandexweather/internal/coordinator"
	"yandexweather/internal/ha"
	"yandexweather/internal/restore"
	"yandexweather/internal/shadowstate"
	"yandexweather/internal/units"
	"yandexweather/internal/weather"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrUnknownEntity is returned for entity ids the manager does not own
var ErrUnknownEntity = errors.New("unknown weather entity")

// Options configures a Manager
type Options struct {
	Entries  []config.WeatherEntry
	Redis    redis.Cmdable
	Bus      weather.EventBus
	Writer   ha.StateWriter
	Store    restore.Store
	Clock    clock.Clock
	Units    units.UnitSystem
	ReadOnly bool
	Tracker  *shadowstate.Tracker
}

// Entry is a configured entry after setup
type Entry struct {
	Config      config.WeatherEntry
	Coordinator *coordinator.Coordinator
	Entity      *weather.Entity
}

// Manager handles the weather entries
type Manager struct {
	opts   Options
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
	started bool
}

// NewManager creates a new platform manager
func NewManager(opts Options, logger *zap.Logger) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	if opts.Tracker == nil {
		opts.Tracker = shadowstate.NewTracker()
	}
	return &Manager{
		opts:    opts,
		logger:  logger.Named("platform"),
		entries: make(map[string]*Entry),
	}
}

// DeviceID returns the configured device id, or one derived from the unique id
func DeviceID(entry config.WeatherEntry) string {
	if entry.DeviceID != "" {
		return entry.DeviceID
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(weather.Domain+":"+entry.UniqueID)).String()
}

// Start sets up every entry. An entry whose first refresh fails stays
// registered; its coordinator keeps retrying on schedule.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("platform already started")
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info("Starting weather platform", zap.Int("entries", len(m.opts.Entries)))

	var errs []error
	for _, cfg := range m.opts.Entries {
		if err := m.setupEntry(ctx, cfg); err != nil {
			errs = append(errs, err)
		}
	}

	m.logger.Info("Weather platform started", zap.Int("entities", len(m.EntityIDs())))
	return errors.Join(errs...)
}

func (m *Manager) setupEntry(ctx context.Context, cfg config.WeatherEntry) error {
	deviceID := DeviceID(cfg)

	coord := coordinator.New(coordinator.Config{
		Name:     cfg.Name,
		DeviceID: deviceID,
		DeviceInfo: coordinator.DeviceInfo{
			Identifiers:  []string{weather.Domain, cfg.UniqueID},
			Name:         cfg.Name,
			Manufacturer: "Yandex",
			Model:        "Weather",
			EntryType:    "service",
		},
		UpdateInterval: cfg.UpdateInterval,
	}, coordinator.NewRedisFetcher(m.opts.Redis, cfg.RedisKey), m.opts.Clock, m.logger)

	entityID := "weather." + weather.Slugify(cfg.Name)
	shadow := shadowstate.NewWeatherTracker(entityID)
	shadow.SetNow(m.opts.Clock.Now)

	entity := weather.NewEntity(weather.Options{
		Name:        cfg.Name,
		UniqueID:    cfg.UniqueID,
		ImageSource: cfg.ImageSource,
		Units:       m.opts.Units,
		ReadOnly:    m.opts.ReadOnly,
		Location:    cfg.Location(),
	}, weather.Deps{
		Updater: coord,
		Bus:     m.opts.Bus,
		Writer:  m.opts.Writer,
		Store:   m.opts.Store,
		Clock:   m.opts.Clock,
		Logger:  m.logger,
		Shadow:  shadow,
	})

	m.mu.Lock()
	if _, exists := m.entries[entity.EntityID()]; exists {
		m.mu.Unlock()
		coord.Stop()
		return fmt.Errorf("entry %q: entity %s already exists", cfg.Name, entity.EntityID())
	}
	m.entries[entity.EntityID()] = &Entry{Config: cfg, Coordinator: coord, Entity: entity}
	m.mu.Unlock()

	m.opts.Tracker.RegisterEntityProvider(entity.EntityID(), func() shadowstate.EntityShadowState {
		return shadow.GetState()
	})

	if err := entity.AddedToHA(ctx); err != nil {
		m.logger.Warn("Weather entry not ready, will retry on schedule",
			zap.String("entity_id", entity.EntityID()),
			zap.Duration("update_interval", cfg.UpdateInterval),
			zap.Error(err))
	} else {
		m.logger.Info("Weather entity set up",
			zap.String("entity_id", entity.EntityID()),
			zap.String("redis_key", cfg.RedisKey))
	}
	return nil
}

// Stop detaches every entity and cancels pending refreshes
func (m *Manager) Stop() {
	m.logger.Info("Stopping weather platform")

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		e.Entity.RemovedFromHA()
		e.Coordinator.Stop()
	}
	m.started = false

	m.logger.Info("Weather platform stopped")
}

// EntityIDs returns the ids of all set up entities, sorted
func (m *Manager) EntityIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Entry looks up a set up entry by entity id
func (m *Manager) Entry(entityID string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[entityID]
	return e, ok
}

// Refresh asks the entry's coordinator for fresh data now
func (m *Manager) Refresh(ctx context.Context, entityID string) error {
	e, ok := m.Entry(entityID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	e.Coordinator.RequestRefresh(ctx)
	return e.Coordinator.LastError()
}

// Tracker returns the shadow state tracker the entities are registered with
func (m *Manager) Tracker() *shadowstate.Tracker {
	return m.opts.Tracker
}
