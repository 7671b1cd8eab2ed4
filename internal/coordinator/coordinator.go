// Package coordinator keeps the last data produced by the weather updater
// and refreshes it on a fixed interval, notifying listeners after each attempt.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"yandexweather/internal/clock"
	"yandexweather/internal/metrics"

	"go.uber.org/zap"
)

const fetchTimeout = 30 * time.Second

// DeviceInfo describes the device the weather entity belongs to
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
	EntryType    string   `json:"entry_type,omitempty"`
}

// Config configures a Coordinator
type Config struct {
	Name           string
	DeviceID       string
	DeviceInfo     DeviceInfo
	UpdateInterval time.Duration
}

// Coordinator owns the refresh schedule for one updater
type Coordinator struct {
	name       string
	deviceID   string
	deviceInfo DeviceInfo
	interval   time.Duration
	fetcher    Fetcher
	clock      clock.Clock
	logger     *zap.Logger
	metrics    *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	// serializes refreshes
	refreshMu sync.Mutex

	mu          sync.RWMutex
	data        Data
	lastSuccess bool
	lastUpdated time.Time
	lastErr     error

	timerMu sync.Mutex
	timer   clock.Timer
	stopped bool

	listenersMu  sync.Mutex
	listeners    map[int]func()
	nextListener int
}

// New creates a coordinator. Nothing is fetched until FirstRefresh or a scheduled refresh.
func New(cfg Config, fetcher Fetcher, clk clock.Clock, logger *zap.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		name:        cfg.Name,
		deviceID:    cfg.DeviceID,
		deviceInfo:  cfg.DeviceInfo,
		interval:    cfg.UpdateInterval,
		fetcher:     fetcher,
		clock:       clk,
		logger:      logger.Named("coordinator").With(zap.String("name", cfg.Name)),
		metrics:     metrics.Get(),
		ctx:         ctx,
		cancel:      cancel,
		lastSuccess: true,
		listeners:   make(map[int]func()),
	}
}

// Name returns the coordinator name
func (c *Coordinator) Name() string { return c.name }

// DeviceID returns the id of the device the data belongs to
func (c *Coordinator) DeviceID() string { return c.deviceID }

// DeviceInfo returns the device description
func (c *Coordinator) DeviceInfo() DeviceInfo { return c.deviceInfo }

// UpdateInterval returns the refresh interval
func (c *Coordinator) UpdateInterval() time.Duration { return c.interval }

// Data returns a copy of the last successfully fetched data
func (c *Coordinator) Data() Data {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.data == nil {
		return nil
	}
	out := make(Data, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// LastUpdateSuccess reports whether the most recent refresh succeeded
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess
}

// LastUpdated returns when data was last fetched successfully
func (c *Coordinator) LastUpdated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdated
}

// LastError returns the error of the most recent refresh, if any
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// AddListener registers f to run after every refresh attempt
func (c *Coordinator) AddListener(f func()) (remove func()) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	id := c.nextListener
	c.nextListener++
	c.listeners[id] = f

	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		delete(c.listeners, id)
	}
}

// FirstRefresh refreshes immediately and returns the fetch error, so setup can fail
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	if err := c.refresh(ctx); err != nil {
		return fmt.Errorf("first refresh of %s failed: %w", c.name, err)
	}
	return nil
}

// RequestRefresh refreshes immediately; failures are only logged
func (c *Coordinator) RequestRefresh(ctx context.Context) {
	if err := c.refresh(ctx); err != nil {
		c.logger.Warn("Refresh failed", zap.Error(err))
	}
}

// ScheduleRefresh replaces any pending refresh with one offset from now
func (c *Coordinator) ScheduleRefresh(offset time.Duration) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.stopped {
		return
	}
	if offset < 0 {
		offset = 0
	}

	c.logger.Debug("Scheduling refresh", zap.Duration("offset", offset))
	c.timer = c.clock.AfterFunc(offset, func() {
		c.RequestRefresh(c.ctx)
	})
}

// Stop cancels the pending refresh and any fetch in flight
func (c *Coordinator) Stop() {
	c.timerMu.Lock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerMu.Unlock()

	c.cancel()
}

func (c *Coordinator) refresh(ctx context.Context) error {
	c.refreshMu.Lock()

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	start := time.Now()
	data, err := c.fetcher.Fetch(fetchCtx)
	cancel()
	c.metrics.RefreshDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())

	c.mu.Lock()
	if err != nil {
		if c.lastSuccess {
			c.logger.Error("Error fetching weather data", zap.Error(err))
		}
		c.lastSuccess = false
		c.lastErr = err
	} else {
		if !c.lastSuccess {
			c.logger.Info("Fetching weather data recovered")
		}
		c.data = data
		c.lastSuccess = true
		c.lastErr = nil
		c.lastUpdated = c.clock.Now()
	}
	c.mu.Unlock()

	result := "success"
	if err != nil {
		result = "error"
	}
	c.metrics.Refreshes.WithLabelValues(c.name, result).Inc()

	c.ScheduleRefresh(c.interval)
	c.refreshMu.Unlock()

	c.notifyListeners()
	return err
}

func (c *Coordinator) notifyListeners() {
	c.listenersMu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]func(), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, c.listeners[id])
	}
	c.listenersMu.Unlock()

	for _, f := range listeners {
		f()
	}
}
