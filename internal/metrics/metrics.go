// Package metrics holds the Prometheus collectors shared by the weather entities.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors; all are labelled by entity id
type Metrics struct {
	Refreshes       *prometheus.CounterVec
	RefreshDuration *prometheus.HistogramVec
	ConditionEvents *prometheus.CounterVec
	Restores        *prometheus.CounterVec
	StateWrites     *prometheus.CounterVec
	Available       *prometheus.GaugeVec
}

// Singleton so tests constructing many coordinators never register twice
var (
	instance        *Metrics
	once            sync.Once
	DefaultRegistry prometheus.Registerer = prometheus.DefaultRegisterer
)

// Get returns the process-wide metrics, registering them on first use
func Get() *Metrics {
	once.Do(func() {
		factory := promauto.With(DefaultRegistry)
		instance = &Metrics{
			Refreshes: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "yandex_weather_refresh_total",
				Help: "Coordinator refresh attempts by result",
			}, []string{"coordinator", "result"}),
			RefreshDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "yandex_weather_refresh_duration_seconds",
				Help:    "Time spent reading coordinator data",
				Buckets: prometheus.DefBuckets,
			}, []string{"coordinator"}),
			ConditionEvents: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "yandex_weather_condition_events_total",
				Help: "Condition change events fired on the Home Assistant bus",
			}, []string{"entity_id", "condition"}),
			Restores: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "yandex_weather_restore_total",
				Help: "State restoration outcomes at startup",
			}, []string{"entity_id", "outcome"}),
			StateWrites: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "yandex_weather_state_writes_total",
				Help: "Entity state writes to Home Assistant by result",
			}, []string{"entity_id", "result"}),
			Available: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: "yandex_weather_available",
				Help: "1 when the weather entity is available",
			}, []string{"entity_id"}),
		}
	})
	return instance
}
