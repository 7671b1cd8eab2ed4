package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"yandexweather/internal/clock"
	"yandexweather/internal/config"
	"yandexweather/internal/ha"
	"yandexweather/internal/platform"
	"yandexweather/internal/restore"
	"yandexweather/internal/units"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const homeJSON = `{"condition":"rainy","temperature":12.5,"pressure":1002,"wind_speed":6,"humidity":88,"wind_bearing":225,"image":"ovc_ra","obs_time":"2024-10-01T06:00:00+00:00","forecast":[{"datetime":"2024-10-01T12:00:00+00:00","condition":"cloudy","temperature":14}]}`

func newTestServer(t *testing.T) (*Server, redismock.ClientMock) {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	db, mock := redismock.NewClientMock()
	mock.ExpectGet("yandex_weather:home").SetVal(homeJSON)

	client := ha.NewMockClient()
	manager := platform.NewManager(platform.Options{
		Entries: []config.WeatherEntry{{
			Name:           "Home",
			UniqueID:       "home",
			ImageSource:    config.DefaultImageSource,
			RedisKey:       "yandex_weather:home",
			DeviceID:       "device-home",
			UpdateInterval: 30 * time.Minute,
		}},
		Redis:  db,
		Bus:    client,
		Writer: client,
		Store:  restore.NewMemoryStore(),
		Clock:  clock.NewMockClock(time.Date(2024, 10, 1, 6, 10, 0, 0, time.UTC)),
		Units:  units.Metric,
	}, logger)
	require.NoError(t, manager.Start(context.Background()))
	t.Cleanup(manager.Stop)

	return NewServer(manager, logger, 0), mock
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleListWeather(t *testing.T) {
	s, _ := newTestServer(t)

	w := serve(s, http.MethodGet, "/api/weather")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response []WeatherResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Len(t, response, 1)

	home := response[0]
	assert.Equal(t, "weather.home", home.EntityID)
	assert.Equal(t, "device-home", home.DeviceID)
	assert.Equal(t, "rainy", home.State)
	assert.True(t, home.Available)
	assert.True(t, home.LastUpdateSuccess)
	assert.Equal(t, "30m0s", home.UpdateInterval)
	assert.Equal(t, 12.5, home.Attributes["temperature"])
	assert.Equal(t, "km/h", home.Attributes["wind_speed_unit"])
	assert.InDelta(t, 21.6, home.Attributes["wind_speed"], 1e-9)
}

func TestHandleGetWeather(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{"/api/weather/weather.home", "/api/weather/home"} {
		w := serve(s, http.MethodGet, path)
		require.Equal(t, http.StatusOK, w.Code, path)

		var response WeatherResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "weather.home", response.EntityID)
	}

	w := serve(s, http.MethodGet, "/api/weather/attic")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "weather.attic")
}

func TestHandleGetForecast(t *testing.T) {
	s, _ := newTestServer(t)

	w := serve(s, http.MethodGet, "/api/weather/home/forecast")
	require.Equal(t, http.StatusOK, w.Code)

	var response ForecastResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Len(t, response.Forecast, 2)
	assert.Equal(t, "2024-10-01T06:00:00+00:00", response.Forecast[0].Datetime)
	assert.Equal(t, "rainy", response.Forecast[0].Condition)
	assert.Equal(t, "cloudy", response.Forecast[1].Condition)
}

func TestHandleRefresh(t *testing.T) {
	s, mock := newTestServer(t)

	mock.ExpectGet("yandex_weather:home").SetVal(strings.Replace(homeJSON, `"rainy"`, `"snowy"`, 1))
	w := serve(s, http.MethodPost, "/api/weather/home/refresh")
	require.Equal(t, http.StatusOK, w.Code)

	var response WeatherResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "snowy", response.State)

	mock.ExpectGet("yandex_weather:home").SetErr(errors.New("redis down"))
	w = serve(s, http.MethodPost, "/api/weather/home/refresh")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "redis down")

	w = serve(s, http.MethodGet, "/api/weather/home/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleShadow(t *testing.T) {
	s, _ := newTestServer(t)

	w := serve(s, http.MethodGet, "/api/shadow")
	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Contains(t, response, "weather.home")
	assert.NotNil(t, response["weather.home"]["outputs"])
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)

	w := serve(s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandleMetrics(t *testing.T) {
	s, _ := newTestServer(t)

	w := serve(s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "yandex_weather_refresh_total")
	assert.Contains(t, w.Body.String(), `yandex_weather_available{entity_id="weather.home"} 1`)
}

func TestHandleSitemap(t *testing.T) {
	s, _ := newTestServer(t)

	w := serve(s, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/weather/{entity}/forecast")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<h1>Yandex.Weather API</h1>")
}
