// Package testutil provides testing utilities for the weather service.
// This file provides a TestEnv wiring the real transport to the mock server.
package testutil

import (
	"context"
	"fmt"

	"yandexweather/internal/clock"
	"yandexweather/internal/config"
	"yandexweather/internal/ha"
	"yandexweather/internal/platform"
	"yandexweather/internal/restore"
	"yandexweather/internal/units"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TestEnv provides a complete test environment: a mock Home Assistant, a
// connected WebSocket client, a REST state writer and a mocked Redis
type TestEnv struct {
	Server *MockHAServer
	Client *ha.Client
	Writer *ha.RESTClient
	Redis  *redis.Client
	Mock   redismock.ClientMock
	Logger *zap.Logger

	platforms []*platform.Manager
}

// NewTestEnv creates a fully configured test environment.
//
// Example usage:
//
//	env, err := testutil.NewTestEnv("test_token")
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
func NewTestEnv(token string) (*TestEnv, error) {
	logger, _ := zap.NewDevelopment()

	server := NewMockHAServer(token)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start mock server: %w", err)
	}

	client := ha.NewClient(server.WebSocketURL(), token, logger)
	if err := client.Connect(); err != nil {
		server.Stop()
		return nil, fmt.Errorf("failed to connect client: %w", err)
	}

	db, mock := redismock.NewClientMock()

	return &TestEnv{
		Server: server,
		Client: client,
		Writer: ha.NewRESTClient(server.RESTURL(), token, logger),
		Redis:  db,
		Mock:   mock,
		Logger: logger,
	}, nil
}

// StartPlatform sets up the entries against the mock server. Entities use a
// real clock, so scheduled refreshes never fire during a test.
func (e *TestEnv) StartPlatform(entries []config.WeatherEntry, store restore.Store, system units.UnitSystem) (*platform.Manager, error) {
	manager := platform.NewManager(platform.Options{
		Entries: entries,
		Redis:   e.Redis,
		Bus:     e.Client,
		Writer:  e.Writer,
		Store:   store,
		Clock:   clock.NewRealClock(),
		Units:   system,
	}, e.Logger)
	e.platforms = append(e.platforms, manager)

	return manager, manager.Start(context.Background())
}

// Cleanup stops all components in the correct order.
// Always call this in a defer after creating the TestEnv.
func (e *TestEnv) Cleanup() {
	for _, p := range e.platforms {
		p.Stop()
	}
	if e.Client != nil {
		e.Client.Disconnect()
	}
	if e.Redis != nil {
		e.Redis.Close()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
}
