// Package integration provides integration tests for the weather service.
// This file re-exports types from pkg/testutil.
package integration

import (
	"yandexweather/pkg/testutil"
)

type MockHAServer = testutil.MockHAServer
type FiredEvent = testutil.FiredEvent
type StateWrite = testutil.StateWrite

// NewTestEnv creates a mock HA server with connected clients
var NewTestEnv = testutil.NewTestEnv

// Helper function aliases
var FilterFiredEvents = testutil.FilterFiredEvents
var FindFiredEventWithData = testutil.FindFiredEventWithData
var FilterStateWrites = testutil.FilterStateWrites
