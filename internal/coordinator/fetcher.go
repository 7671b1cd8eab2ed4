package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrNoData is returned when the updater has not stored anything yet
var ErrNoData = errors.New("no weather data")

// Data is the parsed weather payload produced by the updater
type Data map[string]interface{}

// Fetcher returns the updater's most recent data
type Fetcher interface {
	Fetch(ctx context.Context) (Data, error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context) (Data, error)

func (f FetcherFunc) Fetch(ctx context.Context) (Data, error) {
	return f(ctx)
}

// RedisFetcher reads the JSON object the updater keeps under a Redis key
type RedisFetcher struct {
	client redis.Cmdable
	key    string
}

// NewRedisFetcher creates a fetcher for key
func NewRedisFetcher(client redis.Cmdable, key string) *RedisFetcher {
	return &RedisFetcher{client: client, key: key}
}

// Key returns the Redis key being read
func (f *RedisFetcher) Key() string {
	return f.key
}

func (f *RedisFetcher) Fetch(ctx context.Context) (Data, error) {
	raw, err := f.client.Get(ctx, f.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w at key %s", ErrNoData, f.key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.key, err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", f.key, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w at key %s", ErrNoData, f.key)
	}

	return data, nil
}
