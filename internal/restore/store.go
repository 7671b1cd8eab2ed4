// Package restore keeps the last state written for each entity so it can be
// reconstructed after a restart.
package restore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"yandexweather/internal/ha"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var statesBucket = []byte("states")

// Store persists entity states. LastState returns (nil, nil) when nothing is stored.
type Store interface {
	LastState(ctx context.Context, entityID string) (*ha.State, error)
	Save(ctx context.Context, state *ha.State) error
	Close() error
}

// BoltStore keeps states in a bbolt file, one JSON document per entity id
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// OpenBoltStore opens or creates the store at path
func OpenBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0644, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open restore store at %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(statesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create states bucket: %w", err)
	}

	return &BoltStore{db: db, logger: logger.Named("restore")}, nil
}

func (s *BoltStore) LastState(ctx context.Context, entityID string) (*ha.State, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(statesBucket)
		if bkt == nil {
			return bbolt.ErrBucketNotFound
		}
		if v := bkt.Get([]byte(entityID)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read state of %s: %w", entityID, err)
	}
	if raw == nil {
		return nil, nil
	}

	var state ha.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode stored state of %s: %w", entityID, err)
	}
	return &state, nil
}

func (s *BoltStore) Save(ctx context.Context, state *ha.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state of %s: %w", state.EntityID, err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(statesBucket).Put([]byte(state.EntityID), raw)
	})
	if err != nil {
		return fmt.Errorf("failed to store state of %s: %w", state.EntityID, err)
	}

	s.logger.Debug("State stored", zap.String("entity_id", state.EntityID))
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// HAStore reads the last state back from Home Assistant itself. Home Assistant
// already holds whatever was written, so Save does nothing.
type HAStore struct {
	client ha.HAClient
}

// NewHAStore creates a store backed by client
func NewHAStore(client ha.HAClient) *HAStore {
	return &HAStore{client: client}
}

func (s *HAStore) LastState(ctx context.Context, entityID string) (*ha.State, error) {
	state, err := s.client.GetState(entityID)
	if errors.Is(err, ha.ErrEntityNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state of %s from Home Assistant: %w", entityID, err)
	}
	return state, nil
}

func (s *HAStore) Save(ctx context.Context, state *ha.State) error {
	return nil
}

func (s *HAStore) Close() error {
	return nil
}

// MemoryStore is an in-process Store, used in tests and when persistence is disabled
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]ha.State
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]ha.State)}
}

func (s *MemoryStore) LastState(ctx context.Context, entityID string) (*ha.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[entityID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *MemoryStore) Save(ctx context.Context, state *ha.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.EntityID] = *state
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
