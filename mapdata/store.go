// Package mapdata reads shared map images and metadata from the broker.
//
// The backend seeds maps as hash entries keyed by map id. A missing map
// is a defect of the job that referenced it, not of the worker, so
// lookups report it as a recoverable job failure.
package mapdata

import (
	"context"
	"errors"
	"strconv"

	laps "github.com/laps-group/laps-go"
	"github.com/laps-group/laps-go/broker"
)

// Store reads map data hashes.
type Store struct {
	broker broker.Client
	test   bool
}

// New creates a store bound to the production or test-mode map keys.
func New(b broker.Client, testMode bool) *Store {
	return &Store{broker: b, test: testMode}
}

// Image returns the raw image bytes for a map.
func (s *Store) Image(ctx context.Context, mapID int) ([]byte, error) {
	return s.lookup(ctx, laps.MapImageKey(s.test), mapID)
}

// Meta returns the metadata blob for a map.
func (s *Store) Meta(ctx context.Context, mapID int) ([]byte, error) {
	return s.lookup(ctx, laps.MapMetaKey(s.test), mapID)
}

func (s *Store) lookup(ctx context.Context, key string, mapID int) ([]byte, error) {
	value, err := s.broker.HGet(ctx, key, strconv.Itoa(mapID))
	if err != nil {
		if errors.Is(err, broker.ErrNotFound) {
			return nil, laps.Failf("Map %d is missing!", mapID)
		}
		return nil, err
	}
	return []byte(value), nil
}
