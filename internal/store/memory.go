package store

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/i474232898/weather-radar/internal/radar"
)

var (
	// ErrNotFound is returned when no snapshot has been stored yet.
	ErrNotFound = errors.New("no radar data available")
)

// MemoryStore is a concurrency-safe holder of at most one radar snapshot.
// Writers replace the whole snapshot with a single pointer swap, so readers
// never observe a partially written value.
type MemoryStore struct {
	current atomic.Pointer[radar.Snapshot]

	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Set replaces the current snapshot. A zero sourceTimestamp means the source
// time is unknown and the ingestion time is used instead.
func (s *MemoryStore) Set(payload *geojson.FeatureCollection, sourceTimestamp time.Time) radar.Snapshot {
	now := s.now().UTC()
	if sourceTimestamp.IsZero() {
		sourceTimestamp = now
	}

	snap := &radar.Snapshot{
		Payload:         payload,
		IngestedAt:      now,
		SourceTimestamp: sourceTimestamp.UTC(),
	}
	s.current.Store(snap)
	return *snap
}

// Latest returns the current snapshot, or ErrNotFound if none was ever set.
func (s *MemoryStore) Latest() (radar.Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return radar.Snapshot{}, ErrNotFound
	}
	return *snap, nil
}

// Clear resets the store to the never-set state.
func (s *MemoryStore) Clear() {
	s.current.Store(nil)
}
