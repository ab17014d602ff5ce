package radar

import (
	"context"
	"time"

	"github.com/twpayne/go-geom/encoding/geojson"
)

// Fetcher downloads and decompresses the newest upstream file.
type Fetcher interface {
	FetchLatest(ctx context.Context) (Download, error)
}

// Converter turns decompressed radar bytes into point features.
// Implementations must respect ctx and release any temporary storage before
// returning.
type Converter interface {
	Convert(ctx context.Context, data []byte) (*geojson.FeatureCollection, error)
}

// Cache is the contract the freshness store must satisfy.
type Cache interface {
	Set(payload *geojson.FeatureCollection, sourceTimestamp time.Time) Snapshot
	Latest() (Snapshot, error)
	Clear()
}

// CycleRecorder keeps a bounded history of cycle outcomes.
type CycleRecorder interface {
	Record(outcome CycleOutcome)
	Recent() []CycleOutcome
}
