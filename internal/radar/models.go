package radar

import (
	"time"

	"github.com/twpayne/go-geom/encoding/geojson"
)

// Snapshot is the cached result of the most recent successful cycle.
// It is replaced wholesale and never mutated after it has been stored,
// so Payload must be treated as read-only by every holder.
type Snapshot struct {
	Payload *geojson.FeatureCollection

	// IngestedAt is the wall-clock time the snapshot was placed in the cache.
	IngestedAt time.Time

	// SourceTimestamp is when the upstream data was generated. It equals
	// IngestedAt when the source time is unknown.
	SourceTimestamp time.Time
}

// Download is a resolved remote file held in memory for a single cycle.
type Download struct {
	URL  string
	Data []byte // decompressed bytes handed to the converter

	RawBytes   int  // size on the wire
	Compressed bool // false when the raw bytes were used as-is

	SourceTimestamp time.Time
	Attempts        int
}

// OutcomeKind classifies a cycle result for logs and the status endpoint.
type OutcomeKind string

const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeResolution       OutcomeKind = "resolution_failed"
	OutcomeFetchExhausted   OutcomeKind = "fetch_exhausted"
	OutcomeConverterTimeout OutcomeKind = "converter_timeout"
	OutcomeConverterKilled  OutcomeKind = "converter_killed"
	OutcomeConverterFailed  OutcomeKind = "converter_failed"
	OutcomeEmptyResult      OutcomeKind = "empty_result"
	OutcomeCanceled         OutcomeKind = "canceled"
	OutcomeUnknown          OutcomeKind = "unknown_error"
)

// CycleOutcome describes one fetch -> convert -> cache iteration.
// Err is nil exactly when Kind is OutcomeSuccess.
type CycleOutcome struct {
	ID         string      `json:"id"`
	Kind       OutcomeKind `json:"kind"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`

	Attempts          int `json:"attempts"`
	RawBytes          int `json:"rawBytes"`
	DecompressedBytes int `json:"decompressedBytes"`
	Features          int `json:"features"`

	Err error `json:"-"`
}

// Succeeded reports whether the cycle stored a new snapshot.
func (o CycleOutcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}

// Duration returns how long the cycle ran.
func (o CycleOutcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Status is the operator view of pipeline freshness.
type Status struct {
	Ready       bool           `json:"ready"`
	LastUpdated *time.Time     `json:"lastUpdated"`
	AgeSeconds  *float64       `json:"ageSeconds"`
	Stale       bool           `json:"stale"`
	Cycles      []CycleOutcome `json:"cycles"`
}
