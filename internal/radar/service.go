package radar

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Service runs the freshness pipeline: fetch, convert, normalize and cache.
type Service struct {
	fetcher   Fetcher
	converter Converter
	cache     Cache
	cycles    CycleRecorder
	log       *zap.Logger

	convertTimeout time.Duration
	staleAfter     time.Duration

	flight singleflight.Group
	now    func() time.Time
}

// Options holds the tunables of a Service.
type Options struct {
	// ConvertTimeout bounds a single converter call. Zero disables the bound,
	// in which case the converter is expected to enforce its own.
	ConvertTimeout time.Duration

	// StaleAfter is the snapshot age past which Status reports stale data.
	// Zero never reports staleness.
	StaleAfter time.Duration
}

// NewService creates a new Service. cycles and log may be nil.
func NewService(fetcher Fetcher, converter Converter, cache Cache, cycles CycleRecorder, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		fetcher:        fetcher,
		converter:      converter,
		cache:          cache,
		cycles:         cycles,
		log:            log.Named("pipeline"),
		convertTimeout: opts.ConvertTimeout,
		staleAfter:     opts.StaleAfter,
		now:            time.Now,
	}
}

// RunCycle performs one fetch -> convert -> cache sequence. Calls made while
// a cycle is in flight wait for it and share its outcome instead of starting
// a second sequence. A failed cycle never touches the cached snapshot.
func (s *Service) RunCycle(ctx context.Context) CycleOutcome {
	v, _, _ := s.flight.Do("cycle", func() (interface{}, error) {
		return s.runCycle(ctx), nil
	})
	return v.(CycleOutcome)
}

func (s *Service) runCycle(ctx context.Context) CycleOutcome {
	outcome := CycleOutcome{
		ID:        uuid.NewString(),
		StartedAt: s.now().UTC(),
	}
	log := s.log.With(zap.String("cycle", outcome.ID))
	log.Info("fetching latest radar data")

	err := s.execute(ctx, &outcome)

	outcome.FinishedAt = s.now().UTC()
	outcome.Err = err
	outcome.Kind = Classify(err)

	if s.cycles != nil {
		s.cycles.Record(outcome)
	}

	fields := []zap.Field{
		zap.String("kind", string(outcome.Kind)),
		zap.Duration("duration", outcome.Duration()),
		zap.Int("attempts", outcome.Attempts),
		zap.Int("raw_bytes", outcome.RawBytes),
		zap.Int("decompressed_bytes", outcome.DecompressedBytes),
	}
	if err != nil {
		// The previous snapshot, if any, stays in place.
		log.Error("radar update failed; keeping last good snapshot", append(fields, zap.Error(err))...)
		return outcome
	}

	log.Info("radar data updated", append(fields, zap.Int("features", outcome.Features))...)
	return outcome
}

func (s *Service) execute(ctx context.Context, outcome *CycleOutcome) error {
	dl, err := s.fetcher.FetchLatest(ctx)
	outcome.Attempts = dl.Attempts
	if err != nil {
		return err
	}
	outcome.RawBytes = dl.RawBytes
	outcome.DecompressedBytes = len(dl.Data)

	s.log.Debug("downloaded radar file",
		zap.String("url", dl.URL),
		zap.Bool("compressed", dl.Compressed),
		zap.Time("source_timestamp", dl.SourceTimestamp),
	)

	convCtx := ctx
	if s.convertTimeout > 0 {
		var cancel context.CancelFunc
		convCtx, cancel = context.WithTimeout(ctx, s.convertTimeout)
		defer cancel()
	}

	fc, err := s.converter.Convert(convCtx, dl.Data)
	// Drop the buffer before the cache write; it can be tens of megabytes.
	dl.Data = nil
	if err != nil {
		return fmt.Errorf("convert %s: %w", dl.URL, err)
	}
	if fc == nil || len(fc.Features) == 0 {
		return fmt.Errorf("convert %s: %w", dl.URL, ErrEmptyResult)
	}

	normalized := NormalizeFeatures(fc)
	if len(normalized.Features) == 0 {
		return fmt.Errorf("normalize %d features from %s: %w", len(fc.Features), dl.URL, ErrEmptyResult)
	}
	outcome.Features = len(normalized.Features)

	s.cache.Set(normalized, dl.SourceTimestamp)
	return nil
}

// Latest delegates to the underlying cache.
func (s *Service) Latest() (Snapshot, error) {
	return s.cache.Latest()
}

// Status reports snapshot age and the recent cycle history.
func (s *Service) Status() Status {
	st := Status{Cycles: []CycleOutcome{}}
	if s.cycles != nil {
		st.Cycles = s.cycles.Recent()
	}

	snap, err := s.cache.Latest()
	if err != nil {
		return st
	}

	now := s.now()
	updated := snap.IngestedAt
	elapsed := now.Sub(updated)
	age := elapsed.Seconds()
	st.Ready = true
	st.LastUpdated = &updated
	st.AgeSeconds = &age
	st.Stale = s.staleAfter > 0 && elapsed > s.staleAfter
	return st
}
