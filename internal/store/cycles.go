package store

import (
	"sync"
	"time"

	"github.com/i474232898/weather-radar/internal/radar"
)

// CycleLog is a concurrency-safe, bounded history of pipeline cycle outcomes.
type CycleLog struct {
	mu sync.RWMutex

	outcomes []radar.CycleOutcome

	// retention configuration
	maxHistory int           // max number of outcomes kept (0 = unlimited)
	maxAge     time.Duration // optional max age of outcomes (0 = unlimited)

	now func() time.Time
}

// NewCycleLog creates a new CycleLog with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewCycleLog(maxHistory int, maxAge time.Duration) *CycleLog {
	return &CycleLog{
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Record appends an outcome and enforces retention.
func (l *CycleLog) Record(outcome radar.CycleOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.outcomes = append(l.outcomes, outcome)

	// Enforce retention by count.
	if l.maxHistory > 0 && len(l.outcomes) > l.maxHistory {
		over := len(l.outcomes) - l.maxHistory
		l.outcomes = append([]radar.CycleOutcome(nil), l.outcomes[over:]...)
	}

	// Enforce retention by age. The newest outcome is always kept.
	if l.maxAge > 0 {
		cutoff := l.now().Add(-l.maxAge)
		i := 0
		for ; i < len(l.outcomes)-1; i++ {
			if !l.outcomes[i].FinishedAt.Before(cutoff) {
				break
			}
		}
		if i > 0 {
			l.outcomes = append([]radar.CycleOutcome(nil), l.outcomes[i:]...)
		}
	}
}

// Recent returns the retained outcomes, newest first.
func (l *CycleLog) Recent() []radar.CycleOutcome {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]radar.CycleOutcome, 0, len(l.outcomes))
	for i := len(l.outcomes) - 1; i >= 0; i-- {
		out = append(out, l.outcomes[i])
	}
	return out
}
