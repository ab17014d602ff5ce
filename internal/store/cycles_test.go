package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-radar/internal/radar"
)

func outcomeAt(id string, finished time.Time) radar.CycleOutcome {
	return radar.CycleOutcome{ID: id, Kind: radar.OutcomeSuccess, StartedAt: finished.Add(-time.Second), FinishedAt: finished}
}

func TestCycleLogNewestFirst(t *testing.T) {
	l := NewCycleLog(0, 0)
	now := time.Now()

	l.Record(outcomeAt("a", now))
	l.Record(outcomeAt("b", now))
	l.Record(outcomeAt("c", now))

	got := l.Recent()
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[2].ID)
}

func TestCycleLogRetentionByCount(t *testing.T) {
	l := NewCycleLog(2, 0)
	now := time.Now()

	for _, id := range []string{"a", "b", "c", "d"} {
		l.Record(outcomeAt(id, now))
	}

	got := l.Recent()
	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestCycleLogRetentionByAge(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewCycleLog(0, time.Hour)
	l.now = func() time.Time { return now }

	l.Record(outcomeAt("old", now.Add(-3*time.Hour)))
	l.Record(outcomeAt("older-but-recent", now.Add(-30*time.Minute)))
	l.Record(outcomeAt("new", now))

	got := l.Recent()
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "older-but-recent", got[1].ID)
}

func TestCycleLogKeepsNewestEvenIfOld(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewCycleLog(0, time.Minute)
	l.now = func() time.Time { return now }

	l.Record(outcomeAt("stale", now.Add(-time.Hour)))

	got := l.Recent()
	require.Len(t, got, 1)
	assert.Equal(t, "stale", got[0].ID)
}
