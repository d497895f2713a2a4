package indexer

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestProgressTracker_Batch(t *testing.T) {
	var buf bytes.Buffer
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	tracker := NewProgressTracker(&buf, 100)
	tracker.now = clock.now

	tracker.Start()
	clock.t = clock.t.Add(10 * time.Second)
	tracker.Batch(18, 2)

	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "\n"), "one line per batch")
	assert.Contains(t, line, "batch 1: 20/100 (20.0%)")
	assert.Contains(t, line, "succeeded=18 failed=2")
	assert.Contains(t, line, "elapsed=10s")
	assert.Contains(t, line, "rate=2.0 items/s")
	assert.Contains(t, line, "eta=40s")

	assert.InDelta(t, 2.0, tracker.Throughput(), 1e-9)
	assert.Equal(t, 40*time.Second, tracker.ETA())
	assert.Equal(t, 10*time.Second, tracker.Elapsed())

	clock.t = clock.t.Add(10 * time.Second)
	tracker.Batch(20, 0)
	succeeded, failed := tracker.Counts()
	assert.Equal(t, 38, succeeded)
	assert.Equal(t, 2, failed)
	assert.Contains(t, buf.String(), "batch 2: 40/100 (40.0%)")
}

func TestProgressTracker_NotStarted(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 10)

	tracker.Batch(5, 0)
	assert.Empty(t, buf.String())
	assert.Zero(t, tracker.Elapsed())
}

func TestProgressTracker_NoWork(t *testing.T) {
	tracker := NewProgressTracker(nil, 0)
	tracker.Start()
	assert.Zero(t, tracker.ETA())
	tracker.Batch(0, 0)
}
