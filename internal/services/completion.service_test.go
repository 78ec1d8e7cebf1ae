package services

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"importdeck/internal/events"
	"importdeck/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeJob(id int64) models.ImportJob {
	return models.ImportJob{
		ID:            id,
		Status:        models.JobStatusComplete,
		ProcessedRows: 100,
		TotalRows:     100,
		Percent:       100,
	}
}

func TestCompletionTracker_FiresOncePerJob(t *testing.T) {
	bus := events.New()
	defer func() { _ = bus.Close() }()

	var fired atomic.Int32
	require.NoError(t, bus.Subscribe(events.STATS_INVALIDATE, func(event events.Event) error {
		fired.Add(1)
		return nil
	}))

	tracker := NewCompletionTracker(bus)

	// Push observes the completion first, then every later poll tick
	// re-observes the same record.
	tracker.Scan([]models.ImportJob{completeJob(9)})
	for i := 0; i < 5; i++ {
		tracker.Scan([]models.ImportJob{completeJob(9)})
	}

	assert.True(t, tracker.HasSeen(9))

	require.Eventually(t, func() bool {
		return fired.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// Give any duplicate a chance to surface before counting.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestCompletionTracker_FailedJobsNeverFire(t *testing.T) {
	bus := events.New()
	defer func() { _ = bus.Close() }()

	var fired atomic.Int32
	require.NoError(t, bus.Subscribe(events.STATS_INVALIDATE, func(event events.Event) error {
		fired.Add(1)
		return nil
	}))

	tracker := NewCompletionTracker(bus)

	tracker.Scan([]models.ImportJob{{
		ID:           3,
		Status:       models.JobStatusFailed,
		ErrorMessage: "row 17: bad date",
	}})

	time.Sleep(100 * time.Millisecond)
	assert.False(t, tracker.HasSeen(3))
	assert.Equal(t, int32(0), fired.Load())
}

func TestCompletionTracker_DistinctJobsFireIndependently(t *testing.T) {
	bus := events.New()
	defer func() { _ = bus.Close() }()

	var fired atomic.Int32
	require.NoError(t, bus.Subscribe(events.STATS_INVALIDATE, func(event events.Event) error {
		fired.Add(1)
		return nil
	}))

	tracker := NewCompletionTracker(bus)

	tracker.Scan([]models.ImportJob{completeJob(1), completeJob(2)})
	tracker.Scan([]models.ImportJob{completeJob(1), completeJob(2), completeJob(3)})

	require.Eventually(t, func() bool {
		return fired.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(3), fired.Load())
}

func TestCompletionTracker_ConcurrentScansStayExactlyOnce(t *testing.T) {
	bus := events.New()
	defer func() { _ = bus.Close() }()

	var fired atomic.Int32
	require.NoError(t, bus.Subscribe(events.STATS_INVALIDATE, func(event events.Event) error {
		fired.Add(1)
		return nil
	}))

	tracker := NewCompletionTracker(bus)

	// Poll and push can both observe the same completion at the same moment.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Scan([]models.ImportJob{completeJob(42)})
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return fired.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}
