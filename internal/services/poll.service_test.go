package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"importdeck/config"
	"importdeck/internal/events"
	"importdeck/internal/importer"
	"importdeck/internal/models"
	"importdeck/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPollFixture(t *testing.T, handler http.HandlerFunc) (*PollService, *store.JobStore, *events.EventBus) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Config{ImportAPIURL: server.URL, JobWindowLimit: 5}
	bus := events.New()
	t.Cleanup(func() { _ = bus.Close() })

	jobStore := store.New()
	poll := NewPollService(cfg, importer.NewClient(cfg), jobStore, NewCompletionTracker(bus), bus)

	return poll, jobStore, bus
}

func TestPollService_MergesEnvelopeSnapshot(t *testing.T) {
	poll, jobStore, _ := newPollFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jobs":[
			{"id":1,"status":"complete","processed_rows":200,"total_rows":200,"percent":100},
			{"id":2,"status":"running","processed_rows":40,"total_rows":80,"percent":50}
		]}`))
	})

	poll.Refresh(context.Background())

	require.Equal(t, 2, jobStore.Len())

	job, ok := jobStore.Get(2)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, 40, job.ProcessedRows)
}

func TestPollService_MalformedRecordDoesNotPoisonBatch(t *testing.T) {
	poll, jobStore, _ := newPollFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":1,"status":"paused","processed_rows":1,"total_rows":2},
			{"id":2,"status":"running","processed_rows":40,"total_rows":80,"percent":50}
		]`))
	})

	poll.Refresh(context.Background())

	assert.Equal(t, 1, jobStore.Len())

	_, ok := jobStore.Get(1)
	assert.False(t, ok)
}

func TestPollService_FetchFailureLeavesStoreUntouched(t *testing.T) {
	poll, jobStore, _ := newPollFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	require.True(t, jobStore.Upsert(models.ImportJob{
		ID:            7,
		Status:        models.JobStatusRunning,
		ProcessedRows: 10,
		TotalRows:     100,
		Percent:       10,
	}))

	poll.Refresh(context.Background())

	job, ok := jobStore.Get(7)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, 10, job.ProcessedRows)
	assert.Equal(t, 1, jobStore.Len())
}

func TestPollService_StaleSnapshotCannotRegressTerminalState(t *testing.T) {
	// The poll snapshot was taken before the job finished; the push channel
	// already delivered the terminal state.
	poll, jobStore, _ := newPollFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":4,"status":"running","processed_rows":55,"total_rows":100,"percent":55}]`))
	})

	require.True(t, jobStore.Upsert(models.ImportJob{
		ID:            4,
		Status:        models.JobStatusComplete,
		ProcessedRows: 100,
		TotalRows:     100,
		Percent:       100,
	}))

	poll.Refresh(context.Background())

	job, ok := jobStore.Get(4)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusComplete, job.Status)
	assert.Equal(t, float64(100), job.View().DisplayPercent)
}

func TestPollService_PublishesOnlyWhenObservationsApply(t *testing.T) {
	poll, _, bus := newPollFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":6,"status":"complete","processed_rows":50,"total_rows":50,"percent":100}]`))
	})

	var updates atomic.Int32
	require.NoError(t, bus.Subscribe(events.JOBS_UPDATED, func(event events.Event) error {
		// The completion tracker also rides this channel with job_complete.
		if event.Type == events.JOB_UPDATE {
			updates.Add(1)
		}
		return nil
	}))

	poll.Refresh(context.Background())

	require.Eventually(t, func() bool {
		return updates.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The same terminal snapshot again applies nothing, so no event fires.
	poll.Refresh(context.Background())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), updates.Load())
}
