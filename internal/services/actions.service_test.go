package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"importdeck/config"
	"importdeck/internal/events"
	"importdeck/internal/importer"
	"importdeck/internal/models"
	"importdeck/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// importServerStub plays the remote import server for action tests. The jobs
// body is swappable so a test can change what the next poll observes.
type importServerStub struct {
	mu       sync.Mutex
	jobsBody string

	uploads atomic.Int32
	deletes atomic.Int32
	retries atomic.Int32

	deleteStatus int
	retryStatus  int
}

func (s *importServerStub) setJobs(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobsBody = body
}

func (s *importServerStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/import-jobs":
			s.mu.Lock()
			body := s.jobsBody
			s.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))

		case r.Method == http.MethodPost && r.URL.Path == "/upload-csv":
			s.uploads.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"job_id":7}`))

		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/retry"):
			s.retries.Add(1)
			status := s.retryStatus
			if status == 0 {
				status = http.StatusOK
			}
			w.WriteHeader(status)

		case r.Method == http.MethodDelete:
			s.deletes.Add(1)
			status := s.deleteStatus
			if status == 0 {
				status = http.StatusOK
			}
			w.WriteHeader(status)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newActionsFixture(t *testing.T, stub *importServerStub) (*ActionsService, *store.JobStore) {
	t.Helper()

	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)

	cfg := config.Config{
		ImportAPIURL: server.URL,
		// No push endpoint in these tests; tracking degrades silently.
		ImportWSURL:    "ws://127.0.0.1:1",
		JobWindowLimit: 5,
	}

	bus := events.New()
	t.Cleanup(func() { _ = bus.Close() })

	jobStore := store.New()
	client := importer.NewClient(cfg)
	completions := NewCompletionTracker(bus)
	poll := NewPollService(cfg, client, jobStore, completions, bus)
	progress := NewProgressService(cfg, jobStore, completions, bus)

	actions := NewActionsService(client, jobStore, poll, progress, bus)
	t.Cleanup(actions.Close)

	return actions, jobStore
}

func TestActionsService_UploadRefreshesImmediately(t *testing.T) {
	stub := &importServerStub{
		jobsBody: `[{"id":7,"status":"queued","processed_rows":0,"total_rows":0,"percent":0,"original_filename":"orders.csv"}]`,
	}
	actions, jobStore := newActionsFixture(t, stub)

	jobID, err := actions.Upload(context.Background(), "orders.csv", strings.NewReader("sku,qty\nA,1\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), jobID)

	// The job is visible right away, not after the next poll tick.
	job, ok := jobStore.Get(7)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, "orders.csv", job.OriginalFilename)
	assert.Equal(t, float64(0), job.View().DisplayPercent)
}

func TestActionsService_UploadFailureLeavesNothingBehind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"malformed CSV header"}`))
	}))
	t.Cleanup(server.Close)

	cfg := config.Config{ImportAPIURL: server.URL, ImportWSURL: "ws://127.0.0.1:1", JobWindowLimit: 5}
	bus := events.New()
	t.Cleanup(func() { _ = bus.Close() })

	jobStore := store.New()
	client := importer.NewClient(cfg)
	completions := NewCompletionTracker(bus)
	poll := NewPollService(cfg, client, jobStore, completions, bus)
	progress := NewProgressService(cfg, jobStore, completions, bus)
	actions := NewActionsService(client, jobStore, poll, progress, bus)
	t.Cleanup(actions.Close)

	_, err := actions.Upload(context.Background(), "orders.csv", strings.NewReader("bad"))
	require.Error(t, err)
	assert.Equal(t, 0, jobStore.Len())
}

func TestActionsService_RetryUnsticksFailedJob(t *testing.T) {
	stub := &importServerStub{
		jobsBody: `[{"id":3,"status":"running","processed_rows":0,"total_rows":80,"percent":0}]`,
	}
	actions, jobStore := newActionsFixture(t, stub)

	require.True(t, jobStore.Upsert(models.ImportJob{
		ID:           3,
		Status:       models.JobStatusFailed,
		TotalRows:    80,
		ErrorMessage: "row 12: missing column",
	}))

	require.NoError(t, actions.Retry(context.Background(), 3))

	// The failed state was sticky; only the retry opens a new observation
	// window, so the running observation from the refresh applies.
	job, ok := jobStore.Get(3)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, int32(1), stub.retries.Load())
}

func TestActionsService_RetryRejectedKeepsFailedState(t *testing.T) {
	stub := &importServerStub{
		jobsBody:    `[]`,
		retryStatus: http.StatusConflict,
	}
	actions, jobStore := newActionsFixture(t, stub)

	require.True(t, jobStore.Upsert(models.ImportJob{
		ID:     3,
		Status: models.JobStatusFailed,
	}))

	require.Error(t, actions.Retry(context.Background(), 3))

	job, ok := jobStore.Get(3)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusFailed, job.Status)
}

func TestActionsService_DeleteQueuedNeedsNoConfirmation(t *testing.T) {
	stub := &importServerStub{jobsBody: `[]`}
	actions, jobStore := newActionsFixture(t, stub)

	require.True(t, jobStore.Upsert(models.ImportJob{
		ID:     5,
		Status: models.JobStatusQueued,
	}))

	require.NoError(t, actions.Delete(context.Background(), 5, false))

	_, ok := jobStore.Get(5)
	assert.False(t, ok)
	assert.Equal(t, int32(1), stub.deletes.Load())
}

func TestActionsService_DeleteRunningRequiresConfirmation(t *testing.T) {
	stub := &importServerStub{jobsBody: `[]`}
	actions, jobStore := newActionsFixture(t, stub)

	require.True(t, jobStore.Upsert(models.ImportJob{
		ID:            6,
		Status:        models.JobStatusRunning,
		ProcessedRows: 10,
		TotalRows:     100,
	}))

	err := actions.Delete(context.Background(), 6, false)
	require.ErrorIs(t, err, ErrConfirmationRequired)

	// Declined confirmation touches nothing, server included.
	job, ok := jobStore.Get(6)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, int32(0), stub.deletes.Load())
}

func TestActionsService_DeleteIsOptimisticWithoutRollback(t *testing.T) {
	stub := &importServerStub{
		jobsBody:     `[]`,
		deleteStatus: http.StatusInternalServerError,
	}
	actions, jobStore := newActionsFixture(t, stub)

	require.True(t, jobStore.Upsert(models.ImportJob{
		ID:            6,
		Status:        models.JobStatusRunning,
		ProcessedRows: 10,
		TotalRows:     100,
	}))

	require.NoError(t, actions.Delete(context.Background(), 6, true))

	// The record stays removed even though the server delete failed; the next
	// poll tick re-adds it if the server still has the job.
	_, ok := jobStore.Get(6)
	assert.False(t, ok)
	assert.Equal(t, int32(1), stub.deletes.Load())
}

func TestActionsService_DeletedJobReappearsOnNextPollIfServerKeptIt(t *testing.T) {
	stub := &importServerStub{
		jobsBody:     `[{"id":6,"status":"running","processed_rows":20,"total_rows":100,"percent":20}]`,
		deleteStatus: http.StatusInternalServerError,
	}

	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)

	cfg := config.Config{ImportAPIURL: server.URL, ImportWSURL: "ws://127.0.0.1:1", JobWindowLimit: 5}
	bus := events.New()
	t.Cleanup(func() { _ = bus.Close() })

	jobStore := store.New()
	client := importer.NewClient(cfg)
	completions := NewCompletionTracker(bus)
	poll := NewPollService(cfg, client, jobStore, completions, bus)
	progress := NewProgressService(cfg, jobStore, completions, bus)
	actions := NewActionsService(client, jobStore, poll, progress, bus)
	t.Cleanup(actions.Close)

	require.True(t, jobStore.Upsert(models.ImportJob{
		ID:            6,
		Status:        models.JobStatusRunning,
		ProcessedRows: 10,
		TotalRows:     100,
	}))

	require.NoError(t, actions.Delete(context.Background(), 6, true))
	_, ok := jobStore.Get(6)
	require.False(t, ok)

	// Self-healing: the server still reports the job, so the next poll tick
	// re-observes it with the fresher counts.
	poll.Refresh(context.Background())

	job, ok := jobStore.Get(6)
	require.True(t, ok)
	assert.Equal(t, 20, job.ProcessedRows)
}
