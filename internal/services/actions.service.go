package services

import (
	"context"
	"errors"
	"io"

	"importdeck/internal/events"
	"importdeck/internal/importer"
	"importdeck/internal/models"
	"importdeck/internal/store"
	"importdeck/pkg/logger"
)

// ErrConfirmationRequired signals that deleting a running job needs an
// explicit user confirmation, because deletion implies server-side
// cancellation.
var ErrConfirmationRequired = errors.New("deleting a running job requires confirmation")

// ActionsService issues the imperative commands (upload, retry, delete) and
// folds their results back into the store.
type ActionsService struct {
	log         logger.Logger
	client      *importer.Client
	store       *store.JobStore
	poll        *PollService
	progress    *ProgressService
	eventBus    *events.EventBus
	trackCtx    context.Context
	trackCancel context.CancelFunc
}

func NewActionsService(
	client *importer.Client,
	jobStore *store.JobStore,
	poll *PollService,
	progress *ProgressService,
	eventBus *events.EventBus,
) *ActionsService {
	ctx, cancel := context.WithCancel(context.Background())

	return &ActionsService{
		log:         logger.New("actionsService"),
		client:      client,
		store:       jobStore,
		poll:        poll,
		progress:    progress,
		eventBus:    eventBus,
		trackCtx:    ctx,
		trackCancel: cancel,
	}
}

// Upload submits a file and starts tracking the job it created: an immediate
// poll refresh makes the job visible without waiting for the next tick, and a
// push channel gives low-latency progress for this session. A failed upload
// returns an error for a dismissible notice; nothing blocks the next attempt.
func (a *ActionsService) Upload(ctx context.Context, filename string, file io.Reader) (int64, error) {
	log := a.log.Function("Upload")

	jobID, err := a.client.UploadCSV(ctx, filename, file)
	if err != nil {
		return 0, log.Err("upload failed", err, "filename", filename)
	}

	a.poll.Refresh(ctx)

	go a.progress.Track(a.trackCtx, jobID)

	log.Info("Upload submitted and tracking started", "filename", filename, "jobID", jobID)
	return jobID, nil
}

// Retry restarts a failed job. The terminal stickiness is cleared first so the
// next observation reporting the restarted state is accepted; the client never
// mutates status locally, it waits for the server to report the new state.
func (a *ActionsService) Retry(ctx context.Context, id int64) error {
	log := a.log.Function("Retry")

	// Un-stick before the command: the server may restart the job and the poll
	// may observe it before the retry response returns.
	a.store.Unstick(id)

	if err := a.client.RetryJob(ctx, id); err != nil {
		return log.Err("retry rejected by server", err, "jobID", id)
	}

	a.poll.Refresh(ctx)

	log.Info("Retry issued", "jobID", id)
	return nil
}

// NeedsConfirmation reports whether deleting this job requires an explicit
// confirmation (true only while the job is running).
func (a *ActionsService) NeedsConfirmation(id int64) bool {
	job, ok := a.store.Get(id)
	return ok && job.Status == models.JobStatusRunning
}

// Delete removes a job. Running jobs require confirmed=true; a declined
// confirmation leaves the store unmodified. The removal is optimistic: the
// record disappears immediately and a failed server delete is never rolled
// back — the next poll tick re-adds the record if the server still has it.
func (a *ActionsService) Delete(ctx context.Context, id int64, confirmed bool) error {
	log := a.log.Function("Delete")

	if a.NeedsConfirmation(id) && !confirmed {
		return ErrConfirmationRequired
	}

	a.store.Remove(id)

	if err := a.eventBus.Publish(events.JOBS_UPDATED, events.Event{
		Type: events.JOB_UPDATE,
		Data: map[string]any{
			"source": "delete",
			"jobId":  id,
		},
	}); err != nil {
		log.Warn("Failed to publish jobs updated event", "jobID", id, "error", err)
	}

	if err := a.client.DeleteJob(ctx, id); err != nil {
		// Accepted inconsistency window: the record stays removed locally and
		// the next poll re-adds it if the server still has the job.
		log.Warn("Server delete failed, store not rolled back", "jobID", id, "error", err)
		return nil
	}

	a.poll.Refresh(ctx)

	log.Info("Job deleted", "jobID", id)
	return nil
}

// Close stops every push channel this service started.
func (a *ActionsService) Close() {
	a.trackCancel()
}
