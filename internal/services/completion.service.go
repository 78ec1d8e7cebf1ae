package services

import (
	"sync"

	"importdeck/internal/events"
	"importdeck/internal/models"
	"importdeck/pkg/logger"
)

// CompletionTracker is the exactly-once gate for completion side effects. Both
// transports can observe the same completion, and the poll re-observes it on
// every later tick; the seen set grows monotonically for the session so the
// stats invalidation fires once per job id no matter the interleaving. A
// deleted-and-recreated job gets a fresh id, so ids never collide with the set.
type CompletionTracker struct {
	log      logger.Logger
	eventBus *events.EventBus

	mu   sync.Mutex
	seen map[int64]struct{}
}

func NewCompletionTracker(eventBus *events.EventBus) *CompletionTracker {
	return &CompletionTracker{
		log:      logger.New("completionTracker"),
		eventBus: eventBus,
		seen:     make(map[int64]struct{}),
	}
}

// Scan inspects a batch of current records and fires the stats invalidation
// for every completion not seen before. Called after every store mutation
// batch, from either transport.
func (ct *CompletionTracker) Scan(jobs []models.ImportJob) {
	log := ct.log.Function("Scan")

	for _, job := range jobs {
		if job.Status != models.JobStatusComplete {
			continue
		}

		ct.mu.Lock()
		if _, already := ct.seen[job.ID]; already {
			ct.mu.Unlock()
			continue
		}
		ct.seen[job.ID] = struct{}{}
		ct.mu.Unlock()

		log.Info("First observed completion", "jobID", job.ID)

		// Fire-and-forget: a failed invalidation is not retried and never
		// touches job state.
		if err := ct.eventBus.PublishStatsInvalidation(job.ID); err != nil {
			log.Warn("Failed to publish stats invalidation", "jobID", job.ID, "error", err)
		}

		if err := ct.eventBus.Publish(events.JOBS_UPDATED, events.Event{
			Type: events.JOB_COMPLETE,
			Data: map[string]any{
				"jobId": job.ID,
			},
		}); err != nil {
			log.Warn("Failed to publish job complete event", "jobID", job.ID, "error", err)
		}
	}
}

// HasSeen reports whether the completion side effect already fired for a job.
func (ct *CompletionTracker) HasSeen(id int64) bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	_, ok := ct.seen[id]
	return ok
}
