package services

import (
	"context"

	"importdeck/config"
	"importdeck/internal/events"
	"importdeck/internal/importer"
	"importdeck/internal/store"
	"importdeck/pkg/logger"
)

// PollService is the durable, eventually-consistent source of truth: a
// periodic snapshot fetch of recent jobs merged into the store. It sees every
// job, including ones created by other sessions and ones whose push channel
// never connected.
type PollService struct {
	log         logger.Logger
	client      *importer.Client
	store       *store.JobStore
	completions *CompletionTracker
	eventBus    *events.EventBus
	limit       int
}

func NewPollService(
	cfg config.Config,
	client *importer.Client,
	jobStore *store.JobStore,
	completions *CompletionTracker,
	eventBus *events.EventBus,
) *PollService {
	return &PollService{
		log:         logger.New("pollService"),
		client:      client,
		store:       jobStore,
		completions: completions,
		eventBus:    eventBus,
		limit:       cfg.JobWindowLimit,
	}
}

// Refresh fetches the recent-jobs snapshot and merges it. Fetch failures are
// transient by design: nothing is mutated, nothing is surfaced, and the next
// tick self-heals. Overlapping refreshes are safe without sequencing because
// the upsert is idempotent and terminal states cannot regress.
func (p *PollService) Refresh(ctx context.Context) {
	log := p.log.Function("Refresh")

	jobs, err := p.client.ListJobs(ctx, p.limit)
	if err != nil {
		log.Warn("Poll fetch failed, waiting for next tick", "error", err)
		return
	}

	applied := 0
	for _, job := range jobs {
		if p.store.Upsert(job) {
			applied++
		}
	}

	p.completions.Scan(p.store.List(0))

	if applied > 0 {
		if err := p.eventBus.Publish(events.JOBS_UPDATED, events.Event{
			Type: events.JOB_UPDATE,
			Data: map[string]any{
				"source":  "poll",
				"applied": applied,
			},
		}); err != nil {
			log.Warn("Failed to publish jobs updated event", "error", err)
		}
	}

	log.Debug("Poll refresh merged", "fetched", len(jobs), "applied", applied)
}
