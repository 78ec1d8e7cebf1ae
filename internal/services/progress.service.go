package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"importdeck/config"
	"importdeck/internal/events"
	"importdeck/internal/models"
	"importdeck/internal/store"
	"importdeck/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	dialTimeout = 10 * time.Second
)

// ProgressService attaches the low-latency push channel for a single job,
// normally the one this session just created by uploading. Everything it
// learns goes through the same store upsert as the poll, so the two transports
// can disagree on ordering without corrupting the merged view.
type ProgressService struct {
	log         logger.Logger
	wsBaseURL   string
	store       *store.JobStore
	completions *CompletionTracker
	eventBus    *events.EventBus
	dialer      *websocket.Dialer
}

func NewProgressService(
	cfg config.Config,
	jobStore *store.JobStore,
	completions *CompletionTracker,
	eventBus *events.EventBus,
) *ProgressService {
	return &ProgressService{
		log:         logger.New("progressService"),
		wsBaseURL:   strings.TrimRight(cfg.ImportWSURL, "/"),
		store:       jobStore,
		completions: completions,
		eventBus:    eventBus,
		dialer: &websocket.Dialer{
			HandshakeTimeout: dialTimeout,
		},
	}
}

// Track opens the per-job streaming channel and applies each progress message
// until a terminal status arrives, the context is cancelled, or the transport
// fails. It blocks; callers run it in a goroutine. Transport errors never fail
// the job: tracking degrades and the poll eventually observes the same
// terminal state.
func (p *ProgressService) Track(ctx context.Context, jobID int64) {
	log := p.log.Function("Track").With("jobID", jobID)

	url := fmt.Sprintf("%s/ws/import-progress/%d", p.wsBaseURL, jobID)

	conn, resp, err := p.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		p.degrade(jobID, err)
		return
	}
	defer func() { _ = conn.Close() }()

	log.Info("Push channel opened", "url", url)

	// Unblock the read loop when the observing view tears down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var message models.ProgressMessage
		if err := conn.ReadJSON(&message); err != nil {
			if ctx.Err() != nil {
				log.Info("Push channel closed on teardown")
				return
			}
			p.degrade(jobID, err)
			return
		}

		p.apply(jobID, message)

		if message.Status.IsTerminal() {
			// No further messages are expected once the terminal status has
			// been processed.
			log.Info("Terminal status received, closing push channel", "status", message.Status)
			return
		}
	}
}

func (p *ProgressService) apply(jobID int64, message models.ProgressMessage) {
	log := p.log.Function("apply")

	if !p.store.Upsert(message.ToJob(jobID)) {
		return
	}

	p.completions.Scan(p.store.List(0))

	if err := p.eventBus.Publish(events.JOBS_UPDATED, events.Event{
		Type: events.JOB_UPDATE,
		Data: map[string]any{
			"source": "push",
			"jobId":  jobID,
		},
	}); err != nil {
		log.Warn("Failed to publish jobs updated event", "jobID", jobID, "error", err)
	}
}

// degrade reports a broken push channel upward. The job itself is untouched;
// the poll reconciler supersedes the stale view within one interval.
func (p *ProgressService) degrade(jobID int64, cause error) {
	log := p.log.Function("degrade")
	log.Warn("Push channel degraded, falling back to poll", "jobID", jobID, "error", cause)

	if err := p.eventBus.Publish(events.JOBS_TRACKING, events.Event{
		Type: events.TRACKING_DEGRADED,
		Data: map[string]any{
			"jobId":  jobID,
			"reason": cause.Error(),
		},
	}); err != nil {
		log.Warn("Failed to publish tracking degraded event", "jobID", jobID, "error", err)
	}
}
