package events

import (
	"context"
	"sync"
	"time"

	"importdeck/pkg/logger"

	"github.com/google/uuid"
)

type Channel string

func (c Channel) String() string {
	return string(c)
}

const (
	// JOBS_UPDATED fires after a merged observation batch changed the store.
	JOBS_UPDATED Channel = "jobs.updated"

	// JOBS_TRACKING carries push-channel health transitions (degraded tracking).
	JOBS_TRACKING Channel = "jobs.tracking"

	// STATS_INVALIDATE fires exactly once per first-observed job completion.
	STATS_INVALIDATE Channel = "stats.invalidate"
)

type EventType string

const (
	JOB_UPDATE        EventType = "job_update"
	JOB_COMPLETE      EventType = "job_complete"
	TRACKING_DEGRADED EventType = "tracking_degraded"
	STATS_STALE       EventType = "stats_stale"
)

type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Channel   Channel        `json:"channel"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

type EventHandler func(event Event) error

// EventBus fans events out to in-process subscribers. Each dashboard session
// owns its own store and completion-seen set, so there is no cross-instance
// traffic to carry; handlers run asynchronously and a failing handler never
// blocks the publisher.
type EventBus struct {
	logger   logger.Logger
	handlers map[Channel][]EventHandler
	mutex    sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
}

func New() *EventBus {
	ctx, cancel := context.WithCancel(context.Background())

	return &EventBus{
		logger:   logger.New("EventBus"),
		handlers: make(map[Channel][]EventHandler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (eb *EventBus) Publish(channel Channel, event Event) error {
	log := eb.logger.Function("Publish")

	if eb.ctx.Err() != nil {
		return log.Err("event bus is closed", eb.ctx.Err(), "channel", channel)
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if event.Channel == "" {
		event.Channel = channel
	}

	log.Debug("Event published", "channel", channel, "eventID", event.ID, "eventType", event.Type)

	eb.notifyLocalHandlers(channel, event)

	return nil
}

func (eb *EventBus) Subscribe(channel Channel, handler EventHandler) error {
	log := eb.logger.Function("Subscribe")

	eb.mutex.Lock()
	eb.handlers[channel] = append(eb.handlers[channel], handler)
	eb.mutex.Unlock()

	log.Info("Handler subscribed to channel", "channel", channel)

	return nil
}

func (eb *EventBus) notifyLocalHandlers(channel Channel, event Event) {
	log := eb.logger.Function("notifyLocalHandlers")

	eb.mutex.RLock()
	handlers, exists := eb.handlers[channel]
	eb.mutex.RUnlock()

	if !exists || len(handlers) == 0 {
		return
	}

	for i, handler := range handlers {
		go func(h EventHandler, handlerIndex int) {
			if err := h(event); err != nil {
				log.Er(
					"handler failed",
					err,
					"channel", channel,
					"eventID", event.ID,
					"handlerIndex", handlerIndex,
				)
			}
		}(handler, i)
	}
}

func (eb *EventBus) Close() error {
	log := eb.logger.Function("Close")

	eb.cancel()

	log.Info("EventBus closed")
	return nil
}

// PublishStatsInvalidation marks the aggregate stats snapshot stale because a
// job completion was observed for the first time.
func (eb *EventBus) PublishStatsInvalidation(jobID int64) error {
	return eb.Publish(STATS_INVALIDATE, Event{
		Type: STATS_STALE,
		Data: map[string]any{
			"jobId": jobID,
		},
	})
}
