package services

import (
	"context"
	"sync"
	"time"

	"importdeck/internal/events"
	"importdeck/internal/importer"
	"importdeck/internal/models"
	"importdeck/pkg/logger"
)

const statsRefreshTimeout = 10 * time.Second

// StatsService caches the server-computed aggregate counters. The snapshot is
// refreshed once at startup and on stats invalidation events only; job state
// never drives a fixed refresh schedule.
type StatsService struct {
	log    logger.Logger
	client *importer.Client

	mu       sync.RWMutex
	snapshot models.Stats
	fetched  bool
}

func NewStatsService(client *importer.Client, eventBus *events.EventBus) *StatsService {
	log := logger.New("statsService")

	service := &StatsService{
		log:    log,
		client: client,
	}

	if err := eventBus.Subscribe(events.STATS_INVALIDATE, service.handleInvalidation); err != nil {
		log.Er("Failed to subscribe to stats invalidation events", err)
	}

	return service
}

func (s *StatsService) handleInvalidation(event events.Event) error {
	log := s.log.Function("handleInvalidation")
	log.Info("Stats snapshot invalidated", "eventID", event.ID, "data", event.Data)

	ctx, cancel := context.WithTimeout(context.Background(), statsRefreshTimeout)
	defer cancel()

	// Fire-and-forget refresh: failure keeps the previous snapshot.
	if err := s.Refresh(ctx); err != nil {
		log.Warn("Stats refresh failed, keeping previous snapshot", "error", err)
	}

	return nil
}

// Refresh fetches the current counters and replaces the snapshot.
func (s *StatsService) Refresh(ctx context.Context) error {
	log := s.log.Function("Refresh")

	stats, err := s.client.FetchStats(ctx)
	if err != nil {
		return log.Err("failed to fetch stats", err)
	}

	s.mu.Lock()
	s.snapshot = stats
	s.fetched = true
	s.mu.Unlock()

	log.Debug("Stats snapshot refreshed",
		"totalProducts", stats.TotalProducts,
		"recentUploads", stats.RecentUploads,
		"activeWebhooks", stats.ActiveWebhooks,
	)
	return nil
}

// Snapshot returns the most recently fetched counters.
func (s *StatsService) Snapshot() models.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshot
}

// HasSnapshot reports whether at least one fetch has succeeded.
func (s *StatsService) HasSnapshot() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.fetched
}
