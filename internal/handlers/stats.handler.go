package handlers

import (
	"importdeck/internal/app"
	"importdeck/internal/services"
	"importdeck/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

type StatsHandler struct {
	Handler
	stats *services.StatsService
}

func NewStatsHandler(app app.App, router fiber.Router) *StatsHandler {
	return &StatsHandler{
		Handler: Handler{
			middleware: app.Middleware,
			log:        logger.New("statsHandler"),
			router:     router,
		},
		stats: app.Stats,
	}
}

func (h *StatsHandler) Register() {
	h.router.Get("/stats", h.getStats)
}

// getStats serves the cached aggregate counters. The snapshot only changes on
// invalidation events, never on a timer, so this read is always cheap.
func (h *StatsHandler) getStats(c *fiber.Ctx) error {
	if !h.stats.HasSnapshot() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "stats not available yet",
		})
	}

	return c.JSON(h.stats.Snapshot())
}
