package handlers

import (
	"errors"

	"importdeck/internal/app"
	"importdeck/internal/models"
	"importdeck/internal/services"
	"importdeck/internal/store"
	"importdeck/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

type JobsHandler struct {
	Handler
	store   *store.JobStore
	actions *services.ActionsService
	limit   int
}

func NewJobsHandler(app app.App, router fiber.Router) *JobsHandler {
	return &JobsHandler{
		Handler: Handler{
			middleware: app.Middleware,
			log:        logger.New("jobsHandler"),
			router:     router,
		},
		store:   app.Store,
		actions: app.Actions,
		limit:   app.Config.JobWindowLimit,
	}
}

func (h *JobsHandler) Register() {
	h.router.Get("/jobs", h.listJobs)
	h.router.Post("/jobs/:id/retry", h.retryJob)
	h.router.Delete("/jobs/:id", h.deleteJob)
}

// listJobs returns the reconciled recent-jobs window, newest first.
func (h *JobsHandler) listJobs(c *fiber.Ctx) error {
	jobs := h.store.List(h.limit)

	views := make([]models.JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, job.View())
	}

	return c.JSON(fiber.Map{
		"jobs": views,
	})
}

func (h *JobsHandler) retryJob(c *fiber.Ctx) error {
	log := h.log.Function("retryJob")

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid job id",
		})
	}

	jobID := int64(id)

	if job, ok := h.store.Get(jobID); ok && job.Status != models.JobStatusFailed {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "only failed jobs can be retried",
		})
	}

	if err := h.actions.Retry(c.UserContext(), jobID); err != nil {
		log.Warn("Retry failed", "jobID", jobID, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "retry failed, the job remains in its failed state",
		})
	}

	return c.JSON(fiber.Map{
		"status": "retrying",
		"job_id": jobID,
	})
}

func (h *JobsHandler) deleteJob(c *fiber.Ctx) error {
	log := h.log.Function("deleteJob")

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid job id",
		})
	}

	jobID := int64(id)
	confirmed := c.QueryBool("confirm")

	if err := h.actions.Delete(c.UserContext(), jobID, confirmed); err != nil {
		if errors.Is(err, services.ErrConfirmationRequired) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":                 "job is still running, deleting it will cancel the import",
				"confirmation_required": true,
			})
		}

		log.Warn("Delete failed", "jobID", jobID, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "delete failed",
		})
	}

	return c.JSON(fiber.Map{
		"status": "deleted",
		"job_id": jobID,
	})
}
