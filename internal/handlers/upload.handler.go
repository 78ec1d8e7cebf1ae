package handlers

import (
	"path/filepath"
	"strings"

	"importdeck/internal/app"
	"importdeck/internal/services"
	"importdeck/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

type UploadHandler struct {
	Handler
	actions *services.ActionsService
}

func NewUploadHandler(app app.App, router fiber.Router) *UploadHandler {
	return &UploadHandler{
		Handler: Handler{
			middleware: app.Middleware,
			log:        logger.New("uploadHandler"),
			router:     router,
		},
		actions: app.Actions,
	}
}

func (h *UploadHandler) Register() {
	h.router.Post("/upload", h.uploadCSV)
}

// uploadCSV forwards a CSV file to the import server and starts tracking the
// job it created. Failures surface as a dismissible error; the uploader is
// immediately available for another attempt.
func (h *UploadHandler) uploadCSV(c *fiber.Ctx) error {
	log := h.log.Function("uploadCSV")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "no file provided",
		})
	}

	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".csv") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "only CSV files are supported",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return log.Err("failed to open uploaded file", err, "filename", fileHeader.Filename)
	}
	defer file.Close()

	jobID, err := h.actions.Upload(c.UserContext(), fileHeader.Filename, file)
	if err != nil {
		log.Warn("Upload rejected", "filename", fileHeader.Filename, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "upload failed",
		})
	}

	return c.JSON(fiber.Map{
		"status": "accepted",
		"job_id": jobID,
	})
}
