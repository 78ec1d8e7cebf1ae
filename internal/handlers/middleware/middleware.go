package middleware

import (
	"importdeck/config"
	"importdeck/internal/events"
	"importdeck/pkg/logger"
)

type Middleware struct {
	Config   config.Config
	log      logger.Logger
	eventBus *events.EventBus
}

func New(
	eventBus *events.EventBus,
	config config.Config,
) Middleware {
	log := logger.New("middleware")

	return Middleware{
		Config:   config,
		log:      log,
		eventBus: eventBus,
	}
}
