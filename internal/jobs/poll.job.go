package jobs

import (
	"context"
	"time"

	"importdeck/internal/services"
	"importdeck/pkg/logger"
)

// PollJob drives the poll reconciler on its fixed interval.
type PollJob struct {
	poll     *services.PollService
	log      logger.Logger
	interval time.Duration
}

func NewPollJob(poll *services.PollService, interval time.Duration) *PollJob {
	log := logger.New("pollJob")
	log.Info("Creating new poll job", "interval", interval.String())

	return &PollJob{
		poll:     poll,
		log:      log,
		interval: interval,
	}
}

func (j *PollJob) Name() string {
	return "ImportJobPoll"
}

func (j *PollJob) Execute(ctx context.Context) error {
	// Refresh never surfaces transport errors; a failed tick self-heals on the
	// next one.
	j.poll.Refresh(ctx)
	return nil
}

func (j *PollJob) Interval() time.Duration {
	return j.interval
}
