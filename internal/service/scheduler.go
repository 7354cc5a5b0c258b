package service

import (
	"context"
	"os"
	"time"
)

// Scheduler watches the service from a separate process and restarts it when
// it dies. Polling is cheap and frequent; restarts are debounced by the
// configured schedule window so a crash-looping service is not hammered.
type Scheduler struct {
	orchestrator *Orchestrator
	lastHeal     time.Time
}

// NewScheduler creates a scheduler over the orchestrator.
func NewScheduler(o *Orchestrator) *Scheduler {
	return &Scheduler{orchestrator: o}
}

// Run polls until the context is cancelled. It writes its own PID file so
// `status` can report scheduler liveness.
func (s *Scheduler) Run(ctx context.Context, poll time.Duration) error {
	o := s.orchestrator

	if err := WritePIDFile(o.cfg.SchedulerPIDFile, os.Getpid()); err != nil {
		return err
	}
	defer RemovePIDFile(o.cfg.SchedulerPIDFile)

	if poll <= 0 {
		poll = 30 * time.Second
	}
	o.logger.Info().Dur("poll", poll).Msg("Scheduler running")

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick checks service liveness and self-heals a dead service.
func (s *Scheduler) tick() {
	o := s.orchestrator

	pid, err := ReadPIDFile(o.cfg.PIDFile)
	if err != nil {
		o.logger.Error().Err(err).Msg("Scheduler could not read service PID")
		return
	}
	if pid != 0 && ProcessAlive(pid) {
		return
	}

	debounce := time.Duration(o.cfg.ScheduleSec) * time.Second
	if since := time.Since(s.lastHeal); since < debounce {
		o.logger.Debug().
			Dur("since_last_heal", since).
			Msg("Service down but within the heal debounce window")
		return
	}

	o.logger.Warn().Int("stale_pid", pid).Msg("Service is down, restarting")
	if err := o.Start(0); err != nil {
		o.logger.Error().Err(err).Msg("Self-heal start failed")
		return
	}
	s.lastHeal = time.Now()
}
