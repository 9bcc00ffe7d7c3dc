// Package scheduler runs the formatter on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	cron *cron.Cron
}

func New(tz *time.Location) *Scheduler {
	if tz == nil {
		tz = time.Local
	}
	return &Scheduler{
		cron: cron.New(cron.WithLocation(tz)),
	}
}

// Start registers the run function under a cron spec (e.g. "*/30 * * * *"),
// runs it once immediately and then blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, spec string, run func()) error {
	if _, err := s.cron.AddFunc(spec, run); err != nil {
		return fmt.Errorf("add schedule %q: %w", spec, err)
	}

	run()

	s.cron.Start()
	log.Printf("Scheduler started (spec: %s)", spec)

	<-ctx.Done()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("Scheduler stopped")
}
