package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/agencyos/textline/pkg/logger"
)

// Scheduler fires trigger runs on their cron schedules. Trigger types
// operate on disjoint (dealID, type) keyspaces, so due triggers run
// concurrently without contention.
type Scheduler struct {
	runner   *Runner
	triggers []Trigger
	tick     time.Duration
	gron     *gronx.Gronx

	mu        sync.Mutex
	lastFired map[string]string // trigger type -> minute it last fired
}

func NewScheduler(runner *Runner, triggers []Trigger, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = time.Minute
	}
	return &Scheduler{
		runner:    runner,
		triggers:  triggers,
		tick:      tick,
		gron:      gronx.New(),
		lastFired: make(map[string]string),
	}
}

// Start blocks until ctx is canceled, checking trigger schedules every
// tick.
func (s *Scheduler) Start(ctx context.Context) {
	logger.InfoCF("scheduler", "Trigger scheduler started", map[string]any{
		"triggers": len(s.triggers),
		"tick":     s.tick.String(),
	})

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoCF("scheduler", "Trigger scheduler stopped", nil)
			return
		case now := <-ticker.C:
			s.fireDue(ctx, now)
		}
	}
}

func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	minute := now.Format("2006-01-02 15:04")

	var wg sync.WaitGroup
	for _, t := range s.triggers {
		spec := t.CronSpec()
		if spec == "" {
			continue
		}

		due, err := s.gron.IsDue(spec, now)
		if err != nil {
			logger.ErrorCF("scheduler", "Bad cron spec", map[string]any{
				"type": string(t.Type()),
				"spec": spec,
			})
			continue
		}
		if !due {
			continue
		}

		s.mu.Lock()
		already := s.lastFired[string(t.Type())] == minute
		if !already {
			s.lastFired[string(t.Type())] = minute
		}
		s.mu.Unlock()
		if already {
			continue
		}

		wg.Add(1)
		go func(t Trigger) {
			defer wg.Done()
			if _, err := s.runner.Run(ctx, t, now); err != nil {
				logger.ErrorCF("scheduler", "Trigger run failed", map[string]any{
					"type":  string(t.Type()),
					"error": err.Error(),
				})
			}
		}(t)
	}
	wg.Wait()
}
