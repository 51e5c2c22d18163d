package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context, now time.Time) error

// Options tune scheduler behaviour. TickTimeout bounds a single iteration so
// a hung collaborator cannot stall the loop past its interval.
type Options struct {
	Name         string
	Interval     time.Duration
	TickTimeout  time.Duration
	StartupDelay time.Duration
}

// Scheduler drives periodic execution of a single task with per-iteration
// timeouts and context cancellation.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	name := opts.Name
	if name == "" {
		name = "scheduler"
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", name).Logger()}
}

// Run blocks, invoking the tick function at each interval until ctx is
// cancelled. A failing tick is logged and the loop continues to the next
// cycle; only cancellation terminates the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	// First iteration fires immediately so a fresh process produces output
	// without waiting a full interval.
	s.runOnce(ctx, tick)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx, tick)
		}
	}
}

func (s *Scheduler) runOnce(parent context.Context, tick TickFunc) {
	if parent.Err() != nil {
		return
	}

	ctx := parent
	var cancel context.CancelFunc
	if s.opts.TickTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, s.opts.TickTimeout)
		defer cancel()
	}

	now := time.Now().UTC()
	if err := tick(ctx, now); err != nil {
		s.logger.Error().Err(err).Time("tick", now).Msg("tick execution failed")
	}
}
