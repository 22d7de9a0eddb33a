package clock

import (
	"context"
	"time"
)

// WaitOptions tunes WaitUntil. Zero values fall back to the defaults below.
type WaitOptions struct {
	// FineWindow is how far ahead of the target the coarse phase hands over to polling.
	FineWindow time.Duration
	// PollInterval is the sleep granularity of the fine phase.
	PollInterval time.Duration
	// MaxCoarseStep caps a single coarse sleep so that wall-clock steps (NTP, suspend) are
	// noticed within one step.
	MaxCoarseStep time.Duration
}

const (
	DefaultFineWindow    = 10 * time.Millisecond
	DefaultPollInterval  = 500 * time.Microsecond
	DefaultMaxCoarseStep = time.Minute
)

func (o WaitOptions) withDefaults() WaitOptions {
	if o.FineWindow <= 0 {
		o.FineWindow = DefaultFineWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxCoarseStep <= 0 {
		o.MaxCoarseStep = DefaultMaxCoarseStep
	}
	if o.MaxCoarseStep < o.FineWindow {
		o.MaxCoarseStep = o.FineWindow
	}
	return o
}

// WaitUntil blocks until clk reports a time at or after target, or ctx is done.
//
// The wait runs in two phases. While more than FineWindow remains, it sleeps on a single timer
// until FineWindow before the target (at most MaxCoarseStep at a time) and re-reads the clock after
// every wake, which absorbs timer slack and clock steps. Inside FineWindow it sleeps in
// PollInterval steps, never past the target, until the clock reaches it. It returns the clock
// reading taken when the target was reached, or ctx.Err().
func WaitUntil(ctx context.Context, clk Clock, target time.Time, opts WaitOptions) (time.Time, error) {
	opts = opts.withDefaults()
	for {
		now := clk.Now()
		remaining := target.Sub(now)
		if remaining <= 0 {
			return now, nil
		}
		if err := ctx.Err(); err != nil {
			return now, err
		}

		step := remaining
		if remaining > opts.FineWindow {
			step = remaining - opts.FineWindow
			if step > opts.MaxCoarseStep {
				step = opts.MaxCoarseStep
			}
		} else if step > opts.PollInterval {
			step = opts.PollInterval
		}

		if err := sleep(ctx, clk, step); err != nil {
			return clk.Now(), err
		}
	}
}

func sleep(ctx context.Context, clk Clock, d time.Duration) error {
	timer := clk.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}
