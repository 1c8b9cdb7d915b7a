// Package media holds timing helpers for the audio and video paths:
// adaptive video frame pacing and output playback accounting.
package media

import (
	"sync"
	"time"
)

const (
	// Video frames are sampled between 0.5 and 3 fps depending on how
	// far behind the upstream channel is running.
	MinFrameInterval = 333 * time.Millisecond
	MaxFrameInterval = 2 * time.Second

	defaultHighWater = 8
	defaultLowWater  = 2
	defaultStep      = 1.5
)

// RateController picks the video frame interval from observed send
// backlog. It backs off multiplicatively when frames queue up and
// recovers the same way once the queue drains.
type RateController struct {
	mu        sync.Mutex
	interval  time.Duration
	highWater int
	lowWater  int
	step      float64
}

func NewRateController() *RateController {
	return &RateController{
		interval:  MinFrameInterval,
		highWater: defaultHighWater,
		lowWater:  defaultLowWater,
		step:      defaultStep,
	}
}

// Interval returns the current pacing interval between video frames.
func (c *RateController) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Observe feeds the current backlog (frames queued but not yet sent)
// into the controller and returns the adjusted interval.
func (c *RateController) Observe(backlog int) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case backlog >= c.highWater:
		c.interval = time.Duration(float64(c.interval) * c.step)
		if c.interval > MaxFrameInterval {
			c.interval = MaxFrameInterval
		}
	case backlog <= c.lowWater:
		c.interval = time.Duration(float64(c.interval) / c.step)
		if c.interval < MinFrameInterval {
			c.interval = MinFrameInterval
		}
	}
	return c.interval
}
