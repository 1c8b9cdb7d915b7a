package media

import (
	"testing"
)

func TestRateController_StartsAtFastest(t *testing.T) {
	c := NewRateController()
	if c.Interval() != MinFrameInterval {
		t.Errorf("expected %v, got %v", MinFrameInterval, c.Interval())
	}
}

func TestRateController_BacksOffUnderBacklog(t *testing.T) {
	c := NewRateController()

	got := c.Observe(defaultHighWater)
	if got <= MinFrameInterval {
		t.Errorf("expected interval above %v after backlog, got %v", MinFrameInterval, got)
	}
}

func TestRateController_ClampsAtMax(t *testing.T) {
	c := NewRateController()

	for i := 0; i < 20; i++ {
		c.Observe(defaultHighWater)
	}
	if c.Interval() != MaxFrameInterval {
		t.Errorf("expected clamp at %v, got %v", MaxFrameInterval, c.Interval())
	}
}

func TestRateController_RecoversWhenDrained(t *testing.T) {
	c := NewRateController()
	c.Observe(defaultHighWater)
	c.Observe(defaultHighWater)

	for i := 0; i < 20; i++ {
		c.Observe(0)
	}
	if c.Interval() != MinFrameInterval {
		t.Errorf("expected recovery to %v, got %v", MinFrameInterval, c.Interval())
	}
}

func TestRateController_HoldsInMidRange(t *testing.T) {
	c := NewRateController()
	c.Observe(defaultHighWater)
	before := c.Interval()

	got := c.Observe(defaultLowWater + 1)
	if got != before {
		t.Errorf("mid-range backlog should not change interval: %v -> %v", before, got)
	}
}

func TestRateController_IntervalNeverBelowMin(t *testing.T) {
	c := NewRateController()
	for i := 0; i < 10; i++ {
		if got := c.Observe(0); got < MinFrameInterval {
			t.Fatalf("interval %v dropped below minimum %v", got, MinFrameInterval)
		}
	}
}
