package pump

import (
	"time"

	"k8s.io/utils/clock"
)

// PresentationClock maps presentation timestamps to wall time. The anchor is
// latched by the first call to Delay and never moves afterwards.
type PresentationClock struct {
	clock   clock.Clock
	latched bool
	start   time.Time
	base    int64
}

func NewPresentationClock(c clock.Clock) *PresentationClock {
	if c == nil {
		c = clock.RealClock{}
	}
	return &PresentationClock{clock: c}
}

// Delay is how long until the frame with timestamp pts (microseconds) is
// due. The first call latches the anchor to now and pts, and returns 0.
func (c *PresentationClock) Delay(pts int64) time.Duration {
	now := c.clock.Now()
	if !c.latched {
		c.latched = true
		c.start = now
		c.base = pts
	}
	due := c.start.Add(time.Duration(pts-c.base) * time.Microsecond)
	return due.Sub(now)
}

func (c *PresentationClock) Latched() bool { return c.latched }

// Anchor returns the latched wall time and base timestamp.
func (c *PresentationClock) Anchor() (time.Time, int64) {
	return c.start, c.base
}

func (c *PresentationClock) Sleep(d time.Duration) {
	c.clock.Sleep(d)
}
