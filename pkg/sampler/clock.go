package sampler

import "time"

type (
	// Clock abstracts the time functions used by the scheduler so tests can
	// control apparent time.
	Clock interface {
		Now() time.Time
		After(d time.Duration) <-chan time.Time
	}

	wallClock struct{}
)

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// WallClock is the Clock backed by package time.
var WallClock Clock = wallClock{}
