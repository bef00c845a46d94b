package sensor

import (
	"context"
	"math"
	"time"
)

// TimestampLayout is the second-resolution format used in logs and charts.
const TimestampLayout = "2006-01-02 15:04:05"

// Reading is one channel's value within a round. Missing marks a channel the
// instrument did not answer for; Value is NaN in that case.
type Reading struct {
	Channel   int       `json:"channel"`
	Value     float64   `json:"value"`
	Missing   bool      `json:"missing,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Round holds one reading per configured channel, in channel order, all
// sharing the round timestamp.
type Round struct {
	Timestamp time.Time
	Readings  []Reading
}

// Values maps channel to value. Missing channels map to NaN.
func (r Round) Values() map[int]float64 {
	out := make(map[int]float64, len(r.Readings))
	for _, rd := range r.Readings {
		if rd.Missing {
			out[rd.Channel] = math.NaN()
			continue
		}
		out[rd.Channel] = rd.Value
	}
	return out
}

// Complete reports whether every channel answered.
func (r Round) Complete() bool {
	for _, rd := range r.Readings {
		if rd.Missing {
			return false
		}
	}
	return true
}

// Instrument queries a single channel and returns its calibrated temperature
// in degrees Celsius.
type Instrument interface {
	Query(ctx context.Context, channel int) (float64, error)
	Close() error
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
