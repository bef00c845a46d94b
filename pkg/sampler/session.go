// Package sampler runs the acquisition cycle: query every channel, commit the
// round to history and the data log, hand it to the other outputs, then sleep
// for what is left of the sampling period.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/ericogr/templog/pkg/history"
	"github.com/ericogr/templog/pkg/output"
	"github.com/ericogr/templog/pkg/sensor"
)

// ErrTooManyMisses aborts a run when a channel stays unresponsive for more
// consecutive rounds than allowed.
var ErrTooManyMisses = errors.New("channel exceeded consecutive miss limit")

type Options struct {
	Instrument sensor.Instrument
	// Channels fixes the query order and must match the history channels.
	Channels []int
	History  *history.Store
	// Persistence receives every round; a failure there ends the run.
	Persistence output.Output
	// Outputs and Renderers are best effort; failures are logged.
	Outputs   []output.Output
	Renderers []output.Renderer
	Period    time.Duration
	// MaxConsecutiveMisses is how many rounds in a row a channel may be
	// missing. Zero aborts on the first unresponsive channel.
	MaxConsecutiveMisses int
	Clock                Clock
	Logger               *slog.Logger
}

// Stats counts committed work. Misses are the missing readings of committed
// rounds; a round discarded by cancellation or an abort adds nothing.
type Stats struct {
	Rounds   uint64
	Overruns uint64
	Misses   uint64
}

// Session owns the instrument, the history and the outputs of one run. It is
// driven by a single goroutine.
type Session struct {
	instrument  sensor.Instrument
	channels    []int
	history     *history.Store
	persistence output.Output
	outputs     []output.Output
	renderers   []output.Renderer
	period      time.Duration
	maxMisses   int
	misses      map[int]int
	clock       Clock
	log         *slog.Logger
	stats       Stats
}

func NewSession(opts Options) (*Session, error) {
	switch {
	case opts.Instrument == nil:
		return nil, errors.New("session needs an instrument")
	case opts.History == nil:
		return nil, errors.New("session needs a history store")
	case opts.Persistence == nil:
		return nil, errors.New("session needs a persistence writer")
	case len(opts.Channels) == 0:
		return nil, errors.New("session needs at least one channel")
	case opts.Period <= 0:
		return nil, fmt.Errorf("sampling period must be > 0, got %s", opts.Period)
	case opts.MaxConsecutiveMisses < 0:
		return nil, errors.New("max consecutive misses must be >= 0")
	}
	if !slices.Equal(opts.Channels, opts.History.Channels()) {
		return nil, fmt.Errorf("history channels %v do not match %v", opts.History.Channels(), opts.Channels)
	}
	clock := opts.Clock
	if clock == nil {
		clock = WallClock
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		instrument:  opts.Instrument,
		channels:    append([]int(nil), opts.Channels...),
		history:     opts.History,
		persistence: opts.Persistence,
		outputs:     opts.Outputs,
		renderers:   opts.Renderers,
		period:      opts.Period,
		maxMisses:   opts.MaxConsecutiveMisses,
		misses:      make(map[int]int, len(opts.Channels)),
		clock:       clock,
		log:         log,
	}, nil
}

// Acquire queries every channel in order and builds one round. An
// unresponsive channel is marked missing unless it exceeds the miss limit;
// any other query error is returned as is.
func (s *Session) Acquire(ctx context.Context) (sensor.Round, error) {
	ts := s.clock.Now().Truncate(time.Second)
	round := sensor.Round{Timestamp: ts, Readings: make([]sensor.Reading, 0, len(s.channels))}

	for _, ch := range s.channels {
		if err := ctx.Err(); err != nil {
			return sensor.Round{}, err
		}
		v, err := s.instrument.Query(ctx, ch)
		if err == nil {
			s.misses[ch] = 0
			round.Readings = append(round.Readings, sensor.Reading{Channel: ch, Value: v, Timestamp: ts})
			continue
		}
		if !sensor.IsUnresponsive(err) {
			return sensor.Round{}, err
		}

		s.misses[ch]++
		if s.misses[ch] > s.maxMisses {
			s.log.Error("channel unresponsive", "channel", ch, "consecutive", s.misses[ch], "error", err)
			return sensor.Round{}, fmt.Errorf("%w: %w", ErrTooManyMisses, err)
		}
		s.log.Warn("channel missing from round", "channel", ch, "consecutive", s.misses[ch], "error", err)
		round.Readings = append(round.Readings, sensor.Reading{Channel: ch, Value: math.NaN(), Missing: true, Timestamp: ts})
	}
	return round, nil
}

// Settle commits a round: history first, then the data log, then the best
// effort outputs and renderers.
func (s *Session) Settle(round sensor.Round) error {
	if err := s.history.Append(round.Timestamp, round.Values()); err != nil {
		return fmt.Errorf("update history: %w", err)
	}
	if err := s.persistence.Publish(round); err != nil {
		return fmt.Errorf("persist round: %w", err)
	}
	for _, o := range s.outputs {
		if err := o.Publish(round); err != nil {
			s.log.Warn("output publish failed", "error", err)
		}
	}
	if len(s.renderers) > 0 {
		snap := s.history.Snapshot()
		for _, r := range s.renderers {
			if err := r.Render(snap); err != nil {
				s.log.Warn("render failed", "error", err)
			}
		}
	}
	s.stats.Rounds++
	for _, rd := range round.Readings {
		if rd.Missing {
			s.stats.Misses++
		}
	}
	s.log.Debug("round committed", "timestamp", round.Timestamp, "complete", round.Complete())
	return nil
}

// Cycle runs ACQUIRE then SETTLE once and returns the time it took. A
// cancellation observed between the two phases discards the round.
func (s *Session) Cycle(ctx context.Context) (time.Duration, error) {
	start := s.clock.Now()
	round, err := s.Acquire(ctx)
	if err != nil {
		return s.clock.Now().Sub(start), err
	}
	if err := ctx.Err(); err != nil {
		return s.clock.Now().Sub(start), err
	}
	if err := s.Settle(round); err != nil {
		return s.clock.Now().Sub(start), err
	}
	return s.clock.Now().Sub(start), nil
}

// Run repeats Cycle until ctx is cancelled or a cycle fails. After each cycle
// it sleeps for the rest of the period; an overrunning cycle is followed
// immediately by the next one with no catch-up, so timing drifts under
// sustained overrun. Cancellation returns nil.
func (s *Session) Run(ctx context.Context) error {
	s.log.Info("sampling started", "channels", s.channels, "period", s.period, "history", s.history.Capacity())
	defer func() {
		s.log.Info("sampling stopped", "rounds", s.stats.Rounds, "overruns", s.stats.Overruns, "misses", s.stats.Misses)
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		elapsed, err := s.Cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		wait := Slack(s.period, elapsed)
		if wait == 0 {
			if elapsed > s.period {
				s.stats.Overruns++
				s.log.Debug("cycle overran period", "elapsed", elapsed, "period", s.period)
			}
			continue
		}
		if err := s.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}

// Stats returns the counters of the run so far. Call it from the goroutine
// driving Run or after Run returned.
func (s *Session) Stats() Stats { return s.stats }

// Slack is the time left in period after elapsed, or zero.
func Slack(period, elapsed time.Duration) time.Duration {
	if elapsed >= period {
		return 0
	}
	return period - elapsed
}

// Probe queries every channel once so a bad link or channel is reported
// before anything is written.
func Probe(ctx context.Context, inst sensor.Instrument, channels []int, log *slog.Logger) error {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	for _, ch := range channels {
		v, err := inst.Query(ctx, ch)
		if err != nil {
			return fmt.Errorf("connection test: %w", err)
		}
		log.Debug("connection test", "channel", ch, "value", v)
	}
	log.Info("instrument connected", "channels", len(channels))
	return nil
}
