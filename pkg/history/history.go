// Package history keeps the most recent sampling rounds of every channel in
// memory for live display.
package history

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// Store is a capacity bounded time series per channel. All channel series and
// the shared timestamp series always have the same length; once that length
// reaches the capacity each append evicts the oldest element of every series.
type Store struct {
	mu       sync.RWMutex
	capacity int
	channels []int
	index    map[int]int
	times    []time.Time
	values   [][]float64
}

// Snapshot is a copy of the store at the end of a completed Append.
type Snapshot struct {
	Channels   []int
	Timestamps []time.Time
	Values     map[int][]float64
}

func New(channels []int, capacity int) (*Store, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("history capacity must be >= 1, got %d", capacity)
	}
	if len(channels) == 0 {
		return nil, errors.New("history needs at least one channel")
	}
	index := make(map[int]int, len(channels))
	for i, ch := range channels {
		if _, dup := index[ch]; dup {
			return nil, fmt.Errorf("duplicate channel %d", ch)
		}
		index[ch] = i
	}
	s := &Store{
		capacity: capacity,
		channels: append([]int(nil), channels...),
		index:    index,
		times:    make([]time.Time, 0, capacity),
		values:   make([][]float64, len(channels)),
	}
	for i := range s.values {
		s.values[i] = make([]float64, 0, capacity)
	}
	return s, nil
}

// Append adds one round. Channels absent from readings are stored as NaN;
// readings for unknown channels are rejected and nothing is appended.
func (s *Store) Append(ts time.Time, readings map[int]float64) error {
	for ch := range readings {
		if _, ok := s.index[ch]; !ok {
			return fmt.Errorf("unknown channel %d", ch)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	full := len(s.times) == s.capacity
	s.times = push(s.times, ts, full)
	for i, ch := range s.channels {
		v, ok := readings[ch]
		if !ok {
			v = math.NaN()
		}
		s.values[i] = push(s.values[i], v, full)
	}
	return nil
}

// push appends v, first dropping the oldest element when the series is full.
// The backing array is reused so memory stays at the capacity.
func push[T any](series []T, v T, full bool) []T {
	if full {
		copy(series, series[1:])
		series[len(series)-1] = v
		return series
	}
	return append(series, v)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Channels:   append([]int(nil), s.channels...),
		Timestamps: append([]time.Time(nil), s.times...),
		Values:     make(map[int][]float64, len(s.channels)),
	}
	for i, ch := range s.channels {
		snap.Values[ch] = append([]float64(nil), s.values[i]...)
	}
	return snap
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.times)
}

func (s *Store) Capacity() int { return s.capacity }

// Channels returns the channel order of the store.
func (s *Store) Channels() []int { return append([]int(nil), s.channels...) }

// Len returns the number of rounds in the snapshot.
func (s Snapshot) Len() int { return len(s.Timestamps) }

// Range returns the minimum and maximum non-NaN value across all channels.
// ok is false when the snapshot holds no values.
func (s Snapshot) Range() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, series := range s.Values {
		for _, v := range series {
			if math.IsNaN(v) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
			ok = true
		}
	}
	return lo, hi, ok
}
