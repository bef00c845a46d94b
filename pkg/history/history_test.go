package history

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2017, 11, 9, 8, 0, 0, 0, time.UTC)

func round(i int) time.Time { return t0.Add(time.Duration(i) * 30 * time.Second) }

func TestNewRejectsBadArguments(t *testing.T) {
	_, err := New([]int{1}, 0)
	assert.Error(t, err)
	_, err = New(nil, 3)
	assert.Error(t, err)
	_, err = New([]int{1, 2, 1}, 3)
	assert.Error(t, err)
}

func TestEvictionScenario(t *testing.T) {
	s, err := New([]int{5, 9, 10}, 3)
	require.NoError(t, err)

	for i, v := range []float64{10, 11, 12, 13} {
		require.NoError(t, s.Append(round(i), map[int]float64{5: v, 9: v, 10: v}))
	}

	snap := s.Snapshot()
	assert.Equal(t, []int{5, 9, 10}, snap.Channels)
	assert.Equal(t, []time.Time{round(1), round(2), round(3)}, snap.Timestamps)
	for _, ch := range []int{5, 9, 10} {
		assert.Equal(t, []float64{11, 12, 13}, snap.Values[ch], "channel %d", ch)
	}
}

func TestLockStepLengthsNeverExceedCapacity(t *testing.T) {
	channels := []int{1, 2, 3, 4}
	rnd := rand.New(rand.NewSource(1))
	for _, capacity := range []int{1, 2, 7, 50} {
		s, err := New(channels, capacity)
		require.NoError(t, err)
		for i := 0; i < 3*capacity+5; i++ {
			readings := map[int]float64{}
			for _, ch := range channels {
				// leave some channels out to exercise the missing marker
				if rnd.Intn(4) > 0 {
					readings[ch] = rnd.Float64()
				}
			}
			require.NoError(t, s.Append(round(i), readings))

			snap := s.Snapshot()
			want := min(i+1, capacity)
			require.Equal(t, want, snap.Len())
			for _, ch := range channels {
				require.Len(t, snap.Values[ch], want)
			}
		}
	}
}

func TestEvictionKeepsLastNInOrder(t *testing.T) {
	const capacity, extra = 5, 8
	s, err := New([]int{1, 2}, capacity)
	require.NoError(t, err)
	for i := 0; i < capacity+extra; i++ {
		require.NoError(t, s.Append(round(i), map[int]float64{1: float64(i), 2: float64(-i)}))
	}

	snap := s.Snapshot()
	for j := 0; j < capacity; j++ {
		i := extra + j
		assert.Equal(t, round(i), snap.Timestamps[j])
		assert.Equal(t, float64(i), snap.Values[1][j])
		assert.Equal(t, float64(-i), snap.Values[2][j])
	}
}

func TestMissingChannelStoredAsNaN(t *testing.T) {
	s, err := New([]int{1, 2}, 2)
	require.NoError(t, err)
	require.NoError(t, s.Append(round(0), map[int]float64{1: 20.5}))

	snap := s.Snapshot()
	assert.Equal(t, []float64{20.5}, snap.Values[1])
	require.Len(t, snap.Values[2], 1)
	assert.True(t, math.IsNaN(snap.Values[2][0]))
}

func TestUnknownChannelRejectedWithoutPartialAppend(t *testing.T) {
	s, err := New([]int{1, 2}, 2)
	require.NoError(t, err)

	err = s.Append(round(0), map[int]float64{1: 1, 3: 3})
	require.Error(t, err)
	assert.Zero(t, s.Len())
	assert.Empty(t, s.Snapshot().Values[1])
}

func TestSnapshotIsACopy(t *testing.T) {
	s, err := New([]int{1}, 2)
	require.NoError(t, err)
	require.NoError(t, s.Append(round(0), map[int]float64{1: 1}))

	snap := s.Snapshot()
	snap.Values[1][0] = 99
	snap.Timestamps[0] = time.Time{}

	again := s.Snapshot()
	assert.Equal(t, []float64{1}, again.Values[1])
	assert.Equal(t, round(0), again.Timestamps[0])
}

func TestSnapshotRange(t *testing.T) {
	s, err := New([]int{1, 2}, 4)
	require.NoError(t, err)

	_, _, ok := s.Snapshot().Range()
	assert.False(t, ok)

	require.NoError(t, s.Append(round(0), map[int]float64{1: 20.1, 2: 19.5}))
	require.NoError(t, s.Append(round(1), map[int]float64{1: 21.7}))

	lo, hi, ok := s.Snapshot().Range()
	require.True(t, ok)
	assert.Equal(t, 19.5, lo)
	assert.Equal(t, 21.7, hi)
}
