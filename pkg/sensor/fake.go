package sensor

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/ericogr/templog/pkg/config"
)

// Fake simulates a bank of probes drifting slowly around room temperature.
type Fake struct {
	mu    sync.Mutex
	rnd   *rand.Rand
	temps map[int]float64
	cal   map[int]calibration
}

func NewFake(cfg config.Config) *Fake {
	return NewFakeSeeded(cfg, time.Now().UnixNano())
}

func NewFakeSeeded(cfg config.Config, seed int64) *Fake {
	chans, cal := buildChannelSettings(cfg)
	temps := make(map[int]float64, len(chans))
	for _, ch := range chans {
		temps[ch] = 20.0
	}
	return &Fake{rnd: rand.New(rand.NewSource(seed)), temps: temps, cal: cal}
}

func (f *Fake) Query(ctx context.Context, channel int) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.temps[channel]
	if !ok {
		t = 20.0
	}
	t += (f.rnd.Float64() - 0.5) * 0.05
	f.temps[channel] = t
	return applyCalibration(f.cal, channel, t), nil
}

func (f *Fake) Close() error { return nil }
