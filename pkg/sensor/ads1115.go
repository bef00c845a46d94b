package sensor

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ericogr/templog/pkg/config"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	pointerConv   = 0x00
	pointerConfig = 0x01

	cfgStartConversion uint16 = 1 << 15
	cfgSingleShot      uint16 = 1 << 8
	cfgComparatorOff   uint16 = 0x3
	muxSingleEnded            = 0x4
	pga4096            uint16 = 0x1
)

// dataRates maps samples per second to the DR field of the config register.
var dataRates = map[int]uint16{
	8: 0x0, 16: 0x1, 32: 0x2, 64: 0x3, 128: 0x4, 250: 0x5, 475: 0x6, 860: 0x7,
}

// txer is the register access used by ADS1115; *i2c.Dev satisfies it.
type txer interface {
	Tx(w, r []byte) error
}

// ADS1115 reads analog temperature probes (thermistor dividers, LM35 and
// similar) wired to the single-ended inputs of an ADS1115 ADC. The
// calibration of each channel converts volts to degrees Celsius.
type ADS1115 struct {
	mu         sync.Mutex
	dev        txer
	bus        i2c.BusCloser
	sampleRate int
	pgaFS      physic.ElectricPotential
	cal        map[int]calibration
}

func NewADS1115(cfg config.Config) (*ADS1115, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2C.Bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	dev := &i2c.Dev{Addr: uint16(cfg.I2C.Address), Bus: bus}
	_, cal := buildChannelSettings(cfg)
	return &ADS1115{
		dev:        dev,
		bus:        bus,
		sampleRate: cfg.I2C.SampleRate,
		pgaFS:      4096 * physic.MilliVolt,
		cal:        cal,
	}, nil
}

func (s *ADS1115) Close() error {
	if s.bus != nil {
		return s.bus.Close()
	}
	return nil
}

func (s *ADS1115) Query(ctx context.Context, channel int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msb, lsb, err := s.configForChannel(channel, s.sampleRate)
	if err != nil {
		return 0, err
	}
	if err := s.dev.Tx([]byte{pointerConfig, msb, lsb}, nil); err != nil {
		return 0, fmt.Errorf("channel %d: write config: %w", channel, err)
	}
	if err := sleep(ctx, conversionTime(s.sampleRate)); err != nil {
		return 0, err
	}
	var conv [2]byte
	if err := s.dev.Tx([]byte{pointerConv}, conv[:]); err != nil {
		return 0, &QueryError{Channel: channel, Kind: ErrInstrumentUnresponsive, Err: err}
	}
	volts := float64(s.voltage(int16(binary.BigEndian.Uint16(conv[:])))) / float64(physic.Volt)
	return applyCalibration(s.cal, channel, volts), nil
}

// conversionTime is one conversion period plus a 2ms margin.
func conversionTime(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		sampleRate = 128
	}
	return time.Second/time.Duration(sampleRate) + 2*time.Millisecond
}

func (s *ADS1115) voltage(raw int16) physic.ElectricPotential {
	return physic.ElectricPotential(int64(raw) * int64(s.pgaFS) / 32768)
}

// configForChannel encodes a single-shot, single-ended conversion of channel
// (AIN0..AIN3) at ±4.096 V with the comparator disabled. Unknown sample rates
// fall back to 128 SPS.
func (s *ADS1115) configForChannel(channel, sampleRate int) (byte, byte, error) {
	if channel < 0 || channel > 3 {
		return 0, 0, fmt.Errorf("invalid channel %d", channel)
	}
	dr, ok := dataRates[sampleRate]
	if !ok {
		dr = dataRates[128]
	}
	word := cfgStartConversion |
		uint16(muxSingleEnded+channel)<<12 |
		pga4096<<9 |
		cfgSingleShot |
		dr<<5 |
		cfgComparatorOff
	return byte(word >> 8), byte(word), nil
}
