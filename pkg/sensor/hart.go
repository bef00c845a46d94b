package sensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ericogr/templog/pkg/config"
	"github.com/tarm/serial"
)

// maxResponseLen bounds a single response line; anything longer is garbage.
const maxResponseLen = 64

// Port is the serial link used by HartClient. *serial.Port satisfies it.
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

type HartOptions struct {
	SettleDelay time.Duration
	RetryDelay  time.Duration
	Logger      *slog.Logger
}

// HartClient talks to a Hart Scientific 1560 thermometer readout over a
// serial line using its SCPI-style MEAS? query. It owns the port; nothing
// else may read or write it.
type HartClient struct {
	port       Port
	reader     *bufio.Reader
	settle     time.Duration
	retryDelay time.Duration
	cal        map[int]calibration
	log        *slog.Logger
}

// ConnectHart opens the serial port described by cfg and discards any stale
// bytes left in the input buffer.
func ConnectHart(cfg config.Config, log *slog.Logger) (*HartClient, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Serial.Port,
		Baud:        cfg.Serial.BaudRate,
		ReadTimeout: cfg.Serial.Timeout.D(),
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Serial.Port, err)
	}
	c := NewHartClient(p, HartOptions{
		SettleDelay: cfg.Serial.SettleDelay.D(),
		RetryDelay:  cfg.Serial.RetryDelay.D(),
		Logger:      log,
	})
	_, c.cal = buildChannelSettings(cfg)
	if err := c.discard(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("clear serial buffer: %w", err)
	}
	c.log.Info("serial link open", "port", cfg.Serial.Port, "baud", cfg.Serial.BaudRate, "timeout", cfg.Serial.Timeout.D())
	return c, nil
}

// NewHartClient wraps an already open port. Values are returned uncalibrated.
func NewHartClient(p Port, opts HartOptions) *HartClient {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HartClient{
		port:       p,
		reader:     bufio.NewReaderSize(p, maxResponseLen),
		settle:     opts.SettleDelay,
		retryDelay: opts.RetryDelay,
		cal:        map[int]calibration{},
		log:        log,
	}
}

// Request builds the query for channel.
func Request(channel int) []byte {
	return []byte(fmt.Sprintf("MEAS? (@%d)\n", channel))
}

// ParseResponse parses one response line as a temperature.
func ParseResponse(line []byte) (float64, error) {
	s := strings.TrimSpace(string(line))
	if s == "" {
		return 0, fmt.Errorf("%w: empty response", ErrTransientRead)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: malformed response %q", ErrTransientRead, s)
	}
	return v, nil
}

// Query asks for the temperature of channel. A missing or malformed first
// answer is retried once after discarding the input buffer; a second failure
// returns a *QueryError of kind ErrInstrumentUnresponsive.
func (c *HartClient) Query(ctx context.Context, channel int) (float64, error) {
	req := Request(channel)

	v, err := c.attempt(ctx, req)
	if err == nil {
		return applyCalibration(c.cal, channel, v), nil
	}
	if !errors.Is(err, ErrTransientRead) {
		return 0, fmt.Errorf("channel %d: %w", channel, err)
	}
	c.log.Warn("bad response, retrying", "channel", channel, "error", err)

	if err := sleep(ctx, c.retryDelay); err != nil {
		return 0, err
	}
	if err := c.discard(); err != nil {
		return 0, fmt.Errorf("channel %d: clear serial buffer: %w", channel, err)
	}
	if err := sleep(ctx, c.retryDelay); err != nil {
		return 0, err
	}

	v, err = c.attempt(ctx, req)
	if err == nil {
		return applyCalibration(c.cal, channel, v), nil
	}
	if errors.Is(err, ErrTransientRead) {
		return 0, &QueryError{Channel: channel, Kind: ErrInstrumentUnresponsive, Err: err}
	}
	return 0, fmt.Errorf("channel %d: %w", channel, err)
}

func (c *HartClient) attempt(ctx context.Context, req []byte) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if _, err := c.port.Write(req); err != nil {
		return 0, fmt.Errorf("write request: %w", err)
	}
	if err := sleep(ctx, c.settle); err != nil {
		return 0, err
	}
	line, err := c.reader.ReadSlice('\n')
	if err != nil {
		// a read timeout shows up as EOF (or no progress on some platforms)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrNoProgress), errors.Is(err, bufio.ErrBufferFull):
			return 0, fmt.Errorf("%w: incomplete response %q", ErrTransientRead, string(line))
		default:
			return 0, fmt.Errorf("read response: %w", err)
		}
	}
	return ParseResponse(line)
}

// discard drops unread input both in the OS buffer and in the line reader.
func (c *HartClient) discard() error {
	err := c.port.Flush()
	c.reader.Reset(c.port)
	return err
}

func (c *HartClient) Close() error {
	if c.port != nil {
		return c.port.Close()
	}
	return nil
}
