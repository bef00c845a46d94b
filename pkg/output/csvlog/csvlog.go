// Package csvlog persists every sampling round to a comma separated log file.
// Unlike the in-memory history the file keeps the full record of the run.
package csvlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ericogr/templog/pkg/config"
	"github.com/ericogr/templog/pkg/sensor"
)

// HeaderLabel names the timestamp column.
const HeaderLabel = "Temperature (deg. C)"

var (
	// ErrFileConflict is returned when a fresh log was requested but the file
	// already exists. Only an explicit append or overwrite resolves it.
	ErrFileConflict = errors.New("log file already exists")

	// ErrPersistence wraps every failure to open or write the log file.
	ErrPersistence = errors.New("log file not writable")
)

type Mode int

const (
	// ModeAppend adds rows to an existing file, writing a header only when
	// the file is new or empty.
	ModeAppend Mode = iota
	// ModeOverwrite truncates the file and starts again with a header.
	ModeOverwrite
	// ModeCreate writes a new file and refuses to touch an existing one.
	ModeCreate
)

func (m Mode) String() string {
	switch m {
	case ModeAppend:
		return config.LogModeAppend
	case ModeOverwrite:
		return config.LogModeOverwrite
	case ModeCreate:
		return config.LogModeCreate
	}
	return "unknown"
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case config.LogModeAppend:
		return ModeAppend, nil
	case config.LogModeOverwrite:
		return ModeOverwrite, nil
	case config.LogModeCreate:
		return ModeCreate, nil
	}
	return 0, fmt.Errorf("unknown log file mode %q", s)
}

// Header returns the header row for channels in order.
func Header(channels []int) []string {
	header := make([]string, 0, len(channels)+1)
	header = append(header, HeaderLabel)
	for _, ch := range channels {
		header = append(header, fmt.Sprintf("CH[%d]", ch))
	}
	return header
}

// Row formats one data row. NaN values are written as empty fields.
func Row(ts time.Time, values []float64) []string {
	row := make([]string, 0, len(values)+1)
	row = append(row, ts.Format(sensor.TimestampLayout))
	for _, v := range values {
		if math.IsNaN(v) {
			row = append(row, "")
			continue
		}
		row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
	}
	return row
}

// Writer appends rounds to the log file. The channel order is fixed when the
// writer is opened.
type Writer struct {
	mu         sync.Mutex
	path       string
	mode       Mode
	channels   []int
	file       *os.File
	csv        *csv.Writer
	needHeader bool
	truncate   bool
	rows       uint64
	log        *slog.Logger
}

// Open opens path according to mode. Any failure other than a conflict in
// ModeCreate wraps ErrPersistence.
func Open(path string, mode Mode, channels []int, log *slog.Logger) (*Writer, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var flags int
	needHeader := true
	switch mode {
	case ModeAppend:
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		st, err := os.Stat(path)
		switch {
		case err == nil:
			needHeader = st.Size() == 0
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	case ModeOverwrite:
		// truncated by the first WriteRound
		flags = os.O_WRONLY | os.O_CREATE
	case ModeCreate:
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	default:
		return nil, fmt.Errorf("unknown log file mode %d", mode)
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if mode == ModeCreate && errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileConflict, path)
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	log.Info("data log open", "path", path, "mode", mode.String(), "header", needHeader)
	return &Writer{
		path:       path,
		mode:       mode,
		channels:   append([]int(nil), channels...),
		file:       f,
		csv:        csv.NewWriter(f),
		needHeader: needHeader,
		truncate:   mode == ModeOverwrite,
		log:        log,
	}, nil
}

// WriteRound appends one row with values in the writer's channel order,
// preceded by the header if this file still needs one. The row is flushed to
// the file before returning.
func (w *Writer) WriteRound(ts time.Time, values []float64) error {
	if len(values) != len(w.channels) {
		return fmt.Errorf("round has %d values for %d channels", len(values), len(w.channels))
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("%w: %s is closed", ErrPersistence, w.path)
	}
	if w.truncate {
		if err := w.file.Truncate(0); err != nil {
			return fmt.Errorf("%w: truncate: %w", ErrPersistence, err)
		}
		if _, err := w.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("%w: truncate: %w", ErrPersistence, err)
		}
		w.truncate = false
	}
	if w.needHeader {
		if err := w.csv.Write(Header(w.channels)); err != nil {
			return fmt.Errorf("%w: header: %w", ErrPersistence, err)
		}
	}
	if err := w.csv.Write(Row(ts, values)); err != nil {
		return fmt.Errorf("%w: row: %w", ErrPersistence, err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	w.needHeader = false
	w.rows++
	return nil
}

// Publish writes a round, mapping its readings onto the writer's channels.
// Channels the round has no value for are left empty.
func (w *Writer) Publish(r sensor.Round) error {
	byChannel := r.Values()
	values := make([]float64, len(w.channels))
	for i, ch := range w.channels {
		v, ok := byChannel[ch]
		if !ok {
			v = math.NaN()
		}
		values[i] = v
	}
	return w.WriteRound(r.Timestamp, values)
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	w.csv.Flush()
	err := errors.Join(w.csv.Error(), w.file.Close())
	w.file = nil
	w.log.Info("data log closed", "path", w.path, "rows", w.rows)
	return err
}

// Rows returns the number of data rows written by this writer.
func (w *Writer) Rows() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

func (w *Writer) Path() string { return w.path }

func (w *Writer) Channels() []int { return append([]int(nil), w.channels...) }
