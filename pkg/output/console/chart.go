package console

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/ericogr/templog/pkg/history"
	"github.com/ericogr/templog/pkg/sensor"
	"periph.io/x/conn/v3/physic"
)

var sparks = []rune("▁▂▃▄▅▆▇█")

// ChartRenderer draws the history window as one sparkline per channel, all
// sharing the vertical scale of the whole snapshot.
type ChartRenderer struct {
	w     io.Writer
	width int
}

// NewChart renders at most width points per channel; older points are
// dropped from the left.
func NewChart(w io.Writer, width int) *ChartRenderer {
	if width <= 0 {
		width = 60
	}
	return &ChartRenderer{w: w, width: width}
}

func (c *ChartRenderer) Render(s history.Snapshot) error {
	if s.Len() == 0 {
		return nil
	}
	lo, hi, ok := s.Range()

	var b strings.Builder
	first := s.Timestamps[0].Format(sensor.TimestampLayout)
	last := s.Timestamps[s.Len()-1].Format(sensor.TimestampLayout)
	fmt.Fprintf(&b, "%s .. %s (%d points)", first, last, s.Len())
	if ok {
		fmt.Fprintf(&b, " range %s .. %s", celsius(lo), celsius(hi))
	}
	b.WriteByte('\n')

	for _, ch := range s.Channels {
		series := s.Values[ch]
		if len(series) > c.width {
			series = series[len(series)-c.width:]
		}
		fmt.Fprintf(&b, "CH[%d]\t%s\t%s\n", ch, sparkline(series, lo, hi), lastValue(series))
	}
	_, err := io.WriteString(c.w, b.String())
	return err
}

func sparkline(series []float64, lo, hi float64) string {
	out := make([]rune, len(series))
	span := hi - lo
	for i, v := range series {
		switch {
		case math.IsNaN(v):
			out[i] = ' '
		case span <= 0:
			out[i] = sparks[len(sparks)/2]
		default:
			idx := int((v - lo) / span * float64(len(sparks)-1))
			out[i] = sparks[idx]
		}
	}
	return string(out)
}

func lastValue(series []float64) string {
	if len(series) == 0 || math.IsNaN(series[len(series)-1]) {
		return "--"
	}
	return celsius(series[len(series)-1])
}

// celsius formats v with periph's temperature unit formatting.
func celsius(v float64) string {
	t := physic.ZeroCelsius + physic.Temperature(v*float64(physic.Celsius))
	return t.String()
}
