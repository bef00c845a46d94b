package console

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ericogr/templog/pkg/output"
	"github.com/ericogr/templog/pkg/sensor"
)

type ConsoleOutput struct {
	w io.Writer
}

func NewConsole() output.Output { return NewConsoleWriter(os.Stdout) }

func NewConsoleWriter(w io.Writer) output.Output { return &ConsoleOutput{w: w} }

func (c *ConsoleOutput) Publish(r sensor.Round) error {
	var b strings.Builder
	b.WriteString(r.Timestamp.Format(sensor.TimestampLayout))
	for _, rd := range r.Readings {
		if rd.Missing {
			fmt.Fprintf(&b, " CH[%d]=--", rd.Channel)
			continue
		}
		fmt.Fprintf(&b, " CH[%d]=%.3f", rd.Channel, rd.Value)
	}
	b.WriteByte('\n')
	_, err := io.WriteString(c.w, b.String())
	return err
}

func (c *ConsoleOutput) Close() error { return nil }
