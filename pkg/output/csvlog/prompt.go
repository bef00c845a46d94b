package csvlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ericogr/templog/pkg/config"
)

// WithExtension appends the log extension unless name already has it.
func WithExtension(name string) string {
	if strings.HasSuffix(name, config.LogFileExtension) {
		return name
	}
	return name + config.LogFileExtension
}

// Choose asks on out for a log file name inside dir, reading answers from in.
// A new name is opened with ModeCreate. For an existing file the user must
// pick append, overwrite or another name; nothing is chosen silently.
func Choose(in io.Reader, out io.Writer, dir string) (string, Mode, error) {
	sc := bufio.NewScanner(in)
	answer := func() (string, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		return strings.TrimSpace(sc.Text()), nil
	}

next:
	for {
		fmt.Fprintf(out, "Filename for data? The name will be automatically appended with the %s extension: ", config.LogFileExtension)
		name, err := answer()
		if err != nil {
			return "", 0, fmt.Errorf("read filename: %w", err)
		}
		if name == "" {
			fmt.Fprintln(out, "A filename is required.")
			continue
		}
		path := filepath.Join(dir, WithExtension(name))

		_, err = os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(out, "A new file will be written to: %s\n", path)
			return path, ModeCreate, nil
		}
		if err != nil {
			return "", 0, fmt.Errorf("%w: %w", ErrPersistence, err)
		}

		fmt.Fprintf(out, "Filename %s exists in %s.\n", name, dir)
		for {
			fmt.Fprint(out, "Do you want to [a]ppend, [o]verwrite, or [t]ry another filename? (a/o/t): ")
			choice, err := answer()
			if err != nil {
				return "", 0, fmt.Errorf("read choice: %w", err)
			}
			switch strings.ToLower(choice) {
			case "a", "append":
				fmt.Fprintf(out, "Data will be appended to: %s\n", path)
				return path, ModeAppend, nil
			case "o", "overwrite":
				fmt.Fprintf(out, "Data in this file will be overwritten: %s\n", path)
				return path, ModeOverwrite, nil
			case "t", "try":
				continue next
			default:
				fmt.Fprintln(out, "Not a valid response. Try again.")
			}
		}
	}
}
