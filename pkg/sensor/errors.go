package sensor

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientRead marks a single missing, malformed or unparsable
	// response. The client recovers from it with one retry.
	ErrTransientRead = errors.New("transient read error")

	// ErrInstrumentUnresponsive marks a channel that failed both the first
	// attempt and the retry within one query.
	ErrInstrumentUnresponsive = errors.New("instrument unresponsive")
)

// QueryError describes a failed channel query. It matches both its Kind and
// the underlying cause with errors.Is.
type QueryError struct {
	Channel int
	Kind    error
	Err     error
}

func (e *QueryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("channel %d: %v", e.Channel, e.Kind)
	}
	return fmt.Sprintf("channel %d: %v: %v", e.Channel, e.Kind, e.Err)
}

func (e *QueryError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsUnresponsive reports whether err means the channel gave no usable answer
// after the retry, as opposed to a link or cancellation failure.
func IsUnresponsive(err error) bool {
	return errors.Is(err, ErrInstrumentUnresponsive)
}
