package output

import (
	"github.com/ericogr/templog/pkg/history"
	"github.com/ericogr/templog/pkg/sensor"
)

// Output consumes every completed sampling round.
type Output interface {
	Publish(sensor.Round) error
	Close() error
}

// Renderer draws the in-memory history after each round.
type Renderer interface {
	Render(history.Snapshot) error
}

// helper constructors are in subpackages
