// Package sensor reads the board's I²C sensors and fans samples out to the
// rest of the daemon on a fixed poll clock.
package sensor

import (
	"context"
	"time"
)

// Sample is one successful sensor read. Seq is monotonically increasing per
// source, derived from the read timestamp.
type Sample struct {
	Source    string             `json:"source"`
	Fields    map[string]float64 `json:"fields"`
	Timestamp time.Time          `json:"timestamp"`
	Seq       int64              `json:"seq"`
}

// Reader is one physical sensor. Read must respect the context deadline and
// return all fields the sensor's kind declares.
type Reader interface {
	ID() string
	Read(ctx context.Context) (map[string]float64, error)
}
