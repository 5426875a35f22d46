// Package kinematics derives acceleration and braking events from consecutive
// location samples.
package kinematics

import (
	"math"
	"time"

	"github.com/jengzang/drivescore-backend-go/internal/models"
)

// Direction of a derived speed change
type Direction int

const (
	None Direction = iota
	Accelerating
	Braking
)

func (d Direction) String() string {
	switch d {
	case Accelerating:
		return "accelerating"
	case Braking:
		return "braking"
	default:
		return "none"
	}
}

// Thresholds controls which speed changes become events
type Thresholds struct {
	MinInterval    time.Duration // pairs closer than this are skipped
	NoiseFloor     float64       // m/s², magnitudes at or below are ignored
	HarshThreshold float64       // m/s², magnitudes above are harsh
}

// DefaultThresholds are the values used by the mobile tracker
var DefaultThresholds = Thresholds{
	MinInterval:    100 * time.Millisecond,
	NoiseFloor:     0.5,
	HarshThreshold: 5.0,
}

// Event is a speed change between two samples
type Event struct {
	Direction Direction
	Magnitude float64 // m/s², always positive
	Harsh     bool
	Interval  time.Duration
}

// Derive computes the event between prev and cur using DefaultThresholds
func Derive(prev, cur models.TripSample) (Event, bool) {
	return DefaultThresholds.Derive(prev, cur)
}

// Derive computes the event between prev and cur. ok is false when the pair is
// too close in time or the change is below the noise floor.
func (t Thresholds) Derive(prev, cur models.TripSample) (Event, bool) {
	interval := time.Duration(cur.Timestamp-prev.Timestamp) * time.Millisecond
	if interval <= t.MinInterval {
		return Event{}, false
	}

	accel := (cur.Speed - prev.Speed) / interval.Seconds()
	magnitude := math.Abs(accel)
	if magnitude <= t.NoiseFloor || math.IsNaN(magnitude) {
		return Event{}, false
	}

	ev := Event{
		Direction: Accelerating,
		Magnitude: magnitude,
		Harsh:     magnitude > t.HarshThreshold,
		Interval:  interval,
	}
	if accel < 0 {
		ev.Direction = Braking
	}
	return ev, true
}

// Skips reports whether the pair falls inside the minimum interval guard
func (t Thresholds) Skips(prev, cur models.TripSample) bool {
	return time.Duration(cur.Timestamp-prev.Timestamp)*time.Millisecond <= t.MinInterval
}
