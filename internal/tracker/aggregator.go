// Package tracker accumulates the statistics of a single trip from a stream of
// location samples.
package tracker

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jengzang/drivescore-backend-go/internal/kinematics"
	"github.com/jengzang/drivescore-backend-go/internal/models"
	"github.com/jengzang/drivescore-backend-go/internal/scoring"
	"github.com/jengzang/drivescore-backend-go/internal/spatial"
)

// DefaultMinDuration is the shortest trip that can be finalized for submission
const DefaultMinDuration = 5 * time.Second

// MaxTimestamp is the latest sample timestamp in Unix milliseconds. Intervals
// between valid samples fit in a time.Duration.
const MaxTimestamp = math.MaxInt64 / int64(time.Millisecond)

var (
	ErrInvalidTransition = errors.New("invalid trip state transition")
	ErrTripTooShort      = errors.New("trip too short")
	ErrInvalidSample     = errors.New("invalid location sample")
	ErrStopBeforeStart   = errors.New("stop time is before start time")
)

// State of a trip aggregator
type State int

const (
	Idle State = iota
	Tracking
	Finalized
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Tracking:
		return "tracking"
	case Finalized:
		return "finalized"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{Idle, Tracking, Finalized} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown trip state %q", text)
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithThresholds overrides the kinematic thresholds
func WithThresholds(t kinematics.Thresholds) Option {
	return func(a *Aggregator) {
		a.thresholds = t
	}
}

// WithMinDuration overrides the minimum trip duration
func WithMinDuration(d time.Duration) Option {
	return func(a *Aggregator) {
		a.minDuration = d
	}
}

// Aggregator is the Idle -> Tracking -> Finalized state machine of one trip.
// It is not safe for concurrent use.
type Aggregator struct {
	thresholds  kinematics.Thresholds
	minDuration time.Duration

	state     State
	rejected  bool
	startedAt time.Time
	stoppedAt time.Time

	ref      *models.TripSample // reference sample for kinematics
	last     *models.TripSample // last accepted position
	speedSum float64
	agg      models.TripAggregate
}

// New returns an idle aggregator
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		thresholds:  kinematics.DefaultThresholds,
		minDuration: DefaultMinDuration,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the current state
func (a *Aggregator) State() State {
	return a.state
}

// StartedAt returns the time Start was called with
func (a *Aggregator) StartedAt() time.Time {
	return a.startedAt
}

// StoppedAt returns the time Stop was called with
func (a *Aggregator) StoppedAt() time.Time {
	return a.stoppedAt
}

// LastSampleAt returns the timestamp of the last accepted sample
func (a *Aggregator) LastSampleAt() (time.Time, bool) {
	if a.last == nil {
		return time.Time{}, false
	}
	return a.last.Time(), true
}

// Rejected reports whether the trip was finalized below the minimum duration
func (a *Aggregator) Rejected() bool {
	return a.rejected
}

// Start moves the aggregator from Idle to Tracking
func (a *Aggregator) Start(at time.Time) error {
	if a.state != Idle {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, a.state)
	}
	a.state = Tracking
	a.startedAt = at
	return nil
}

// Ingest folds one sample into the aggregate
func (a *Aggregator) Ingest(s models.TripSample) error {
	if a.state != Tracking {
		return fmt.Errorf("%w: ingest in %s", ErrInvalidTransition, a.state)
	}
	if err := validate(s); err != nil {
		return err
	}

	a.agg.Samples++
	a.speedSum += s.Speed
	a.agg.AvgSpeed = a.speedSum / float64(a.agg.Samples)
	a.agg.MaxSpeed = math.Max(a.agg.MaxSpeed, s.Speed)

	if a.last != nil {
		a.agg.DistanceMeters += spatial.HaversineDistance(a.last.Latitude, a.last.Longitude, s.Latitude, s.Longitude)
	}
	sample := s
	a.last = &sample

	if a.ref == nil {
		a.ref = &sample
		return nil
	}
	if a.thresholds.Skips(*a.ref, s) {
		// keep the older reference so the next pair spans a usable interval
		return nil
	}

	ev, ok := a.thresholds.Derive(*a.ref, s)
	a.ref = &sample
	if !ok {
		return nil
	}

	switch ev.Direction {
	case kinematics.Accelerating:
		a.agg.CurrentAcceleration = ev.Magnitude
		a.agg.MaxAcceleration = math.Max(a.agg.MaxAcceleration, ev.Magnitude)
		if ev.Harsh {
			a.agg.HarshAccelerations++
		}
	case kinematics.Braking:
		a.agg.CurrentBraking = ev.Magnitude
		a.agg.MaxBraking = math.Max(a.agg.MaxBraking, ev.Magnitude)
		if ev.Harsh {
			a.agg.HarshBrakes++
		}
	}
	return nil
}

// Snapshot returns a copy of the running aggregate
func (a *Aggregator) Snapshot() models.TripAggregate {
	agg := a.agg
	switch a.state {
	case Tracking:
		agg.DurationSeconds = 0
		if a.last != nil {
			agg.DurationSeconds = math.Max(a.last.Time().Sub(a.startedAt).Seconds(), 0)
		}
	case Idle:
		agg.DurationSeconds = 0
	}
	return agg
}

// Stop moves the aggregator from Tracking to Finalized and returns the final
// aggregate. Trips shorter than the minimum duration are finalized as rejected
// and return ErrTripTooShort. A stop time before the start is refused and the
// aggregator keeps tracking.
func (a *Aggregator) Stop(at time.Time) (models.TripAggregate, error) {
	if a.state != Tracking {
		return models.TripAggregate{}, fmt.Errorf("%w: stop from %s", ErrInvalidTransition, a.state)
	}
	if at.Before(a.startedAt) {
		return models.TripAggregate{}, fmt.Errorf("%w: %s before %s", ErrStopBeforeStart,
			at.Format(time.RFC3339Nano), a.startedAt.Format(time.RFC3339Nano))
	}
	a.state = Finalized
	a.stoppedAt = at

	duration := at.Sub(a.startedAt)
	a.agg.DurationSeconds = duration.Seconds()
	if duration < a.minDuration {
		a.rejected = true
		return a.agg, fmt.Errorf("%w: %.1fs, minimum is %s", ErrTripTooShort, duration.Seconds(), a.minDuration)
	}
	return a.agg, nil
}

// Metrics returns the scoring inputs of the current aggregate
func (a *Aggregator) Metrics() scoring.Metrics {
	return MetricsOf(a.agg)
}

// MetricsOf extracts the scoring inputs from an aggregate
func MetricsOf(agg models.TripAggregate) scoring.Metrics {
	return scoring.Metrics{
		MaxAcceleration:    agg.MaxAcceleration,
		MaxBraking:         agg.MaxBraking,
		HarshAccelerations: agg.HarshAccelerations,
		HarshBrakes:        agg.HarshBrakes,
	}
}

func validate(s models.TripSample) error {
	if s.Timestamp < 0 || s.Timestamp > MaxTimestamp {
		return fmt.Errorf("%w: timestamp %d", ErrInvalidSample, s.Timestamp)
	}
	if math.IsNaN(s.Speed) || math.IsInf(s.Speed, 0) || s.Speed < 0 {
		return fmt.Errorf("%w: speed %v", ErrInvalidSample, s.Speed)
	}
	if !spatial.ValidCoordinate(s.Latitude, s.Longitude) {
		return fmt.Errorf("%w: position %v,%v", ErrInvalidSample, s.Latitude, s.Longitude)
	}
	return nil
}
