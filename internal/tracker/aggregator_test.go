package tracker

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/drivescore-backend-go/internal/models"
	"github.com/jengzang/drivescore-backend-go/internal/scoring"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func at(offset time.Duration, speed float64) models.TripSample {
	return models.TripSample{
		Timestamp: t0.Add(offset).UnixMilli(),
		Speed:     speed,
		Latitude:  41.3851,
		Longitude: 2.1734 + offset.Seconds()*0.0001,
	}
}

func mustIngest(t *testing.T, a *Aggregator, samples ...models.TripSample) {
	t.Helper()
	for _, s := range samples {
		require.NoError(t, a.Ingest(s), "ingest %+v", s)
	}
}

func TestTransitions(t *testing.T) {
	a := New()
	require.Equal(t, Idle, a.State())

	assert.ErrorIs(t, a.Ingest(at(0, 1)), ErrInvalidTransition, "ingest while idle")
	_, err := a.Stop(t0)
	assert.ErrorIs(t, err, ErrInvalidTransition, "stop while idle")

	require.NoError(t, a.Start(t0))
	assert.ErrorIs(t, a.Start(t0), ErrInvalidTransition, "double start")

	_, err = a.Stop(t0.Add(10 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, Finalized, a.State())

	assert.ErrorIs(t, a.Start(t0), ErrInvalidTransition, "restart after finalize")
	assert.ErrorIs(t, a.Ingest(at(time.Second, 1)), ErrInvalidTransition, "ingest after finalize")
}

func TestTripTooShort(t *testing.T) {
	a := New()
	require.NoError(t, a.Start(t0))
	mustIngest(t, a, at(0, 0), at(time.Second, 8), at(2*time.Second, 0))

	agg, err := a.Stop(t0.Add(3 * time.Second))
	assert.ErrorIs(t, err, ErrTripTooShort)
	assert.True(t, a.Rejected())
	assert.Equal(t, Finalized, a.State())
	assert.Equal(t, 3, agg.Samples)
}

func TestStopBeforeStartKeepsTracking(t *testing.T) {
	a := New()
	require.NoError(t, a.Start(t0))

	_, err := a.Stop(t0.Add(-time.Second))
	assert.ErrorIs(t, err, ErrStopBeforeStart)
	assert.Equal(t, Tracking, a.State())
	assert.False(t, a.Rejected())

	agg, err := a.Stop(t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 60.0, agg.DurationSeconds)
}

func TestMinDurationOption(t *testing.T) {
	a := New(WithMinDuration(time.Minute))
	require.NoError(t, a.Start(t0))
	_, err := a.Stop(t0.Add(30 * time.Second))
	assert.ErrorIs(t, err, ErrTripTooShort)
}

func TestAggregate(t *testing.T) {
	a := New()
	require.NoError(t, a.Start(t0))
	mustIngest(t, a,
		at(0, 0),
		at(1*time.Second, 6),                     // +6 harsh acceleration
		at(1*time.Second+50*time.Millisecond, 30), // inside guard, skipped for kinematics
		at(2*time.Second, 10),                    // +4 against the 1s sample
		at(3*time.Second, 10.3),                  // noise
		at(4*time.Second, 3),                     // -7.3 harsh braking
		at(5*time.Second, 1),                     // -2
	)

	agg, err := a.Stop(t0.Add(6 * time.Second))
	require.NoError(t, err)

	assert.Equal(t, 7, agg.Samples)
	assert.Equal(t, 30.0, agg.MaxSpeed)
	assert.InDelta(t, (0+6+30+10+10.3+3+1)/7.0, agg.AvgSpeed, 1e-9)
	assert.Equal(t, 6.0, agg.MaxAcceleration)
	assert.InDelta(t, 7.3, agg.MaxBraking, 1e-9)
	assert.Equal(t, 4.0, agg.CurrentAcceleration)
	assert.Equal(t, 2.0, agg.CurrentBraking)
	assert.Equal(t, 1, agg.HarshAccelerations)
	assert.Equal(t, 1, agg.HarshBrakes)
	assert.Equal(t, 6.0, agg.DurationSeconds)
	assert.Positive(t, agg.DistanceMeters)

	// accel 6 -> 20, braking 7.3 -> 30, two harsh events -> 10
	assert.Equal(t, 40, scoring.Standard.Evaluate(a.Metrics()).Score)
}

func TestInvalidSampleLeavesAggregateUnchanged(t *testing.T) {
	a := New()
	require.NoError(t, a.Start(t0))
	mustIngest(t, a, at(0, 5))
	before := a.Snapshot()

	ts := t0.Add(time.Second).UnixMilli()
	bad := []models.TripSample{
		{Timestamp: ts, Speed: -1},
		{Timestamp: ts, Speed: math.NaN()},
		{Timestamp: ts, Speed: 3, Latitude: 95},
		{Timestamp: -1, Speed: 3},
		{Timestamp: MaxTimestamp + 1, Speed: 3},
		{Timestamp: math.MaxInt64, Speed: 3},
	}
	for _, s := range bad {
		assert.ErrorIs(t, a.Ingest(s), ErrInvalidSample, "sample %+v", s)
	}
	assert.Equal(t, before, a.Snapshot())
}

func TestFarApartTimestampsDoNotOverflow(t *testing.T) {
	a := New()
	require.NoError(t, a.Start(time.UnixMilli(0)))
	mustIngest(t, a,
		models.TripSample{Timestamp: 0, Speed: 0},
		models.TripSample{Timestamp: MaxTimestamp, Speed: 50},
	)

	agg := a.Snapshot()
	// a tiny positive acceleration, never a sign flip into braking
	assert.Zero(t, agg.MaxBraking)
	assert.Zero(t, agg.HarshBrakes)
	assert.Positive(t, agg.DurationSeconds)
}

func TestInvariantsOnRandomStream(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := New()
	require.NoError(t, a.Start(t0))

	var prev models.TripAggregate
	offset := time.Duration(0)
	speed := 10.0
	for i := 0; i < 2000; i++ {
		offset += time.Duration(rng.Intn(1500)) * time.Millisecond
		speed = math.Max(0, speed+rng.NormFloat64()*4)
		mustIngest(t, a, at(offset, speed))

		cur := a.Snapshot()
		require.GreaterOrEqual(t, cur.MaxSpeed, prev.MaxSpeed, "sample %d", i)
		require.GreaterOrEqual(t, cur.MaxAcceleration, prev.MaxAcceleration, "sample %d", i)
		require.GreaterOrEqual(t, cur.MaxBraking, prev.MaxBraking, "sample %d", i)
		require.LessOrEqual(t, cur.HarshAccelerations+cur.HarshBrakes, cur.Samples)
		require.GreaterOrEqual(t, cur.DistanceMeters, prev.DistanceMeters)
		prev = cur
	}
}

func TestSnapshotDuringTracking(t *testing.T) {
	a := New()
	require.NoError(t, a.Start(t0))
	mustIngest(t, a, at(0, 1), at(4*time.Second, 1))
	assert.Equal(t, 4.0, a.Snapshot().DurationSeconds)

	last, ok := a.LastSampleAt()
	require.True(t, ok)
	assert.True(t, last.Equal(t0.Add(4*time.Second)))
}
