package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/drivescore-backend-go/internal/models"
	"github.com/jengzang/drivescore-backend-go/internal/scoring"
	"github.com/jengzang/drivescore-backend-go/internal/submission"
	"github.com/jengzang/drivescore-backend-go/internal/tracker"
)

type memoryStore struct {
	mu    sync.Mutex
	trips []models.Trip
}

func (m *memoryStore) Create(ctx context.Context, t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips = append(m.trips, *t)
	return nil
}

func (m *memoryStore) GetTrips(ctx context.Context, filter models.TripFilter) ([]models.Trip, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Trip
	for _, t := range m.trips {
		if filter.DriverID == "" || t.DriverID == filter.DriverID {
			out = append(out, t)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memoryStore) GetTripByID(ctx context.Context, id string) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trips {
		if t.ID == id {
			trip := t
			return &trip, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) ScoresForDriver(ctx context.Context, driverID string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var scores []int
	for _, t := range m.trips {
		if t.DriverID == driverID {
			scores = append(scores, t.Score)
		}
	}
	return scores, nil
}

type fakeSubmitter struct {
	calls []models.TripSubmission
	err   error
}

func (f *fakeSubmitter) Submit(ctx context.Context, trip models.TripSubmission) (*models.SubmissionReceipt, error) {
	f.calls = append(f.calls, trip)
	if f.err != nil {
		return nil, f.err
	}
	return &models.SubmissionReceipt{Points: trip.Score / 5, Rating: "SAFE"}, nil
}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(opts ...TripServiceOption) (*TripService, *memoryStore, *fakeSubmitter, *clock) {
	store := &memoryStore{}
	sub := &fakeSubmitter{}
	clk := &clock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	opts = append([]TripServiceOption{WithClock(clk.now)}, opts...)
	return NewTripService(store, sub, opts...), store, sub, clk
}

func samplesFrom(start time.Time, speeds ...float64) []models.TripSample {
	out := make([]models.TripSample, len(speeds))
	for i, v := range speeds {
		out[i] = models.TripSample{
			Timestamp: start.Add(time.Duration(i) * time.Second).UnixMilli(),
			Speed:     v,
			Latitude:  41.39,
			Longitude: 2.16 + float64(i)*0.0002,
		}
	}
	return out
}

func TestStartRequiresPermission(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.StartTrip(context.Background(), StartTripRequest{DriverID: "d1"})
	assert.ErrorIs(t, err, ErrLocationPermission)
	assert.Zero(t, svc.ActiveTrips(), "session opened without permission")
}

func TestStartUnknownPolicy(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.StartTrip(context.Background(), StartTripRequest{DriverID: "d1", LocationPermission: true, Policy: "lenient"})
	assert.ErrorIs(t, err, scoring.ErrUnknownPolicy)
}

func TestFullTrip(t *testing.T) {
	ctx := context.Background()
	svc, store, sub, clk := newTestService()

	sess, err := svc.StartTrip(ctx, StartTripRequest{DriverID: "d1", CarID: "car-9", LocationPermission: true})
	require.NoError(t, err)
	assert.Equal(t, tracker.Tracking, sess.State)
	assert.Equal(t, scoring.Standard, sess.Policy)

	// 0 -> 6 m/s in one second is a harsh acceleration of 6 m/s²
	batch := samplesFrom(clk.t, 0, 6, 8, 9, 9, 8, 6)
	batch = append(batch, models.TripSample{Timestamp: clk.t.UnixMilli(), Speed: -3})
	res, err := svc.AddSamples(ctx, "d1", sess.ID, batch)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Accepted)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 1, res.Aggregate.HarshAccelerations)

	clk.advance(7 * time.Second)
	out, err := svc.StopTrip(ctx, "d1", sess.ID, 0)
	require.NoError(t, err)
	// 100 - 20 (accel 6) - 0 (braking 2) - 5 (one harsh) = 75
	assert.Equal(t, 75, out.Score.Score)
	assert.Equal(t, scoring.RatingGood, out.Score.Rating)
	assert.Equal(t, 15, out.Receipt.Points)
	assert.Equal(t, 15, out.Trip.AwardedPoints)

	require.Len(t, sub.calls, 1)
	assert.Equal(t, "car-9", sub.calls[0].CarID)
	assert.Equal(t, "standard", sub.calls[0].Policy)
	require.Len(t, store.trips, 1)
	assert.Equal(t, 7.0, store.trips[0].DurationSeconds)
	assert.Zero(t, svc.ActiveTrips(), "session not discarded")

	_, err = svc.StopTrip(ctx, "d1", sess.ID, 0)
	assert.ErrorIs(t, err, ErrTripNotFound)

	trip, err := svc.GetTrip(ctx, "d1", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 75, trip.Score)
	_, err = svc.GetTrip(ctx, "someone-else", sess.ID)
	assert.ErrorIs(t, err, ErrTripNotFound)
}

func TestShortTripIsNeverSubmitted(t *testing.T) {
	ctx := context.Background()
	svc, store, sub, clk := newTestService()

	sess, err := svc.StartTrip(ctx, StartTripRequest{DriverID: "d1", LocationPermission: true})
	require.NoError(t, err)
	_, err = svc.AddSamples(ctx, "d1", sess.ID, samplesFrom(clk.t, 0, 3, 6))
	require.NoError(t, err)

	clk.advance(3 * time.Second)
	_, err = svc.StopTrip(ctx, "d1", sess.ID, 0)
	assert.ErrorIs(t, err, tracker.ErrTripTooShort)
	assert.Empty(t, sub.calls)
	assert.Empty(t, store.trips)
	assert.Zero(t, svc.ActiveTrips(), "rejected session kept")
}

func TestSubmissionFailureDiscardsTrip(t *testing.T) {
	ctx := context.Background()
	svc, store, sub, clk := newTestService(WithPolicy(scoring.Conservative))
	sub.err = submission.ErrSubmissionFailed

	sess, err := svc.StartTrip(ctx, StartTripRequest{DriverID: "d1", LocationPermission: true})
	require.NoError(t, err)
	clk.advance(time.Minute)

	_, err = svc.StopTrip(ctx, "d1", sess.ID, 0)
	assert.ErrorIs(t, err, submission.ErrSubmissionFailed)
	require.Len(t, sub.calls, 1, "expected exactly one attempt")
	assert.Equal(t, "conservative", sub.calls[0].Policy)
	assert.Empty(t, store.trips)
	assert.Zero(t, svc.ActiveTrips())
}

func TestExplicitTimestamps(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newTestService()
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	sess, err := svc.StartTrip(ctx, StartTripRequest{DriverID: "d1", LocationPermission: true, StartedAt: start.UnixMilli()})
	require.NoError(t, err)
	_, err = svc.StopTrip(ctx, "d1", sess.ID, start.Add(90*time.Second).UnixMilli())
	require.NoError(t, err)

	require.Len(t, store.trips, 1)
	assert.Equal(t, start.UnixMilli(), store.trips[0].StartTime)
	assert.Equal(t, 90.0, store.trips[0].DurationSeconds)
}

func TestDeviceClockTripStopsAtLastSample(t *testing.T) {
	ctx := context.Background()
	svc, store, _, clk := newTestService()

	// device clock runs 20s ahead of the server
	deviceStart := clk.t.Add(20 * time.Second)
	sess, err := svc.StartTrip(ctx, StartTripRequest{DriverID: "d1", LocationPermission: true, StartedAt: deviceStart.UnixMilli()})
	require.NoError(t, err)

	res, err := svc.AddSamples(ctx, "d1", sess.ID, samplesFrom(deviceStart, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5))
	require.NoError(t, err)
	assert.Equal(t, 9.0, res.Aggregate.DurationSeconds)

	clk.advance(10 * time.Second)
	out, err := svc.StopTrip(ctx, "d1", sess.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 9.0, out.Trip.DurationSeconds)
	assert.Equal(t, deviceStart.Add(9*time.Second).UnixMilli(), out.Trip.EndTime)
	assert.Len(t, store.trips, 1)
}

func TestInvalidStopTimeKeepsSession(t *testing.T) {
	ctx := context.Background()
	svc, _, sub, clk := newTestService()
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	device, err := svc.StartTrip(ctx, StartTripRequest{DriverID: "d1", LocationPermission: true, StartedAt: start.UnixMilli()})
	require.NoError(t, err)
	server, err := svc.StartTrip(ctx, StartTripRequest{DriverID: "d1", LocationPermission: true})
	require.NoError(t, err)

	tests := []struct {
		name      string
		tripID    string
		stoppedAt int64
	}{
		{"before start", device.ID, start.Add(-time.Second).UnixMilli()},
		{"negative", device.ID, -1},
		{"device stop on server clock", server.ID, clk.t.Add(time.Minute).UnixMilli()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.StopTrip(ctx, "d1", tt.tripID, tt.stoppedAt)
			assert.ErrorIs(t, err, ErrInvalidStopTime)
		})
	}
	assert.Equal(t, 2, svc.ActiveTrips())
	assert.Empty(t, sub.calls)

	_, err = svc.StopTrip(ctx, "d1", device.ID, start.Add(time.Minute).UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, 1, svc.ActiveTrips())
}

func TestDeviceClockTripWithoutSamplesIsTooShort(t *testing.T) {
	ctx := context.Background()
	svc, _, sub, clk := newTestService()

	sess, err := svc.StartTrip(ctx, StartTripRequest{DriverID: "d1", LocationPermission: true, StartedAt: clk.t.UnixMilli()})
	require.NoError(t, err)
	clk.advance(time.Minute)

	_, err = svc.StopTrip(ctx, "d1", sess.ID, 0)
	assert.ErrorIs(t, err, tracker.ErrTripTooShort)
	assert.Empty(t, sub.calls)
}

func TestSessionsAreScopedToDriver(t *testing.T) {
	ctx := context.Background()
	svc, _, _, clk := newTestService()
	sess, err := svc.StartTrip(ctx, StartTripRequest{DriverID: "d1", LocationPermission: true})
	require.NoError(t, err)

	_, err = svc.AddSamples(ctx, "d2", sess.ID, samplesFrom(clk.t, 1))
	assert.ErrorIs(t, err, ErrTripNotFound)
	assert.ErrorIs(t, svc.CancelTrip(ctx, "d2", sess.ID), ErrTripNotFound)

	_, err = svc.GetSession(ctx, "d1", sess.ID)
	require.NoError(t, err)
	require.NoError(t, svc.CancelTrip(ctx, "d1", sess.ID))

	_, err = svc.GetSession(ctx, "d1", sess.ID)
	assert.ErrorIs(t, err, ErrTripNotFound, "cancelled session still visible")
}

func TestEvictIdle(t *testing.T) {
	ctx := context.Background()
	svc, _, _, clk := newTestService()
	stale, err := svc.StartTrip(ctx, StartTripRequest{DriverID: "d1", LocationPermission: true})
	require.NoError(t, err)
	clk.advance(20 * time.Minute)
	fresh, err := svc.StartTrip(ctx, StartTripRequest{DriverID: "d1", LocationPermission: true})
	require.NoError(t, err)
	clk.advance(15 * time.Minute)

	assert.Equal(t, 1, svc.EvictIdle(30*time.Minute))

	_, err = svc.GetSession(ctx, "d1", stale.ID)
	assert.ErrorIs(t, err, ErrTripNotFound, "stale session survived")
	_, err = svc.GetSession(ctx, "d1", fresh.ID)
	assert.NoError(t, err, "fresh session evicted")
}

func TestRunJanitorStopsOnCancel(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunJanitor(ctx, time.Millisecond, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestPreviewAndSummary(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newTestService()

	res, err := svc.Preview(scoring.Metrics{MaxAcceleration: 6, MaxBraking: 3, HarshAccelerations: 1}, "")
	require.NoError(t, err)
	assert.Equal(t, 75, res.Score)
	res, err = svc.Preview(scoring.Metrics{MaxAcceleration: 3}, "conservative")
	require.NoError(t, err)
	assert.Equal(t, 85, res.Score)

	store.trips = []models.Trip{{ID: "a", DriverID: "d1", Score: 80}, {ID: "b", DriverID: "d1", Score: 60}, {ID: "c", DriverID: "d2", Score: 10}}
	sum, err := svc.DriverSummary(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Count)
	assert.Equal(t, 70.0, sum.Mean)

	page, err := svc.ListTrips(ctx, models.TripFilter{DriverID: "d1", PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, 1, page.Page)
}
