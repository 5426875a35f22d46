package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jengzang/drivescore-backend-go/internal/models"
	"github.com/jengzang/drivescore-backend-go/internal/scoring"
	"github.com/jengzang/drivescore-backend-go/internal/stats"
	"github.com/jengzang/drivescore-backend-go/internal/tracker"
	"github.com/rs/zerolog/log"
)

var (
	ErrLocationPermission = errors.New("location permission required to start tracking")
	ErrTripNotFound       = errors.New("trip not found")
	ErrInvalidStopTime    = errors.New("invalid stop time")
)

// TripStore persists submitted trips
type TripStore interface {
	Create(ctx context.Context, t *models.Trip) error
	GetTrips(ctx context.Context, filter models.TripFilter) ([]models.Trip, int64, error)
	GetTripByID(ctx context.Context, id string) (*models.Trip, error)
	ScoresForDriver(ctx context.Context, driverID string) ([]int, error)
}

// Submitter delivers a completed trip to the rental backend
type Submitter interface {
	Submit(ctx context.Context, trip models.TripSubmission) (*models.SubmissionReceipt, error)
}

// StartTripRequest opens a tracking session
type StartTripRequest struct {
	DriverID           string `json:"-"`
	CarID              string `json:"car_id"`
	LocationPermission bool   `json:"location_permission"`
	Policy             string `json:"policy"`     // optional override of the configured policy
	StartedAt          int64  `json:"started_at"` // device Unix milliseconds, defaults to the server clock
}

// TripSession is the externally visible state of an active trip
type TripSession struct {
	ID        string               `json:"id"`
	DriverID  string               `json:"driver_id"`
	CarID     string               `json:"car_id,omitempty"`
	State     tracker.State        `json:"state"`
	Policy    scoring.Policy       `json:"policy"`
	StartedAt int64                `json:"started_at"`
	Aggregate models.TripAggregate `json:"aggregate"`
}

// SamplesResult reports how a batch of samples was applied
type SamplesResult struct {
	Accepted  int                  `json:"accepted"`
	Rejected  int                  `json:"rejected"`
	Aggregate models.TripAggregate `json:"aggregate"`
}

// TripResult is the outcome of a finalized and submitted trip
type TripResult struct {
	Trip    models.Trip              `json:"trip"`
	Score   scoring.Result           `json:"score"`
	Receipt models.SubmissionReceipt `json:"receipt"`
}

type session struct {
	mu       sync.Mutex
	id       string
	driverID string
	carID    string
	policy   scoring.Policy
	agg      *tracker.Aggregator
	lastSeen time.Time

	// deviceClock is set when the trip was started on the device clock
	deviceClock bool
}

func (s *session) view() TripSession {
	return TripSession{
		ID:        s.id,
		DriverID:  s.driverID,
		CarID:     s.carID,
		State:     s.agg.State(),
		Policy:    s.policy,
		StartedAt: s.agg.StartedAt().UnixMilli(),
		Aggregate: s.agg.Snapshot(),
	}
}

// TripServiceOption configures a TripService
type TripServiceOption func(*TripService)

// WithClock replaces time.Now
func WithClock(now func() time.Time) TripServiceOption {
	return func(s *TripService) {
		s.now = now
	}
}

// WithMinTripDuration overrides the minimum trip duration
func WithMinTripDuration(d time.Duration) TripServiceOption {
	return func(s *TripService) {
		s.minDuration = d
	}
}

// WithPolicy sets the default scoring policy
func WithPolicy(p scoring.Policy) TripServiceOption {
	return func(s *TripService) {
		s.policy = p
	}
}

// TripService handles tracking sessions and submitted trips
type TripService struct {
	store       TripStore
	submitter   Submitter
	policy      scoring.Policy
	minDuration time.Duration
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewTripService creates a new trip service
func NewTripService(store TripStore, submitter Submitter, opts ...TripServiceOption) *TripService {
	s := &TripService{
		store:       store,
		submitter:   submitter,
		policy:      scoring.Standard,
		minDuration: tracker.DefaultMinDuration,
		now:         time.Now,
		sessions:    make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartTrip opens a new tracking session
func (s *TripService) StartTrip(ctx context.Context, req StartTripRequest) (*TripSession, error) {
	if !req.LocationPermission {
		return nil, ErrLocationPermission
	}

	policy := s.policy
	if req.Policy != "" {
		p, err := scoring.ParsePolicy(req.Policy)
		if err != nil {
			return nil, err
		}
		policy = p
	}

	startedAt := s.now()
	if req.StartedAt > 0 {
		startedAt = time.UnixMilli(req.StartedAt)
	}

	agg := tracker.New(tracker.WithMinDuration(s.minDuration))
	if err := agg.Start(startedAt); err != nil {
		return nil, err
	}

	sess := &session{
		id:       uuid.NewString(),
		driverID: req.DriverID,
		carID:    req.CarID,
		policy:   policy,
		agg:      agg,
		lastSeen: s.now(),

		deviceClock: req.StartedAt > 0,
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	log.Info().
		Str("trip_id", sess.id).
		Str("driver_id", sess.driverID).
		Str("policy", policy.String()).
		Msg("Trip tracking started")

	view := sess.view()
	return &view, nil
}

// AddSamples ingests samples in order. Invalid samples are counted and skipped.
func (s *TripService) AddSamples(ctx context.Context, driverID, tripID string, samples []models.TripSample) (*SamplesResult, error) {
	sess, err := s.lookup(driverID, tripID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	result := &SamplesResult{}
	for _, sample := range samples {
		err := sess.agg.Ingest(sample)
		switch {
		case err == nil:
			result.Accepted++
		case errors.Is(err, tracker.ErrInvalidSample):
			result.Rejected++
			log.Debug().Err(err).Str("trip_id", tripID).Msg("Dropped location sample")
		default:
			// the session was finalized by a concurrent stop
			return nil, fmt.Errorf("%w: %v", ErrTripNotFound, err)
		}
	}
	sess.lastSeen = s.now()
	result.Aggregate = sess.agg.Snapshot()
	return result, nil
}

// GetSession returns the live state of an active trip
func (s *TripService) GetSession(ctx context.Context, driverID, tripID string) (*TripSession, error) {
	sess, err := s.lookup(driverID, tripID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	view := sess.view()
	return &view, nil
}

// StopTrip finalizes the trip, scores it and submits it once. The session is
// discarded whatever the outcome, unless the stop time is invalid.
//
// stoppedAt is device Unix milliseconds and is only accepted when the trip was
// started with a device timestamp. When it is 0 the trip stops at its last
// sample on the device clock, or at the current time on the server clock.
func (s *TripService) StopTrip(ctx context.Context, driverID, tripID string, stoppedAt int64) (*TripResult, error) {
	sess, err := s.lookup(driverID, tripID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	at, err := s.stopTime(sess, stoppedAt)
	if err != nil {
		return nil, err
	}
	if _, err := s.take(driverID, tripID); err != nil {
		// stopped or evicted while waiting for the session
		return nil, err
	}

	agg, err := sess.agg.Stop(at)
	if err != nil {
		log.Info().Err(err).Str("trip_id", tripID).Msg("Trip rejected")
		return nil, err
	}

	score := sess.policy.Evaluate(tracker.MetricsOf(agg))
	submission := models.TripSubmission{
		TripID:        sess.id,
		DriverID:      sess.driverID,
		CarID:         sess.carID,
		StartTime:     sess.agg.StartedAt().UnixMilli(),
		EndTime:       at.UnixMilli(),
		TripAggregate: agg,
		Policy:        score.Policy.String(),
		Score:         score.Score,
		Rating:        score.Rating,
	}

	receipt, err := s.submitter.Submit(ctx, submission)
	if err != nil {
		log.Error().Err(err).Str("trip_id", tripID).Msg("Trip submission failed")
		return nil, err
	}

	trip := models.Trip{
		ID:            submission.TripID,
		DriverID:      submission.DriverID,
		CarID:         submission.CarID,
		StartTime:     submission.StartTime,
		EndTime:       submission.EndTime,
		TripAggregate: agg,
		Policy:        submission.Policy,
		Score:         score.Score,
		Rating:        score.Rating,
		AwardedPoints: receipt.Points,
		BackendRating: receipt.Rating,
	}
	if err := s.store.Create(ctx, &trip); err != nil {
		// already accepted by the backend, the local history just misses it
		log.Error().Err(err).Str("trip_id", tripID).Msg("Failed to record submitted trip")
	}

	log.Info().
		Str("trip_id", tripID).
		Int("score", score.Score).
		Int("points", receipt.Points).
		Msg("Trip submitted")

	return &TripResult{Trip: trip, Score: score, Receipt: *receipt}, nil
}

func (s *TripService) stopTime(sess *session, stoppedAt int64) (time.Time, error) {
	startedAt := sess.agg.StartedAt()

	var at time.Time
	switch {
	case stoppedAt < 0:
		return time.Time{}, fmt.Errorf("%w: %d", ErrInvalidStopTime, stoppedAt)
	case stoppedAt > 0 && !sess.deviceClock:
		return time.Time{}, fmt.Errorf("%w: stopped_at requires a trip started with started_at", ErrInvalidStopTime)
	case stoppedAt > 0:
		at = time.UnixMilli(stoppedAt)
	case sess.deviceClock:
		at = startedAt
		if last, ok := sess.agg.LastSampleAt(); ok && last.After(at) {
			at = last
		}
	default:
		at = s.now()
	}

	if at.Before(startedAt) {
		return time.Time{}, fmt.Errorf("%w: stopped_at %d is before started_at %d",
			ErrInvalidStopTime, at.UnixMilli(), startedAt.UnixMilli())
	}
	return at, nil
}

// CancelTrip discards an active trip without submitting it
func (s *TripService) CancelTrip(ctx context.Context, driverID, tripID string) error {
	if _, err := s.take(driverID, tripID); err != nil {
		return err
	}
	log.Info().Str("trip_id", tripID).Msg("Trip cancelled")
	return nil
}

// ActiveTrips returns the number of open sessions
func (s *TripService) ActiveTrips() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Preview scores metrics without a trip. An empty policy name uses the default.
func (s *TripService) Preview(m scoring.Metrics, policyName string) (scoring.Result, error) {
	policy := s.policy
	if policyName != "" {
		p, err := scoring.ParsePolicy(policyName)
		if err != nil {
			return scoring.Result{}, err
		}
		policy = p
	}
	return policy.Evaluate(m), nil
}

// ListTrips retrieves submitted trips with filtering and pagination
func (s *TripService) ListTrips(ctx context.Context, filter models.TripFilter) (*models.TripsResponse, error) {
	filter.Normalize()
	trips, total, err := s.store.GetTrips(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to get trips: %w", err)
	}

	totalPages := int(total) / filter.PageSize
	if int(total)%filter.PageSize > 0 {
		totalPages++
	}

	return &models.TripsResponse{
		Data:       trips,
		Total:      total,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalPages: totalPages,
	}, nil
}

// GetTrip retrieves a submitted trip owned by driverID
func (s *TripService) GetTrip(ctx context.Context, driverID, tripID string) (*models.Trip, error) {
	trip, err := s.store.GetTripByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip == nil || trip.DriverID != driverID {
		return nil, ErrTripNotFound
	}
	return trip, nil
}

// DriverSummary summarizes every recorded score of a driver
func (s *TripService) DriverSummary(ctx context.Context, driverID string) (stats.ScoreSummary, error) {
	scores, err := s.store.ScoresForDriver(ctx, driverID)
	if err != nil {
		return stats.ScoreSummary{}, err
	}
	return stats.Summarize(scores), nil
}

// RunJanitor evicts sessions that received nothing for maxIdle until ctx is done
func (s *TripService) RunJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(maxIdle); n > 0 {
				log.Info().Int("evicted", n).Msg("Evicted idle trips")
			}
		}
	}
}

// EvictIdle discards sessions idle for longer than maxIdle
func (s *TripService) EvictIdle(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, sess := range s.sessions {
		if !sess.mu.TryLock() {
			continue
		}
		idle := sess.lastSeen.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

func (s *TripService) lookup(driverID, tripID string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tripID]
	if !ok || sess.driverID != driverID {
		return nil, ErrTripNotFound
	}
	return sess, nil
}

func (s *TripService) take(driverID, tripID string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tripID]
	if !ok || sess.driverID != driverID {
		return nil, ErrTripNotFound
	}
	delete(s.sessions, tripID)
	return sess, nil
}
