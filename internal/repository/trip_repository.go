package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jengzang/drivescore-backend-go/internal/models"
)

const tripColumns = `id, driver_id, car_id, start_time, end_time, duration_seconds,
		distance_meters, max_speed, avg_speed, max_acceleration, max_braking,
		harsh_accelerations, harsh_brakes, samples,
		policy, score, rating, awarded_points, backend_rating, created_at`

// TripRepository handles database operations for trips
type TripRepository struct {
	db *sql.DB
}

// NewTripRepository creates a new trip repository
func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{db: db}
}

// Create stores a submitted trip
func (r *TripRepository) Create(ctx context.Context, t *models.Trip) error {
	query := `INSERT INTO trips (id, driver_id, car_id, start_time, end_time, duration_seconds,
		distance_meters, max_speed, avg_speed, max_acceleration, max_braking,
		harsh_accelerations, harsh_brakes, samples,
		policy, score, rating, awarded_points, backend_rating, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.DriverID, t.CarID, t.StartTime, t.EndTime, t.DurationSeconds,
		t.DistanceMeters, t.MaxSpeed, t.AvgSpeed, t.MaxAcceleration, t.MaxBraking,
		t.HarshAccelerations, t.HarshBrakes, t.Samples,
		t.Policy, t.Score, t.Rating, t.AwardedPoints, t.BackendRating, t.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trip: %w", err)
	}
	return nil
}

// GetTrips retrieves trips with filtering and pagination
func (r *TripRepository) GetTrips(ctx context.Context, filter models.TripFilter) ([]models.Trip, int64, error) {
	var conditions []string
	var args []interface{}

	if filter.DriverID != "" {
		conditions = append(conditions, "driver_id = ?")
		args = append(args, filter.DriverID)
	}
	if filter.StartTime > 0 {
		conditions = append(conditions, "start_time >= ?")
		args = append(args, filter.StartTime)
	}
	if filter.EndTime > 0 {
		conditions = append(conditions, "end_time <= ?")
		args = append(args, filter.EndTime)
	}
	if filter.Policy != "" {
		conditions = append(conditions, "policy = ?")
		args = append(args, filter.Policy)
	}
	if filter.MinScore > 0 {
		conditions = append(conditions, "score >= ?")
		args = append(args, filter.MinScore)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trips"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count trips: %w", err)
	}

	filter.Normalize()
	query := "SELECT " + tripColumns + " FROM trips" + where + " ORDER BY start_time DESC LIMIT ? OFFSET ?"
	args = append(args, filter.PageSize, filter.Offset())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	trips := []models.Trip{}
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, 0, err
		}
		trips = append(trips, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate trips: %w", err)
	}

	return trips, total, nil
}

// GetTripByID retrieves a single trip by ID
func (r *TripRepository) GetTripByID(ctx context.Context, id string) (*models.Trip, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+tripColumns+" FROM trips WHERE id = ?", id)
	t, err := scanTrip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ScoresForDriver returns every recorded score of a driver, oldest first
func (r *TripRepository) ScoresForDriver(ctx context.Context, driverID string) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT score FROM trips WHERE driver_id = ? ORDER BY start_time", driverID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	var scores []int
	for rows.Next() {
		var s int
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrip(s scanner) (*models.Trip, error) {
	var t models.Trip
	var createdAt int64
	err := s.Scan(
		&t.ID, &t.DriverID, &t.CarID, &t.StartTime, &t.EndTime, &t.DurationSeconds,
		&t.DistanceMeters, &t.MaxSpeed, &t.AvgSpeed, &t.MaxAcceleration, &t.MaxBraking,
		&t.HarshAccelerations, &t.HarshBrakes, &t.Samples,
		&t.Policy, &t.Score, &t.Rating, &t.AwardedPoints, &t.BackendRating, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan trip: %w", err)
	}
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &t, nil
}
