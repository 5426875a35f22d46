package models

import "time"

// TripSample is one location update delivered while a trip is being tracked
type TripSample struct {
	Timestamp int64   `json:"timestamp" csv:"timestamp_ms"` // Unix milliseconds
	Speed     float64 `json:"speed" csv:"speed"`            // m/s
	Latitude  float64 `json:"latitude" csv:"latitude"`
	Longitude float64 `json:"longitude" csv:"longitude"`
}

// Time returns the sample timestamp as time.Time
func (s TripSample) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// TripAggregate holds the running summary statistics of a single trip
type TripAggregate struct {
	MaxSpeed            float64 `json:"max_speed"`             // m/s
	AvgSpeed            float64 `json:"avg_speed"`             // m/s
	MaxAcceleration     float64 `json:"max_acceleration"`      // m/s²
	MaxBraking          float64 `json:"max_braking"`           // m/s², absolute value
	CurrentAcceleration float64 `json:"current_acceleration"`  // last accepted acceleration
	CurrentBraking      float64 `json:"current_braking"`       // last accepted braking
	HarshAccelerations  int     `json:"harsh_accelerations"`
	HarshBrakes         int     `json:"harsh_brakes"`
	DistanceMeters      float64 `json:"distance_meters"`
	DurationSeconds     float64 `json:"duration_seconds"`
	Samples             int     `json:"samples"`
}

// Trip is a finalized, scored and submitted trip
type Trip struct {
	ID       string `json:"id" db:"id"`
	DriverID string `json:"driver_id" db:"driver_id"`
	CarID    string `json:"car_id,omitempty" db:"car_id"`

	// Temporal info
	StartTime int64 `json:"start_time" db:"start_time"` // Unix milliseconds
	EndTime   int64 `json:"end_time" db:"end_time"`     // Unix milliseconds

	TripAggregate

	// Scoring
	Policy string `json:"policy" db:"policy"`
	Score  int    `json:"score" db:"score"`
	Rating string `json:"rating" db:"rating"`

	// Backend receipt
	AwardedPoints int    `json:"awarded_points" db:"awarded_points"`
	BackendRating string `json:"backend_rating,omitempty" db:"backend_rating"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TripSubmission is the document posted to the rental backend for a completed trip
type TripSubmission struct {
	TripID    string `json:"trip_id"`
	DriverID  string `json:"driver_id"`
	CarID     string `json:"car_id,omitempty"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`

	TripAggregate

	Policy string `json:"policy"`
	Score  int    `json:"score"`
	Rating string `json:"rating"`
}

// SubmissionReceipt is the backend's answer to a trip submission
type SubmissionReceipt struct {
	Points int    `json:"points"`
	Rating string `json:"rating"`
}

// TripsResponse represents a paginated response of trips
type TripsResponse struct {
	Data       []Trip `json:"data"`
	Total      int64  `json:"total"`
	Page       int    `json:"page"`
	PageSize   int    `json:"pageSize"`
	TotalPages int    `json:"totalPages"`
}
