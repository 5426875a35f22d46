// Package submission posts completed trips to the rental backend.
package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jengzang/drivescore-backend-go/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrSubmissionFailed wraps every failed submission. Submissions are not retried.
var ErrSubmissionFailed = errors.New("trip submission failed")

const scorePath = "/api/trips/driving-score"

// Client submits trips with one POST per trip
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the backend at baseURL
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Submit posts the trip and returns the backend's receipt
func (c *Client) Submit(ctx context.Context, trip models.TripSubmission) (*models.SubmissionReceipt, error) {
	body, err := json.Marshal(trip)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrSubmissionFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+scorePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Warn().
			Str("trip_id", trip.TripID).
			Int("status", resp.StatusCode).
			Msg("Backend rejected trip submission")
		return nil, fmt.Errorf("%w: status %d: %s", ErrSubmissionFailed, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var receipt models.SubmissionReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("%w: decode receipt: %v", ErrSubmissionFailed, err)
	}

	log.Debug().
		Str("trip_id", trip.TripID).
		Int("points", receipt.Points).
		Str("rating", receipt.Rating).
		Msg("Trip submitted")
	return &receipt, nil
}
