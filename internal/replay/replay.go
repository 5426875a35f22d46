// Package replay runs recorded sample files through the trip pipeline.
package replay

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jengzang/drivescore-backend-go/internal/location"
	"github.com/jengzang/drivescore-backend-go/internal/models"
	"github.com/jengzang/drivescore-backend-go/internal/scoring"
	"github.com/jengzang/drivescore-backend-go/internal/tracker"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// Options for a replay run
type Options struct {
	Policy      scoring.Policy
	MinDuration time.Duration
	Concurrency int
	DriverID    string

	// Submitter, when set, receives every accepted trip
	Submitter interface {
		Submit(ctx context.Context, trip models.TripSubmission) (*models.SubmissionReceipt, error)
	}
}

// Result of replaying one recording
type Result struct {
	Name      string                    `json:"name"`
	Aggregate models.TripAggregate      `json:"aggregate"`
	Score     scoring.Result            `json:"score"`
	Rejected  bool                      `json:"rejected"`
	Reason    string                    `json:"reason,omitempty"`
	Receipt   *models.SubmissionReceipt `json:"receipt,omitempty"`
}

// Run replays samples as one trip starting at the first sample and stopping at
// the last one
func Run(name string, samples []models.TripSample, opts Options) (Result, error) {
	res := Result{Name: name}
	if len(samples) == 0 {
		res.Rejected = true
		res.Reason = "no samples"
		return res, nil
	}

	minDuration := opts.MinDuration
	if minDuration == 0 {
		minDuration = tracker.DefaultMinDuration
	}
	agg := tracker.New(tracker.WithMinDuration(minDuration))
	if err := agg.Start(samples[0].Time()); err != nil {
		return res, err
	}

	dropped := 0
	for _, s := range samples {
		if err := agg.Ingest(s); err != nil {
			dropped++
		}
	}
	if dropped > 0 {
		log.Warn().Str("trip", name).Int("dropped", dropped).Msg("Dropped invalid samples")
	}

	final, err := agg.Stop(samples[len(samples)-1].Time())
	res.Aggregate = final
	if err != nil {
		res.Rejected = true
		res.Reason = err.Error()
		return res, nil
	}

	res.Score = opts.Policy.Evaluate(tracker.MetricsOf(final))
	return res, nil
}

// Files replays every CSV recording concurrently, preserving input order
func Files(ctx context.Context, paths []string, opts Options) ([]Result, error) {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 4
	}

	p := pool.NewWithResults[Result]().WithContext(ctx).WithMaxGoroutines(concurrency)
	results := make([]Result, len(paths))
	for i, path := range paths {
		p.Go(func(ctx context.Context) (Result, error) {
			samples, err := location.ReadCSVFile(path)
			if err != nil {
				return Result{}, err
			}

			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			res, err := Run(name, samples, opts)
			if err != nil {
				return Result{}, fmt.Errorf("%s: %w", path, err)
			}

			if opts.Submitter != nil && !res.Rejected {
				receipt, err := opts.Submitter.Submit(ctx, submissionFor(res, samples, opts.DriverID))
				if err != nil {
					return Result{}, fmt.Errorf("%s: %w", path, err)
				}
				res.Receipt = receipt
			}

			results[i] = res
			return res, nil
		})
	}

	if _, err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func submissionFor(res Result, samples []models.TripSample, driverID string) models.TripSubmission {
	return models.TripSubmission{
		TripID:        res.Name,
		DriverID:      driverID,
		StartTime:     samples[0].Timestamp,
		EndTime:       samples[len(samples)-1].Timestamp,
		TripAggregate: res.Aggregate,
		Policy:        res.Score.Policy.String(),
		Score:         res.Score.Score,
		Rating:        res.Score.Rating,
	}
}
