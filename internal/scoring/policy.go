// Package scoring reduces trip extrema and harsh-event counts to a 0-100 safety score.
package scoring

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPolicy is returned when a policy name cannot be parsed
var ErrUnknownPolicy = errors.New("unknown scoring policy")

// Policy selects a penalty table
type Policy int

const (
	Standard Policy = iota
	Conservative
)

const baseScore = 100

// Rating labels
const (
	RatingExcellent = "Excellent"
	RatingGood      = "Good"
	RatingFair      = "Fair"
	RatingPoor      = "Poor"
)

// bucket is a magnitude threshold and the penalty applied above it
type bucket struct {
	above   float64
	penalty int
}

type table struct {
	// ordered from the highest threshold down
	buckets      []bucket
	harshPenalty int
}

var tables = map[Policy]table{
	Standard: {
		buckets:      []bucket{{7.0, 30}, {5.0, 20}, {3.5, 10}},
		harshPenalty: 5,
	},
	Conservative: {
		buckets:      []bucket{{6.0, 40}, {4.0, 25}, {2.5, 15}},
		harshPenalty: 8,
	},
}

// Metrics are the finalized trip values a policy scores
type Metrics struct {
	MaxAcceleration    float64 `json:"max_acceleration"`
	MaxBraking         float64 `json:"max_braking"`
	HarshAccelerations int     `json:"harsh_accelerations"`
	HarshBrakes        int     `json:"harsh_brakes"`
}

// Result is the outcome of scoring a trip
type Result struct {
	Score  int    `json:"score"`
	Rating string `json:"rating"`
	Policy Policy `json:"policy"`
}

// ParsePolicy converts a policy name to a Policy. The empty string is Standard.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "standard":
		return Standard, nil
	case "conservative":
		return Conservative, nil
	}
	return Standard, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}

func (p Policy) String() string {
	switch p {
	case Standard:
		return "standard"
	case Conservative:
		return "conservative"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// MarshalText implements encoding.TextMarshaler
func (p Policy) MarshalText() ([]byte, error) {
	if _, ok := tables[p]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPolicy, int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Policy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Score computes the 0-100 score for m. Unknown policies score as Standard.
func (p Policy) Score(m Metrics) int {
	t, ok := tables[p]
	if !ok {
		t = tables[Standard]
	}

	harsh := max(m.HarshAccelerations, 0) + max(m.HarshBrakes, 0)
	score := baseScore - t.penalty(m.MaxAcceleration) - t.penalty(m.MaxBraking) - harsh*t.harshPenalty
	return max(score, 0)
}

// Evaluate scores m and attaches the rating label
func (p Policy) Evaluate(m Metrics) Result {
	score := p.Score(m)
	return Result{Score: score, Rating: Rating(score), Policy: p}
}

func (t table) penalty(magnitude float64) int {
	for _, b := range t.buckets {
		if magnitude > b.above {
			return b.penalty
		}
	}
	return 0
}

// Rating returns the qualitative label for a score
func Rating(score int) string {
	switch {
	case score >= 90:
		return RatingExcellent
	case score >= 75:
		return RatingGood
	case score >= 50:
		return RatingFair
	default:
		return RatingPoor
	}
}
