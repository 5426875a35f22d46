// Package location reads recorded location samples for replay.
package location

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/gocarina/gocsv"
	"github.com/jengzang/drivescore-backend-go/internal/models"
)

// ReadCSV parses samples with the header timestamp_ms,speed,latitude,longitude.
// The result is ordered by timestamp.
func ReadCSV(r io.Reader) ([]models.TripSample, error) {
	var samples []models.TripSample
	if err := gocsv.Unmarshal(r, &samples); err != nil {
		return nil, fmt.Errorf("failed to parse samples: %w", err)
	}

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp < samples[j].Timestamp
	})
	return samples, nil
}

// ReadCSVFile opens path and parses it with ReadCSV
func ReadCSVFile(path string) ([]models.TripSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	samples, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return samples, nil
}
