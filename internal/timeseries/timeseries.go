// Package timeseries reads and writes soil moisture time series stored as one
// netCDF file per grid cell.
//
// A cell file holds every grid point of the cell along a "locations"
// dimension and the observation days along a "time" dimension:
//
//	location_id(locations) int32
//	lon(locations), lat(locations) float64
//	time(time) float64, days since 1900-01-01
//	<parameter>(locations, time) float32
package timeseries

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	locationDim = "locations"
	timeDim     = "time"

	// TimeUnits are the units written for the time variable.
	TimeUnits = "days since 1900-01-01 00:00:00"
)

var (
	ErrCellNotFound = errors.New("no time series file for cell")
	ErrNoImages     = errors.New("no images in range")
)

var epoch1900 = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// TimeSeries is the record of one grid point.
type TimeSeries struct {
	GPI      int
	Lon, Lat float64
	// Data holds one value per day for each parameter. Fill values are NaN.
	Data  map[string][]float64
	Attrs map[string]map[string]any

	days  []float64
	epoch time.Time
	dates []time.Time
}

// Len returns the number of days.
func (t *TimeSeries) Len() int { return len(t.days) }

// Days returns the raw time axis in days since the file's epoch.
func (t *TimeSeries) Days() []float64 { return t.days }

// Dates decodes the time axis on first use.
func (t *TimeSeries) Dates() []time.Time {
	if t.dates == nil && len(t.days) > 0 {
		t.dates = make([]time.Time, len(t.days))
		for i, d := range t.days {
			t.dates[i] = t.epoch.Add(time.Duration(math.Round(d * float64(24*time.Hour))))
		}
	}
	return t.dates
}

// Variables returns the sorted parameter names.
func (t *TimeSeries) Variables() []string {
	names := make([]string, 0, len(t.Data))
	for n := range t.Data {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// parseTimeUnits parses "days since <date>[ <time>]".
func parseTimeUnits(units string) (time.Time, error) {
	if units == "" {
		return epoch1900, nil
	}
	ref, ok := strings.CutPrefix(units, "days since ")
	if !ok {
		return time.Time{}, errors.Errorf("unsupported time units %q", units)
	}
	ref = strings.TrimSpace(ref)
	for _, layout := range []string{time.DateTime, time.DateOnly, "2006-1-2 15:4:5", "2006-1-2"} {
		if t, err := time.ParseInLocation(layout, ref, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("unsupported time units %q", units)
}
