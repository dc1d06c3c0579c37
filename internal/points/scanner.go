// Package points turns the daily images of a dataset into per-point records.
package points

import (
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/pkg/errors"

	"github.com/rtm0/smap/internal/ncio"
	"github.com/rtm0/smap/internal/observability"
	"github.com/rtm0/smap/internal/smap"
)

var (
	// ErrRasterImage is returned when the dataset reader is not in flatten mode.
	ErrRasterImage = errors.New("points need flattened images")
	// ErrNoMetrics is returned by NewScanner without metrics.
	ErrNoMetrics = errors.New("scanner needs metrics")
)

// Scanner retrieves the records of a dataset one day at a time.
type Scanner struct {
	ds      *smap.Dataset
	gpis    []int
	days    []time.Time
	pos     int
	vars    []string
	recs    []Record
	read    int
	skipped int
	err     error

	// SkipFailures makes Scan log and skip days whose file exists but can not
	// be decoded. Missing days are always skipped.
	SkipFailures bool

	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewScanner creates a scanner over the days from start to end. metrics is
// required; a nil logger means slog.Default.
func NewScanner(ds *smap.Dataset, start, end time.Time, logger *slog.Logger, metrics *observability.Metrics) (*Scanner, error) {
	ro := ds.Options().Reader
	if !ro.Flatten {
		return nil, ErrRasterImage
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		return nil, ErrNoMetrics
	}
	return &Scanner{
		ds:      ds,
		gpis:    ro.Grid.ActiveGPIs(),
		days:    ds.TimestampsForRange(start, end),
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Summary returns the summary information about the scan suitable for
// logging.
func (s *Scanner) Summary() []any {
	ro := s.ds.Options().Reader
	return []any{
		"root", s.ds.Root(),
		"parameters", ro.Parameters,
		"overpass", string(ro.Overpass),
		"dayCnt", len(s.days),
		"pointCnt", len(s.gpis),
		"totalRecCnt", s.TotalRecCount(),
	}
}

// TotalRecCount returns an upper bound of the number of records: every day,
// every point. Fill values and missing days make the actual count lower.
func (s *Scanner) TotalRecCount() int {
	return len(s.days) * len(s.gpis)
}

// Scan reads the records of the next day that has an image.
func (s *Scanner) Scan() bool {
	for s.err == nil && s.pos < len(s.days) {
		ts := s.days[s.pos]
		s.pos++

		start := time.Now()
		img, err := s.ds.ReadImage(ts)
		s.metrics.ReadDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			if s.skip(ts, err) {
				continue
			}
			s.err = errors.Wrapf(err, "day %s", ts.Format(time.DateOnly))
			return false
		}
		s.metrics.ImagesRead.Inc()
		s.read++

		recs, err := s.records(img)
		if err != nil {
			s.err = errors.Wrapf(err, "day %s", ts.Format(time.DateOnly))
			return false
		}
		s.recs = recs
		s.metrics.PointsScanned.Add(float64(len(recs)))
		return true
	}
	return false
}

func (s *Scanner) skip(ts time.Time, err error) bool {
	day := ts.Format(time.DateOnly)
	if errors.Is(err, smap.ErrFileNotFound) {
		s.logger.Warn("no image for day", "day", day)
		s.metrics.DaysSkipped.WithLabelValues("missing").Inc()
		s.skipped++
		return true
	}
	if s.SkipFailures {
		s.logger.Error("skipping day", "day", day, "err", err)
		s.metrics.DaysSkipped.WithLabelValues("failed").Inc()
		s.skipped++
		return true
	}
	return false
}

func (s *Scanner) records(img *smap.Image) ([]Record, error) {
	vars := img.Variables()
	if s.vars == nil {
		s.vars = vars
	} else if !slices.Equal(s.vars, vars) {
		return nil, errors.Errorf("variables changed from %v to %v", s.vars, vars)
	}
	if len(img.Lon.Shape) != 1 {
		return nil, ErrRasterImage
	}
	if img.Lon.Len() != len(s.gpis) {
		return nil, errors.Errorf("image has %d points, grid %d", img.Lon.Len(), len(s.gpis))
	}

	fills := make([]float64, len(vars))
	for j, v := range vars {
		fills[j] = math.NaN()
		if f, ok := fillValue(img.Metadata[v]); ok {
			fills[j] = f
		}
	}

	ts := img.Timestamp.UnixMilli()
	recs := make([]Record, 0, len(s.gpis))
	for i, gpi := range s.gpis {
		values := make([]float64, len(vars))
		valid := false
		for j, v := range vars {
			x := img.Data[v].Data[i]
			values[j] = x
			if !math.IsNaN(x) && x != fills[j] {
				valid = true
			}
		}
		if !valid {
			continue
		}
		recs = append(recs, Record{
			Timestamp: ts,
			GPI:       gpi,
			Latitude:  float32(img.Lat.Data[i]),
			Longitude: float32(img.Lon.Data[i]),
			Values:    values,
		})
	}
	return recs, nil
}

// Records returns the records that have been read by the last Scan() operation.
// The function transfers ownership of records to the caller and the subsequent
// calls to this function without prior invocation of Scan() will return nil.
func (s *Scanner) Records() []Record {
	recs := s.recs
	s.recs = nil
	return recs
}

// Variables returns the names of the record values. It is nil until the
// first successful Scan.
func (s *Scanner) Variables() []string { return s.vars }

// Err returns the error that stopped the scan, if any.
func (s *Scanner) Err() error { return s.err }

// Stats returns the number of days read and skipped so far.
func (s *Scanner) Stats() (read, skipped int) { return s.read, s.skipped }

func fillValue(attrs map[string]any) (float64, bool) {
	v, ok := attrs["_FillValue"]
	if !ok {
		return 0, false
	}
	return ncio.Float64(v)
}
