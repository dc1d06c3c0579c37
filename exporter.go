package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/rtm0/smap/internal/config"
	"github.com/rtm0/smap/internal/grid"
	"github.com/rtm0/smap/internal/kafka"
	"github.com/rtm0/smap/internal/observability"
	"github.com/rtm0/smap/internal/points"
	"github.com/rtm0/smap/internal/smap"
	"github.com/rtm0/smap/internal/staging"
	"github.com/rtm0/smap/internal/timeseries"
	"github.com/rtm0/smap/internal/vm"
)

var (
	mode  = flag.String("mode", "export", "export: send point records to the sink; reshuffle: write time series cell files")
	start = flag.String("start", "", "first day to read, YYYY-MM-DD. Default: the end day")
	end   = flag.String("end", "", "last day to read, YYYY-MM-DD. Default: yesterday (UTC)")
	out   = flag.String("out", "", "output directory of the reshuffle mode")
)

// sink receives the records of the export mode.
type sink interface {
	Name() string
	Insert(ctx context.Context, vars []string, recs []points.Record) error
	Close() error
}

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Could not load config", "err", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	first, last, err := dateRange(clockwork.NewRealClock(), *start, *end)
	if err != nil {
		logger.Error("Invalid date range", "err", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *observability.Server
	if cfg.HTTPAddr != "" {
		srv = observability.NewServer(cfg.HTTPAddr, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "err", err)
			}
		}()
	}

	if err := run(ctx, cfg, first, last, logger, metrics); err != nil {
		logger.Error("Run failed", "mode", *mode, "err", err)
		shutdown(srv, cfg.ShutdownTimeout, logger)
		os.Exit(1)
	}
	shutdown(srv, cfg.ShutdownTimeout, logger)
}

func run(ctx context.Context, cfg *config.Config, first, last time.Time, logger *slog.Logger, metrics *observability.Metrics) error {
	ds, g, err := newDataset(cfg, logger)
	if err != nil {
		return err
	}
	if cfg.S3Bucket != "" {
		if err := stage(ctx, cfg, ds, first, last, logger); err != nil {
			return err
		}
	}

	metrics.ExportRunning.Set(1)
	defer metrics.ExportRunning.Set(0)

	switch *mode {
	case "export":
		s, err := newSink(cfg, logger)
		if err != nil {
			return err
		}
		defer s.Close()
		return export(ctx, cfg, ds, s, first, last, logger, metrics)
	case "reshuffle":
		if *out == "" {
			return errors.New("-out is required in reshuffle mode")
		}
		stats, err := timeseries.Reshuffle(ds, g, first, last, *out, logger)
		metrics.CellsWritten.Add(float64(stats.Cells))
		return err
	}
	return errors.Errorf("unknown mode %q", *mode)
}

// dateRange parses the -start and -end flags. end defaults to yesterday and
// start to end.
func dateRange(clock clockwork.Clock, startDay, endDay string) (time.Time, time.Time, error) {
	today := clock.Now().UTC().Truncate(24 * time.Hour)
	last := today.Add(-24 * time.Hour)
	if endDay != "" {
		t, err := time.Parse(time.DateOnly, endDay)
		if err != nil {
			return time.Time{}, time.Time{}, errors.Wrap(err, "-end")
		}
		last = t
	}
	first := last
	if startDay != "" {
		t, err := time.Parse(time.DateOnly, startDay)
		if err != nil {
			return time.Time{}, time.Time{}, errors.Wrap(err, "-start")
		}
		first = t
	}
	if first.After(last) {
		return time.Time{}, time.Time{}, errors.Errorf("start %s is after end %s", first.Format(time.DateOnly), last.Format(time.DateOnly))
	}
	return first, last, nil
}

// newDataset builds the dataset and the grid it is read with. Images are
// always flattened since both modes work per grid point.
func newDataset(cfg *config.Config, logger *slog.Logger) (*smap.Dataset, *grid.CellGrid, error) {
	var (
		g   *grid.CellGrid
		err error
	)
	if cfg.GridPath != "" {
		g, err = grid.Load(cfg.GridPath)
	} else {
		g, err = smap.DefaultGrid()
	}
	if err != nil {
		return nil, nil, err
	}
	if b := cfg.BBox; b != nil {
		if g, err = g.SubgridFromBBox(b[0], b[1], b[2], b[3]); err != nil {
			return nil, nil, err
		}
	}

	policy, err := smap.ParseMatchPolicy(cfg.MultiMatch)
	if err != nil {
		return nil, nil, err
	}
	opts := smap.DefaultDatasetOptions()
	opts.SubpathFormats = cfg.SubpathFormats
	opts.CRID = cfg.CRID
	opts.MultiMatch = policy
	opts.Reader.Parameters = cfg.Parameters
	opts.Reader.Overpass = smap.Overpass(cfg.Overpass)
	opts.Reader.OverpassSuffix = cfg.OverpassSuffix
	opts.Reader.Grid = g
	opts.Reader.Flatten = true
	opts.Reader.Logger = logger

	ds, err := smap.NewDataset(cfg.DataPath, opts)
	if err != nil {
		return nil, nil, err
	}
	return ds, g, nil
}

func newSink(cfg *config.Config, logger *slog.Logger) (sink, error) {
	if cfg.Sink == "kafka" {
		return kafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger), nil
	}
	return vm.NewClient(logger, cfg.VMInsertURL, cfg.Concurrency, cfg.MetricPrefix)
}

func stage(ctx context.Context, cfg *config.Config, ds *smap.Dataset, first, last time.Time, logger *slog.Logger) error {
	api, err := staging.NewS3(cfg.AWSRegion)
	if err != nil {
		return err
	}
	st := staging.New(api, cfg.S3Bucket, cfg.S3Prefix, ds.Root(), logger)
	for _, ts := range ds.TimestampsForRange(first, last) {
		if _, err := st.StageDay(ctx, ds, ts); err != nil {
			return err
		}
	}
	return nil
}

type batch struct {
	vars []string
	recs []points.Record
}

func export(ctx context.Context, cfg *config.Config, ds *smap.Dataset, s sink, first, last time.Time, logger *slog.Logger, metrics *observability.Metrics) error {
	sc, err := points.NewScanner(ds, first, last, logger, metrics)
	if err != nil {
		return err
	}
	sc.SkipFailures = cfg.SkipFailures
	logger.Info("SMAP summary", sc.Summary()...)

	recsCh := make(chan batch)
	progressCh := make(chan int)
	var wg sync.WaitGroup
	for range cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range recsCh {
				n := len(b.recs)
				for i := 0; i < n; i += cfg.RecsPerInsert {
					limit := min(i+cfg.RecsPerInsert, n)
					if err := s.Insert(ctx, b.vars, b.recs[i:limit]); err != nil {
						metrics.InsertErrors.WithLabelValues(s.Name()).Inc()
						continue
					}
					metrics.RecordsExported.WithLabelValues(s.Name()).Add(float64(limit - i))
				}
				progressCh <- n
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		var inserted, total float64
		total = float64(sc.TotalRecCount())
		begin := time.Now()
		for n := range progressCh {
			inserted += float64(n)
			percent := fmt.Sprintf("%.2f%%", 100*inserted/total)
			duration := time.Since(begin).Round(1 * time.Second)
			logger.Info("progress", "inserted", percent, "in", duration)
		}
	}()

	for ctx.Err() == nil && sc.Scan() {
		recsCh <- batch{vars: sc.Variables(), recs: sc.Records()}
	}
	close(recsCh)
	wg.Wait()
	close(progressCh)
	<-done

	read, skipped := sc.Stats()
	logger.Info("export done", "daysRead", read, "daysSkipped", skipped)
	if err := sc.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

func shutdown(srv *observability.Server, timeout time.Duration, logger *slog.Logger) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
}
