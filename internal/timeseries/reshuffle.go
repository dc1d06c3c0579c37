package timeseries

import (
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/rtm0/smap/internal/grid"
	"github.com/rtm0/smap/internal/ncio"
	"github.com/rtm0/smap/internal/smap"
)

// ImageSource yields the daily images of a date range. *smap.Dataset is one.
type ImageSource interface {
	Iterate(start, end time.Time, fn func(ts time.Time, img *smap.Image, err error) error) error
}

// ReshuffleStats summarises a Reshuffle run.
type ReshuffleStats struct {
	Days    int
	Skipped int
	Cells   int
}

// Reshuffle turns the images of a date range into per-cell time series files
// plus the grid file in outDir. The images must be flattened and read with g.
// Missing days are skipped; any other read failure aborts.
func Reshuffle(src ImageSource, g *grid.CellGrid, start, end time.Time, outDir string, logger *slog.Logger) (ReshuffleStats, error) {
	var stats ReshuffleStats
	if logger == nil {
		logger = slog.Default()
	}

	n := g.Len()
	var (
		vars  []string
		days  []float64
		attrs map[string]map[string]any
		data  = map[string][][]float32{}
	)
	err := src.Iterate(start, end, func(ts time.Time, img *smap.Image, err error) error {
		day := ts.Format(time.DateOnly)
		if errors.Is(err, smap.ErrFileNotFound) {
			logger.Warn("no image for day", "day", day)
			stats.Skipped++
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "day %s", day)
		}
		if img.Lon.Len() != n || len(img.Lon.Shape) != 1 {
			return errors.Errorf("day %s: image of shape %v does not match %d grid points", day, img.Lon.Shape, n)
		}
		if vars == nil {
			vars = img.Variables()
			attrs = img.Metadata
			for _, v := range vars {
				data[v] = make([][]float32, n)
			}
		}
		for _, v := range vars {
			a, ok := img.Data[v]
			if !ok {
				return errors.Errorf("day %s: variable %q missing", day, v)
			}
			for i, x := range a.Data {
				data[v][i] = append(data[v][i], float32(x))
			}
		}
		days = append(days, ts.Sub(epoch1900).Hours()/24)
		stats.Days++
		logger.Debug("image buffered", "day", day)
		return nil
	})
	if err != nil {
		return stats, err
	}
	if stats.Days == 0 {
		return stats, errors.Wrapf(ErrNoImages, "%s to %s", start.Format(time.DateOnly), end.Format(time.DateOnly))
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return stats, errors.Wrapf(err, "create %s", outDir)
	}
	if err := g.Save(filepath.Join(outDir, DefaultGridFile)); err != nil {
		return stats, err
	}

	index := make(map[int]int, n)
	for i, gpi := range g.ActiveGPIs() {
		index[gpi] = i
	}
	out := NewGriddedTs(outDir, g, Options{})
	for _, cell := range g.Cells() {
		gpis := g.GPIsInCell(cell)
		rows := make([]int, len(gpis))
		for i, gpi := range gpis {
			rows[i] = index[gpi]
		}
		if err := writeCell(out.CellPath(cell), g, gpis, rows, days, vars, data, attrs); err != nil {
			return stats, err
		}
		stats.Cells++
	}
	logger.Info("reshuffle done", "days", stats.Days, "skipped", stats.Skipped, "cells", stats.Cells, "out", outDir)
	return stats, nil
}

func writeCell(path string, g *grid.CellGrid, gpis, rows []int, days []float64, vars []string, data map[string][][]float32, attrs map[string]map[string]any) error {
	ids := make([]int32, len(gpis))
	lons := make([]float64, len(gpis))
	lats := make([]float64, len(gpis))
	for i, gpi := range gpis {
		ids[i] = int32(gpi)
		lons[i], lats[i], _ = g.LonLat(gpi)
	}

	w, err := ncio.Create(path)
	if err != nil {
		return err
	}
	loc := []string{locationDim}
	if err := w.AddVar("location_id", ids, loc, nil); err != nil {
		w.Close()
		return err
	}
	if err := w.AddVar("lon", lons, loc, map[string]any{"units": "degrees_east"}); err != nil {
		w.Close()
		return err
	}
	if err := w.AddVar("lat", lats, loc, map[string]any{"units": "degrees_north"}); err != nil {
		w.Close()
		return err
	}
	if err := w.AddVar("time", days, []string{timeDim}, map[string]any{"units": TimeUnits}); err != nil {
		w.Close()
		return err
	}
	for _, v := range vars {
		values := make([][]float32, len(rows))
		for i, r := range rows {
			values[i] = data[v][r]
		}
		if err := w.AddVar(v, values, []string{locationDim, timeDim}, cellAttrs(attrs[v])); err != nil {
			w.Close()
			return err
		}
	}
	if err := w.AddGlobalAttrs(map[string]any{"featureType": "timeSeries"}); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// cellAttrs keeps the attributes a classic netCDF file can hold. Value range
// attributes are stored as float32 to match the data.
func cellAttrs(in map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		f, ok := ncio.Float64(v)
		if !ok || math.IsInf(f, 0) {
			continue
		}
		switch k {
		case "_FillValue", "valid_min", "valid_max":
			out[k] = float32(f)
		default:
			out[k] = f
		}
	}
	return out
}
