package timeseries

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/pkg/errors"

	"github.com/rtm0/smap/internal/grid"
	"github.com/rtm0/smap/internal/ncio"
)

// Options configure how time series are read.
type Options struct {
	// Parameters to read; nil reads every (locations, time) variable.
	Parameters []string
	// Offsets and ScaleFactors turn stored values into physical ones:
	// value*scale + offset. Parameters without an entry are left alone.
	Offsets      map[string]float64
	ScaleFactors map[string]float64
	// ReadBulk loads a whole cell on first access and serves later reads of
	// the cell from memory.
	ReadBulk bool
	// ReadDates decodes the time axis while reading instead of on first
	// call to TimeSeries.Dates.
	ReadDates bool
	// CellFormat names the cell files; defaults to "%04d.nc".
	CellFormat string
	Logger     *slog.Logger
}

// GriddedTs reads time series from a directory of cell files.
type GriddedTs struct {
	path string
	grid *grid.CellGrid
	opts Options

	mu    sync.Mutex
	cache map[int]*cellData
}

// cellData is the content of a cell file held in memory by ReadBulk.
type cellData struct {
	rows  map[int]int
	days  []float64
	epoch time.Time
	data  map[string][][]float64
	attrs map[string]map[string]any
}

// NewGriddedTs binds a directory of cell files to the grid that describes it.
func NewGriddedTs(path string, g *grid.CellGrid, opts Options) *GriddedTs {
	if opts.CellFormat == "" {
		opts.CellFormat = "%04d.nc"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &GriddedTs{path: path, grid: g, opts: opts, cache: map[int]*cellData{}}
}

// Grid returns the grid of the time series.
func (e *GriddedTs) Grid() *grid.CellGrid { return e.grid }

// CellPath returns the file holding a cell.
func (e *GriddedTs) CellPath(cell int) string {
	return filepath.Join(e.path, fmt.Sprintf(e.opts.CellFormat, cell))
}

// ReadTsAt reads the time series of the grid point nearest to lon/lat.
func (e *GriddedTs) ReadTsAt(lon, lat float64) (*TimeSeries, error) {
	gpi, dist, err := e.grid.Nearest(lon, lat)
	if err != nil {
		return nil, err
	}
	e.opts.Logger.Debug("nearest grid point", "lon", lon, "lat", lat, "gpi", gpi, "dist", dist)
	return e.ReadTs(gpi)
}

// ReadTs reads the time series of a grid point.
func (e *GriddedTs) ReadTs(gpi int) (*TimeSeries, error) {
	cell, err := e.grid.Cell(gpi)
	if err != nil {
		return nil, err
	}
	lon, lat, err := e.grid.LonLat(gpi)
	if err != nil {
		return nil, err
	}

	var ts *TimeSeries
	if e.opts.ReadBulk {
		ts, err = e.readCached(cell, gpi)
	} else {
		ts, err = e.readRow(cell, gpi)
	}
	if err != nil {
		return nil, err
	}
	ts.GPI, ts.Lon, ts.Lat = gpi, lon, lat
	e.calibrate(ts)
	if e.opts.ReadDates {
		ts.Dates()
	}
	return ts, nil
}

// Close drops the cell cache.
func (e *GriddedTs) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = map[int]*cellData{}
	return nil
}

func (e *GriddedTs) open(cell int) (api.Group, error) {
	path := e.CellPath(cell)
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(ErrCellNotFound, "cell %d: %s", cell, path)
	}
	return ncio.Open(path)
}

// header reads the location and time axes of an open cell file.
func header(nc api.Group) (rows map[int]int, days []float64, epoch time.Time, err error) {
	ids, err := ncio.Ints(nc, "location_id")
	if err != nil {
		return nil, nil, time.Time{}, err
	}
	rows = make(map[int]int, len(ids))
	for i, id := range ids {
		rows[id] = i
	}
	tv, err := nc.GetVarGetter("time")
	if err != nil {
		return nil, nil, time.Time{}, errors.Wrap(err, "variable \"time\"")
	}
	raw, err := tv.Values()
	if err != nil {
		return nil, nil, time.Time{}, errors.Wrap(err, "variable \"time\"")
	}
	days, _, err = ncio.Flatten(raw)
	if err != nil {
		return nil, nil, time.Time{}, errors.Wrap(err, "variable \"time\"")
	}
	units, _ := ncio.Attrs(tv.Attributes())["units"].(string)
	epoch, err = parseTimeUnits(units)
	return rows, days, epoch, err
}

func (e *GriddedTs) parameters(nc api.Group) ([]string, error) {
	if e.opts.Parameters != nil {
		return e.opts.Parameters, nil
	}
	var out []string
	for _, name := range nc.ListVariables() {
		vg, err := nc.GetVarGetter(name)
		if err != nil {
			return nil, errors.Wrapf(err, "variable %q", name)
		}
		if slices.Equal(vg.Dimensions(), []string{locationDim, timeDim}) {
			out = append(out, name)
		}
	}
	return out, nil
}

// readRow reads a single location of every parameter with GetSlice.
func (e *GriddedTs) readRow(cell, gpi int) (*TimeSeries, error) {
	nc, err := e.open(cell)
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	rows, days, epoch, err := header(nc)
	if err != nil {
		return nil, errors.Wrapf(err, "cell %d", cell)
	}
	row, ok := rows[gpi]
	if !ok {
		return nil, errors.Wrapf(grid.ErrUnknownGPI, "gpi %d not in cell %d", gpi, cell)
	}
	params, err := e.parameters(nc)
	if err != nil {
		return nil, errors.Wrapf(err, "cell %d", cell)
	}

	ts := &TimeSeries{
		Data:  make(map[string][]float64, len(params)),
		Attrs: make(map[string]map[string]any, len(params)),
		days:  days,
		epoch: epoch,
	}
	for _, p := range params {
		vg, err := nc.GetVarGetter(p)
		if err != nil {
			return nil, errors.Wrapf(err, "cell %d variable %q", cell, p)
		}
		v, err := vg.GetSlice(int64(row), int64(row)+1)
		if err != nil {
			return nil, errors.Wrapf(err, "cell %d variable %q", cell, p)
		}
		values, _, err := ncio.Flatten(v)
		if err != nil {
			return nil, errors.Wrapf(err, "cell %d variable %q", cell, p)
		}
		attrs := ncio.Attrs(vg.Attributes())
		unfill(values, attrs)
		ts.Data[p] = values
		ts.Attrs[p] = attrs
	}
	return ts, nil
}

func (e *GriddedTs) readCached(cell, gpi int) (*TimeSeries, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cd, ok := e.cache[cell]
	if !ok {
		var err error
		cd, err = e.loadCell(cell)
		if err != nil {
			return nil, err
		}
		e.cache[cell] = cd
	}
	row, ok := cd.rows[gpi]
	if !ok {
		return nil, errors.Wrapf(grid.ErrUnknownGPI, "gpi %d not in cell %d", gpi, cell)
	}
	ts := &TimeSeries{
		Data:  make(map[string][]float64, len(cd.data)),
		Attrs: cd.attrs,
		days:  cd.days,
		epoch: cd.epoch,
	}
	for p, d := range cd.data {
		ts.Data[p] = slices.Clone(d[row])
	}
	return ts, nil
}

func (e *GriddedTs) loadCell(cell int) (*cellData, error) {
	nc, err := e.open(cell)
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	rows, days, epoch, err := header(nc)
	if err != nil {
		return nil, errors.Wrapf(err, "cell %d", cell)
	}
	params, err := e.parameters(nc)
	if err != nil {
		return nil, errors.Wrapf(err, "cell %d", cell)
	}
	cd := &cellData{
		rows:  rows,
		days:  days,
		epoch: epoch,
		data:  make(map[string][][]float64, len(params)),
		attrs: make(map[string]map[string]any, len(params)),
	}
	for _, p := range params {
		v, err := nc.GetVariable(p)
		if err != nil {
			return nil, errors.Wrapf(err, "cell %d variable %q", cell, p)
		}
		flat, shape, err := ncio.Flatten(v.Values)
		if err != nil {
			return nil, errors.Wrapf(err, "cell %d variable %q", cell, p)
		}
		if len(shape) != 2 || shape[0] != len(rows) {
			return nil, errors.Errorf("cell %d variable %q has shape %v for %d locations", cell, p, shape, len(rows))
		}
		attrs := ncio.Attrs(v.Attributes)
		unfill(flat, attrs)
		byRow := make([][]float64, shape[0])
		for i := range byRow {
			byRow[i] = flat[i*shape[1] : (i+1)*shape[1]]
		}
		cd.data[p] = byRow
		cd.attrs[p] = attrs
	}
	e.opts.Logger.Debug("cell loaded", "cell", cell, "locations", len(rows), "days", len(days))
	return cd, nil
}

func (e *GriddedTs) calibrate(ts *TimeSeries) {
	for p, values := range ts.Data {
		scale, hasScale := e.opts.ScaleFactors[p]
		offset, hasOffset := e.opts.Offsets[p]
		if !hasScale && !hasOffset {
			continue
		}
		if !hasScale {
			scale = 1
		}
		for i, v := range values {
			values[i] = v*scale + offset
		}
	}
}

// unfill replaces the fill value with NaN.
func unfill(values []float64, attrs map[string]any) {
	fill, ok := ncio.Float64(attrs["_FillValue"])
	if !ok {
		return
	}
	for i, v := range values {
		if v == fill {
			values[i] = math.NaN()
		}
	}
}
