package smap

import (
	"log/slog"
	"sync"

	"github.com/rtm0/smap/internal/grid"
)

// Grid is the view of a discrete grid the reader needs. Active point i sits at
// position ActiveGPIs()[i] of a file field after its rows have been flipped so
// that the southernmost row comes first.
type Grid interface {
	ActiveGPIs() []int
	ActiveLons() []float64
	ActiveLats() []float64
	// SubsetShape is (rows, cols) for rectangular selections.
	SubsetShape() []int
}

// Options configure an ImageReader. Start from DefaultOptions. The zero Options
// reads like DefaultOptions; once any field is set, Overpass and
// OverpassSuffix keep their zero meaning (resolve from the file, no suffix)
// while Mode, Parameters, Grid, Opener and Logger still fall back to their
// defaults.
type Options struct {
	// Mode is the file mode, only "r" is supported.
	Mode string
	// Parameters are the field names to read, without overpass suffix.
	Parameters []string
	// Overpass to read; OverpassResolve picks it from the file.
	Overpass Overpass
	// OverpassSuffix appends _am/_pm to the returned variable names.
	OverpassSuffix bool
	// Grid selects the points to read; nil means the global EASE-Grid 2.0
	// 36 km grid.
	Grid Grid
	// Flatten returns one dimensional arrays over the active points instead of
	// a raster with the northernmost row first.
	Flatten bool

	Opener Opener
	Logger *slog.Logger
}

// DefaultOptions reads soil_moisture of the AM overpass on the global grid as
// a raster.
func DefaultOptions() Options {
	return Options{
		Mode:           "r",
		Parameters:     []string{"soil_moisture"},
		Overpass:       OverpassAM,
		OverpassSuffix: true,
	}
}

var (
	defaultGridOnce sync.Once
	defaultGrid     *grid.CellGrid
	defaultGridErr  error
)

// DefaultGrid returns the global EASE-Grid 2.0 36 km grid. It is built once and
// shared.
func DefaultGrid() (*grid.CellGrid, error) {
	defaultGridOnce.Do(func() {
		defaultGrid, defaultGridErr = grid.EASE2(grid.EASE36)
	})
	return defaultGrid, defaultGridErr
}

func (o Options) isZero() bool {
	return o.Mode == "" && o.Parameters == nil && o.Overpass == OverpassResolve &&
		!o.OverpassSuffix && o.Grid == nil && !o.Flatten && o.Opener == nil && o.Logger == nil
}

func (o Options) withDefaults() (Options, error) {
	if o.isZero() {
		o = DefaultOptions()
	}
	if o.Mode == "" {
		o.Mode = "r"
	}
	if len(o.Parameters) == 0 {
		o.Parameters = DefaultOptions().Parameters
	}
	if o.Grid == nil {
		g, err := DefaultGrid()
		if err != nil {
			return o, err
		}
		o.Grid = g
	}
	if o.Opener == nil {
		o.Opener = OpenHDF5
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o, nil
}
