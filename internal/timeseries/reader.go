package timeseries

import (
	"path/filepath"

	"github.com/rtm0/smap/internal/grid"
)

// DefaultGridFile is looked up in the time series directory when no grid path
// is given.
const DefaultGridFile = "grid.nc"

// Reader reads reshuffled SMAP time series.
type Reader struct {
	*GriddedTs
	gridPath string
}

// Open loads the grid and returns a reader over the cell files in tsPath.
// An empty gridPath means tsPath/grid.nc.
func Open(tsPath, gridPath string, opts Options) (*Reader, error) {
	if gridPath == "" {
		gridPath = filepath.Join(tsPath, DefaultGridFile)
	}
	g, err := grid.Load(gridPath)
	if err != nil {
		return nil, err
	}
	return &Reader{GriddedTs: NewGriddedTs(tsPath, g, opts), gridPath: gridPath}, nil
}

// GridPath returns the grid file the reader was opened with.
func (r *Reader) GridPath() string { return r.gridPath }
