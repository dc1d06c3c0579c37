// Package grid implements a discrete Earth grid with an active subset.
//
// Grid points are addressed by grid point index (gpi). The active subset is the
// ordered selection of points a reader works on; when that selection covers a
// full block of rows and columns it also has a two dimensional shape.
package grid

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// DefaultCellSize is the edge length in degrees of the cells grid points are
// grouped into.
const DefaultCellSize = 5.0

var (
	ErrEmptySubset = errors.New("empty grid subset")
	ErrUnknownGPI  = errors.New("unknown grid point")
)

// CellGrid is a set of grid points grouped into square lat/lon cells.
type CellGrid struct {
	lons     []float64
	lats     []float64
	gpis     []int // nil means gpi equals position
	pos      map[int]int
	cells    []int
	cellSize float64
	shape    []int

	active      []int // positions
	subsetShape []int
	activeGPIs  []int
	activeLons  []float64
	activeLats  []float64
}

// New creates a grid from per point coordinates. gpis may be nil, in which case
// the index of a point in lons/lats is its gpi. shape is the (rows, cols) layout
// of the points or nil when they do not form a rectangle.
func New(lons, lats []float64, gpis []int, shape []int, cellSize float64) (*CellGrid, error) {
	if len(lons) != len(lats) {
		return nil, errors.Errorf("%d longitudes for %d latitudes", len(lons), len(lats))
	}
	if gpis != nil && len(gpis) != len(lons) {
		return nil, errors.Errorf("%d gpis for %d points", len(gpis), len(lons))
	}
	if len(lons) == 0 {
		return nil, ErrEmptySubset
	}
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	if prod(shape) != len(lons) {
		shape = []int{len(lons)}
	}
	g := &CellGrid{
		lons:     lons,
		lats:     lats,
		cellSize: cellSize,
		shape:    append([]int(nil), shape...),
		cells:    make([]int, len(lons)),
	}
	if gpis != nil {
		g.gpis = append([]int(nil), gpis...)
		g.pos = make(map[int]int, len(gpis))
		for i, gpi := range gpis {
			if _, dup := g.pos[gpi]; dup {
				return nil, errors.Errorf("duplicate gpi %d", gpi)
			}
			g.pos[gpi] = i
		}
	}
	for i := range lons {
		g.cells[i] = LonLat2Cell(lons[i], lats[i], cellSize)
	}
	all := make([]int, len(lons))
	for i := range all {
		all[i] = i
	}
	g.setActive(all, shape)
	return g, nil
}

func (g *CellGrid) derive(active []int, shape []int) *CellGrid {
	sub := *g
	sub.setActive(active, shape)
	return &sub
}

func (g *CellGrid) setActive(active []int, shape []int) {
	if prod(shape) != len(active) || len(shape) == 0 {
		shape = []int{len(active)}
	}
	g.active = active
	g.subsetShape = append([]int(nil), shape...)
	g.activeGPIs = make([]int, len(active))
	g.activeLons = make([]float64, len(active))
	g.activeLats = make([]float64, len(active))
	for i, p := range active {
		g.activeGPIs[i] = g.gpiAt(p)
		g.activeLons[i] = g.lons[p]
		g.activeLats[i] = g.lats[p]
	}
}

func (g *CellGrid) gpiAt(p int) int {
	if g.gpis == nil {
		return p
	}
	return g.gpis[p]
}

func (g *CellGrid) index(gpi int) (int, bool) {
	if g.gpis == nil {
		return gpi, gpi >= 0 && gpi < len(g.lons)
	}
	p, ok := g.pos[gpi]
	return p, ok
}

// Len returns the number of active points.
func (g *CellGrid) Len() int { return len(g.active) }

// ActiveGPIs returns the gpis of the active points in reading order.
func (g *CellGrid) ActiveGPIs() []int { return g.activeGPIs }

// ActiveLons returns the longitudes of the active points in reading order.
func (g *CellGrid) ActiveLons() []float64 { return g.activeLons }

// ActiveLats returns the latitudes of the active points in reading order.
func (g *CellGrid) ActiveLats() []float64 { return g.activeLats }

// SubsetShape is (rows, cols) when the active points form a rectangle and
// (n) otherwise.
func (g *CellGrid) SubsetShape() []int { return g.subsetShape }

// Shape is the layout of all points of the grid, active or not.
func (g *CellGrid) Shape() []int { return g.shape }

// CellSize returns the cell edge length in degrees.
func (g *CellGrid) CellSize() float64 { return g.cellSize }

// LonLat returns the coordinates of a grid point.
func (g *CellGrid) LonLat(gpi int) (lon, lat float64, err error) {
	p, ok := g.index(gpi)
	if !ok {
		return 0, 0, errors.Wrapf(ErrUnknownGPI, "gpi %d", gpi)
	}
	return g.lons[p], g.lats[p], nil
}

// Cell returns the cell a grid point belongs to.
func (g *CellGrid) Cell(gpi int) (int, error) {
	p, ok := g.index(gpi)
	if !ok {
		return 0, errors.Wrapf(ErrUnknownGPI, "gpi %d", gpi)
	}
	return g.cells[p], nil
}

// Cells returns the sorted cell numbers holding at least one active point.
func (g *CellGrid) Cells() []int {
	seen := map[int]bool{}
	var out []int
	for _, p := range g.active {
		if c := g.cells[p]; !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Ints(out)
	return out
}

// GPIsInCell returns the active gpis in a cell, in reading order.
func (g *CellGrid) GPIsInCell(cell int) []int {
	var out []int
	for i, p := range g.active {
		if g.cells[p] == cell {
			out = append(out, g.activeGPIs[i])
		}
	}
	return out
}

// Nearest returns the active grid point closest to lon/lat and its great
// circle distance in metres.
func (g *CellGrid) Nearest(lon, lat float64) (gpi int, dist float64, err error) {
	if len(g.active) == 0 {
		return 0, 0, ErrEmptySubset
	}
	best := -1
	dist = math.Inf(1)
	for i := range g.active {
		d := haversine(lon, lat, g.activeLons[i], g.activeLats[i])
		if d < dist {
			best, dist = i, d
		}
	}
	return g.activeGPIs[best], dist, nil
}

// SubgridFromBBox keeps the active points inside the bounding box, borders
// included. The result is rectangular when the kept points are complete rows
// of ascending latitude with ascending longitudes.
func (g *CellGrid) SubgridFromBBox(minLon, minLat, maxLon, maxLat float64) (*CellGrid, error) {
	var keep []int
	for _, p := range g.active {
		lon, lat := g.lons[p], g.lats[p]
		if lon >= minLon && lon <= maxLon && lat >= minLat && lat <= maxLat {
			keep = append(keep, p)
		}
	}
	if len(keep) == 0 {
		return nil, errors.Wrapf(ErrEmptySubset, "bbox (%g, %g, %g, %g)", minLon, minLat, maxLon, maxLat)
	}
	return g.derive(keep, g.rectangle(keep)), nil
}

// SubgridFromGPIs selects points by gpi, in the given order. The result is
// never treated as rectangular.
func (g *CellGrid) SubgridFromGPIs(gpis []int) (*CellGrid, error) {
	if len(gpis) == 0 {
		return nil, ErrEmptySubset
	}
	keep := make([]int, len(gpis))
	for i, gpi := range gpis {
		p, ok := g.index(gpi)
		if !ok {
			return nil, errors.Wrapf(ErrUnknownGPI, "gpi %d", gpi)
		}
		keep[i] = p
	}
	return g.derive(keep, nil), nil
}

// Mask keeps the active points whose flag is set. flags is indexed like the
// full grid, e.g. a land mask. A mask that keeps every active point preserves
// the subset shape.
func (g *CellGrid) Mask(flags []bool) (*CellGrid, error) {
	if len(flags) != len(g.lons) {
		return nil, errors.Errorf("mask has %d flags for %d points", len(flags), len(g.lons))
	}
	var keep []int
	for _, p := range g.active {
		if flags[p] {
			keep = append(keep, p)
		}
	}
	if len(keep) == 0 {
		return nil, ErrEmptySubset
	}
	shape := []int(nil)
	if len(keep) == len(g.active) {
		shape = g.subsetShape
	}
	return g.derive(keep, shape), nil
}

func (g *CellGrid) rectangle(keep []int) []int {
	nlon := 1
	for nlon < len(keep) && g.lats[keep[nlon]] == g.lats[keep[0]] {
		nlon++
	}
	if len(keep)%nlon != 0 {
		return nil
	}
	rows := len(keep) / nlon
	for r := 0; r < rows; r++ {
		lat := g.lats[keep[r*nlon]]
		if r > 0 && lat <= g.lats[keep[(r-1)*nlon]] {
			return nil
		}
		for c := 0; c < nlon; c++ {
			p := keep[r*nlon+c]
			if g.lats[p] != lat {
				return nil
			}
			if c > 0 && g.lons[p] <= g.lons[keep[r*nlon+c-1]] {
				return nil
			}
		}
	}
	return []int{rows, nlon}
}

// LonLat2Cell returns the number of the cellSize degree cell a coordinate falls
// in. Cells are numbered column-wise starting at (-180, -90).
func LonLat2Cell(lon, lat, cellSize float64) int {
	perCol := int(math.Round(180 / cellSize))
	maxCells := perCol * int(math.Round(360/cellSize))
	cellLat := int(math.Floor((lat + 90) / cellSize))
	cellLon := int(math.Floor((lon + 180) / cellSize))
	cell := cellLon*perCol + cellLat
	if cell == maxCells {
		return 0
	}
	return cell
}

const earthRadius = 6371000.0

func haversine(lon1, lat1, lon2, lat2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Asin(math.Sqrt(a))
}

func prod(shape []int) int {
	if len(shape) == 0 {
		return -1
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
