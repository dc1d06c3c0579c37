package grid

import (
	"math"

	"github.com/pkg/errors"
)

// Resolution selects one of the global EASE-Grid 2.0 layouts.
type Resolution int

const (
	EASE36 Resolution = 36
	EASE9  Resolution = 9
)

type easeLayout struct {
	cols, rows int
	cellMetres float64
}

var easeLayouts = map[Resolution]easeLayout{
	EASE36: {cols: 964, rows: 406, cellMetres: 36032.220840584},
	EASE9:  {cols: 3856, rows: 1624, cellMetres: 9008.055210146},
}

// WGS84 ellipsoid and the EASE-Grid 2.0 true scale latitude.
const (
	semiMajor    = 6378137.0
	eccentricity = 0.0818191908426215
	trueScaleLat = 30.0
)

// EASE2 builds the global EASE-Grid 2.0 grid at the given resolution. Points
// are ordered the way the L3 files are read: row by row starting with the
// southernmost row, west to east within a row. gpi 0 is therefore the south
// western cell and the grid shape is (rows, cols).
func EASE2(res Resolution) (*CellGrid, error) {
	l, ok := easeLayouts[res]
	if !ok {
		return nil, errors.Errorf("no EASE-Grid 2.0 layout for %d km", int(res))
	}

	lonCentres := make([]float64, l.cols)
	xMin := -float64(l.cols) / 2 * l.cellMetres
	for c := range lonCentres {
		x := xMin + (float64(c)+0.5)*l.cellMetres
		lonCentres[c] = easeLon(x)
	}
	latCentres := make([]float64, l.rows)
	yMin := -float64(l.rows) / 2 * l.cellMetres
	for r := range latCentres {
		y := yMin + (float64(r)+0.5)*l.cellMetres
		latCentres[r] = easeLat(y)
	}

	n := l.rows * l.cols
	lons := make([]float64, n)
	lats := make([]float64, n)
	for r := 0; r < l.rows; r++ {
		for c := 0; c < l.cols; c++ {
			lons[r*l.cols+c] = lonCentres[c]
			lats[r*l.cols+c] = latCentres[r]
		}
	}
	return New(lons, lats, nil, []int{l.rows, l.cols}, DefaultCellSize)
}

func easeK0() float64 {
	phi1 := trueScaleLat * math.Pi / 180
	s := math.Sin(phi1)
	return math.Cos(phi1) / math.Sqrt(1-eccentricity*eccentricity*s*s)
}

// easeLon inverts the x coordinate of the cylindrical equal area projection.
func easeLon(x float64) float64 {
	return x / (semiMajor * easeK0()) * 180 / math.Pi
}

// easeLat inverts the y coordinate through the authalic latitude.
func easeLat(y float64) float64 {
	e := eccentricity
	e2 := e * e
	e4 := e2 * e2
	e6 := e4 * e2
	qp := (1 - e2) * (1/(1-e2) - 1/(2*e)*math.Log((1-e)/(1+e)))
	beta := math.Asin(2 * y * easeK0() / (semiMajor * qp))
	phi := beta +
		(e2/3+31*e4/180+517*e6/5040)*math.Sin(2*beta) +
		(23*e4/360+251*e6/3780)*math.Sin(4*beta) +
		(761*e6/45360)*math.Sin(6*beta)
	return phi * 180 / math.Pi
}
