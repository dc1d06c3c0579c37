package grid

import (
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/pkg/errors"

	"github.com/rtm0/smap/internal/ncio"
)

const pointDim = "gp"

// Save writes the grid to a netCDF file. All points are stored; the active
// subset is recorded in the subset_flag variable.
func (g *CellGrid) Save(path string) error {
	n := len(g.lons)
	gpis := make([]int32, n)
	cells := make([]int32, n)
	flags := make([]int8, n)
	for p := 0; p < n; p++ {
		gpis[p] = int32(g.gpiAt(p))
		cells[p] = int32(g.cells[p])
	}
	for _, p := range g.active {
		flags[p] = 1
	}

	w, err := ncio.Create(path)
	if err != nil {
		return err
	}
	dims := []string{pointDim}
	vars := []struct {
		name   string
		values any
		attrs  map[string]any
	}{
		{"lon", g.lons, map[string]any{"long_name": "longitude", "units": "degrees_east"}},
		{"lat", g.lats, map[string]any{"long_name": "latitude", "units": "degrees_north"}},
		{"gpi", gpis, map[string]any{"long_name": "grid point index"}},
		{"cell", cells, map[string]any{"long_name": "cell number"}},
		{"subset_flag", flags, map[string]any{"long_name": "active subset"}},
	}
	for _, v := range vars {
		if err := w.AddVar(v.name, v.values, dims, v.attrs); err != nil {
			w.Close()
			return err
		}
	}
	err = w.AddGlobalAttrs(map[string]any{
		"shape":        toInt32s(g.shape),
		"subset_shape": toInt32s(g.subsetShape),
		"cell_size":    g.cellSize,
	})
	if err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Load reads a grid file written by Save. gpi and subset_flag are optional;
// without them point positions are used as gpis and every point is active.
func Load(path string) (*CellGrid, error) {
	nc, err := ncio.Open(path)
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	lons, err := ncio.Float64s(nc, "lon")
	if err != nil {
		return nil, errors.Wrapf(err, "grid %s", path)
	}
	lats, err := ncio.Float64s(nc, "lat")
	if err != nil {
		return nil, errors.Wrapf(err, "grid %s", path)
	}
	gpis, err := optionalInts(nc, "gpi")
	if err != nil {
		return nil, errors.Wrapf(err, "grid %s", path)
	}

	attrs := ncio.Attrs(nc.Attributes())
	cellSize, ok := ncio.Float64(attrs["cell_size"])
	if !ok {
		cellSize = DefaultCellSize
	}
	g, err := New(lons, lats, gpis, intsAttr(attrs["shape"]), cellSize)
	if err != nil {
		return nil, errors.Wrapf(err, "grid %s", path)
	}

	flags, err := optionalInts(nc, "subset_flag")
	if err != nil {
		return nil, errors.Wrapf(err, "grid %s", path)
	}
	if flags == nil {
		return g, nil
	}
	mask := make([]bool, len(flags))
	for i, f := range flags {
		mask[i] = f != 0
	}
	sub, err := g.Mask(mask)
	if err != nil {
		return nil, errors.Wrapf(err, "grid %s", path)
	}
	if shape := intsAttr(attrs["subset_shape"]); prod(shape) == sub.Len() {
		sub = sub.derive(sub.active, shape)
	}
	return sub, nil
}

func optionalInts(nc api.Group, name string) ([]int, error) {
	for _, v := range nc.ListVariables() {
		if v == name {
			return ncio.Ints(nc, name)
		}
	}
	return nil, nil
}

func intsAttr(v any) []int {
	if v == nil {
		return nil
	}
	f, _, err := ncio.Flatten(v)
	if err != nil {
		return nil
	}
	out := make([]int, len(f))
	for i := range f {
		out[i] = int(f[i])
	}
	return out
}

func toInt32s(v []int) []int32 {
	out := make([]int32, len(v))
	for i := range v {
		out[i] = int32(v[i])
	}
	return out
}
