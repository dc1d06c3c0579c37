package smap

import (
	"bytes"
	"log/slog"
	"slices"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/rtm0/smap/internal/grid"
)

// memContainer is an in-memory stand-in for an L3 file.
type memContainer struct {
	order  []string
	groups map[string]map[string]*Field
	closed int
}

func newMemContainer() *memContainer {
	return &memContainer{groups: map[string]map[string]*Field{}}
}

func (c *memContainer) addField(group, name string, rows [][]float64, attrs map[string]any) *memContainer {
	if _, ok := c.groups[group]; !ok {
		c.groups[group] = map[string]*Field{}
		c.order = append(c.order, group)
	}
	f := &Field{Name: name, Shape: []int{len(rows), len(rows[0])}, Attrs: attrs}
	for _, r := range rows {
		f.Values = append(f.Values, r...)
	}
	if f.Attrs == nil {
		f.Attrs = map[string]any{}
	}
	c.groups[group][name] = f
	return c
}

func (c *memContainer) Groups() []string { return c.order }

func (c *memContainer) Field(group, name string) (*Field, error) {
	g, ok := c.groups[group]
	if !ok {
		return nil, errors.Wrapf(ErrMissingField, "group %s", group)
	}
	f, ok := g[name]
	if !ok {
		return nil, errors.Wrapf(ErrMissingField, "%s/%s", group, name)
	}
	cp := *f
	cp.Values = slices.Clone(f.Values)
	return &cp, nil
}

func (c *memContainer) Close() error {
	c.closed++
	return nil
}

func (c *memContainer) opener() Opener {
	return func(string) (Container, error) { return c, nil }
}

// fileRows returns a rows x cols field with value r*cols+c, row 0 being the
// northernmost row as stored in the files.
func fileRows(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for r := range out {
		out[r] = make([]float64, cols)
		for c := range out[r] {
			out[r][c] = float64(r*cols + c)
		}
	}
	return out
}

// regularGrid is a rows x cols one degree grid, gpi 0 at the south west.
func regularGrid(t *testing.T, rows, cols int) *grid.CellGrid {
	t.Helper()
	var lons, lats []float64
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			lons = append(lons, float64(c))
			lats = append(lats, float64(r))
		}
	}
	g, err := grid.New(lons, lats, nil, []int{rows, cols}, 0)
	require.NoError(t, err)
	return g
}

func testLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func testOptions(t *testing.T, c *memContainer) (Options, *bytes.Buffer) {
	t.Helper()
	logger, buf := testLogger()
	opts := DefaultOptions()
	opts.Grid = regularGrid(t, 4, 4)
	opts.Opener = c.opener()
	opts.Logger = logger
	return opts, buf
}

// stubGrid reports whatever shape it is told to.
type stubGrid struct {
	gpis  []int
	shape []int
}

func (g stubGrid) ActiveGPIs() []int { return g.gpis }
func (g stubGrid) ActiveLons() []float64 {
	return make([]float64, len(g.gpis))
}
func (g stubGrid) ActiveLats() []float64 {
	return make([]float64, len(g.gpis))
}
func (g stubGrid) SubsetShape() []int { return g.shape }
