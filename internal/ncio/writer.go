package ncio

import (
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
	"github.com/pkg/errors"
)

// Writer creates classic CDF files.
type Writer struct {
	path string
	cw   *cdf.CDFWriter
}

// Create opens a new CDF file for writing, truncating any existing one.
func Create(path string) (*Writer, error) {
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	return &Writer{path: path, cw: cw}, nil
}

// AddVar adds a variable. values is a (possibly nested) slice whose nesting
// depth matches len(dims).
func (w *Writer) AddVar(name string, values any, dims []string, attrs map[string]any) error {
	am, err := NewAttrs(attrs)
	if err != nil {
		return errors.Wrapf(err, "attributes of %q", name)
	}
	err = w.cw.AddVar(name, api.Variable{
		Values:     values,
		Dimensions: dims,
		Attributes: am,
	})
	return errors.Wrapf(err, "add %q to %s", name, w.path)
}

// AddGlobalAttrs sets the file level attributes.
func (w *Writer) AddGlobalAttrs(attrs map[string]any) error {
	am, err := NewAttrs(attrs)
	if err != nil {
		return err
	}
	return errors.Wrapf(w.cw.AddGlobalAttrs(am), "global attributes of %s", w.path)
}

// Close flushes the file to disk.
func (w *Writer) Close() error {
	return errors.Wrapf(w.cw.Close(), "close %s", w.path)
}

// NewAttrs builds an ordered attribute map with keys in lexical order.
func NewAttrs(attrs map[string]any) (api.AttributeMap, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return util.NewOrderedMap(sortedKeys(attrs), attrs)
}
