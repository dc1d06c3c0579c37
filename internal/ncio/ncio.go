// Package ncio holds the netCDF/HDF5 value plumbing shared by the SMAP image
// reader, the grid files and the time-series cell files.
package ncio

import (
	"reflect"
	"sort"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/pkg/errors"
)

// ErrUnsupportedType is returned for values that are not numeric.
var ErrUnsupportedType = errors.New("unsupported value type")

// Open opens a netCDF file regardless of its flavour (CDF or HDF5).
func Open(path string) (api.Group, error) {
	g, err := netcdf.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return g, nil
}

// Float64s returns the values of the named variable flattened in row-major
// order.
func Float64s(g api.Group, name string) ([]float64, error) {
	v, err := g.GetVariable(name)
	if err != nil {
		return nil, errors.Wrapf(err, "variable %q", name)
	}
	data, _, err := Flatten(v.Values)
	if err != nil {
		return nil, errors.Wrapf(err, "variable %q", name)
	}
	return data, nil
}

// Ints is like Float64s but truncates the values to int.
func Ints(g api.Group, name string) ([]int, error) {
	f, err := Float64s(g, name)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(f))
	for i, v := range f {
		out[i] = int(v)
	}
	return out, nil
}

// Flatten converts a numeric scalar or an n-dimensional numeric slice
// ([]T, [][]T, ...) into row-major float64 values plus its shape. Scalars
// have an empty shape.
func Flatten(v any) ([]float64, []int, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		f, ok := Float64(v)
		if !ok {
			return nil, nil, errors.Wrapf(ErrUnsupportedType, "%T", v)
		}
		return []float64{f}, nil, nil
	}

	shape := shapeOf(rv)
	n := 1
	for _, d := range shape {
		n *= d
	}
	out := make([]float64, 0, n)
	var walk func(x reflect.Value) error
	walk = func(x reflect.Value) error {
		if x.Kind() == reflect.Interface {
			x = x.Elem()
		}
		if x.Kind() == reflect.Slice {
			for i := 0; i < x.Len(); i++ {
				if err := walk(x.Index(i)); err != nil {
					return err
				}
			}
			return nil
		}
		f, ok := floatOf(x)
		if !ok {
			return errors.Wrapf(ErrUnsupportedType, "element %s", x.Type())
		}
		out = append(out, f)
		return nil
	}
	if err := walk(rv); err != nil {
		return nil, nil, err
	}
	if len(out) != n {
		return nil, nil, errors.Errorf("ragged value of shape %v holds %d elements", shape, len(out))
	}
	return out, shape, nil
}

func shapeOf(rv reflect.Value) []int {
	var shape []int
	for rv.Kind() == reflect.Slice {
		shape = append(shape, rv.Len())
		if rv.Len() == 0 {
			break
		}
		rv = rv.Index(0)
		if rv.Kind() == reflect.Interface {
			rv = rv.Elem()
		}
	}
	return shape
}

// Float64 converts a numeric scalar, or a single element slice holding one,
// to float64.
func Float64(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Len() == 1 {
		rv = rv.Index(0)
	}
	return floatOf(rv)
}

func floatOf(x reflect.Value) (float64, bool) {
	switch x.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(x.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(x.Uint()), true
	case reflect.Float32, reflect.Float64:
		return x.Float(), true
	}
	return 0, false
}

// Attrs copies an attribute map into a plain Go map, values untouched.
func Attrs(m api.AttributeMap) map[string]any {
	out := map[string]any{}
	if m == nil {
		return out
	}
	for _, k := range m.Keys() {
		if v, ok := m.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
