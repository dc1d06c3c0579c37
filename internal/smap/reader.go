// Package smap reads SMAP Level-3 passive soil moisture products.
//
// An ImageReader decodes one per-day file onto a grid, a Dataset locates the
// per-day files of a directory tree and reads them one after the other.
package smap

import (
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/rtm0/smap/internal/ncio"
)

// ImageReader reads a single L3 file. The file is opened by the first Read and
// held until Close.
type ImageReader struct {
	path string
	opts Options
	c    Container
}

// NewImageReader binds a file to a configuration. The file is not touched.
func NewImageReader(path string, opts Options) (*ImageReader, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if opts.Mode != "r" {
		return nil, errors.Wrapf(ErrNotImplemented, "mode %q", opts.Mode)
	}
	opts.Parameters = append([]string(nil), opts.Parameters...)
	return &ImageReader{path: path, opts: opts}, nil
}

// Path returns the file the reader is bound to.
func (r *ImageReader) Path() string { return r.path }

// Read decodes the configured parameters. ts is attached to the image as is.
func (r *ImageReader) Read(ts time.Time) (*Image, error) {
	if r.c == nil {
		c, err := r.opts.Opener(r.path)
		if err != nil {
			r.opts.Logger.Error("file can not be opened", "path", r.path, "err", err)
			return nil, errors.Wrapf(err, "%s can not be opened", r.path)
		}
		r.c = c
	}

	overpass, err := r.resolveOverpass()
	if err != nil {
		return nil, err
	}

	group := GroupName(overpass)
	if !slices.Contains(r.c.Groups(), group) {
		return nil, errors.Wrapf(ErrMissingField,
			"%s does not exist in %s, try deactivating the overpass option", group, r.path)
	}

	g := r.opts.Grid
	gpis := g.ActiveGPIs()
	data := make(map[string][]float64, len(r.opts.Parameters))
	meta := make(map[string]map[string]any, len(r.opts.Parameters))
	for _, param := range r.opts.Parameters {
		f, err := r.field(group, param, overpass)
		if err != nil {
			return nil, err
		}

		values, err := fileOrder(f)
		if err != nil {
			return nil, errors.Wrapf(err, "%s/%s in %s", group, f.Name, r.path)
		}
		values, err = reindex(values, gpis)
		if err != nil {
			return nil, errors.Wrapf(err, "%s/%s in %s", group, f.Name, r.path)
		}
		mask(values, f.Attrs)

		name := r.outputName(param, overpass)
		data[name] = values
		meta[name] = f.Attrs
	}

	img, err := r.shape(data)
	if err != nil {
		return nil, err
	}
	img.Metadata = meta
	img.Timestamp = ts
	return img, nil
}

func (r *ImageReader) resolveOverpass() (Overpass, error) {
	if r.opts.Overpass != OverpassResolve {
		return ParseOverpass(string(r.opts.Overpass))
	}
	found := overpassesIn(r.c.Groups())
	switch len(found) {
	case 0:
		return OverpassResolve, nil
	case 1:
		return Overpass(found[0]), nil
	}
	return "", errors.Wrapf(ErrAmbiguousOverpass,
		"multiple overpasses found in %s, specify one overpass to load: %v", r.path, found)
}

// field looks up parameter+suffix in the group. A parameter already carrying
// the suffix is also found under its own name.
func (r *ImageReader) field(group, param string, o Overpass) (*Field, error) {
	suffix := o.fieldSuffix()
	f, err := r.c.Field(group, param+suffix)
	if err != nil && suffix != "" && strings.HasSuffix(param, suffix) && errors.Is(err, ErrMissingField) {
		f, err = r.c.Field(group, param)
	}
	return f, err
}

func (r *ImageReader) outputName(param string, o Overpass) string {
	if !r.opts.OverpassSuffix {
		return param
	}
	if o == OverpassResolve {
		r.opts.Logger.Warn("renaming variable only possible if overpass is given, using names as in file",
			"parameter", param, "path", r.path)
		return param
	}
	if suffix := o.outputSuffix(); !strings.HasSuffix(param, suffix) {
		return param + suffix
	}
	return param
}

func (r *ImageReader) shape(data map[string][]float64) (*Image, error) {
	g := r.opts.Grid
	lons, lats := g.ActiveLons(), g.ActiveLats()

	if r.opts.Flatten {
		img := &Image{
			Lon:  Array{Shape: []int{len(lons)}, Data: slices.Clone(lons)},
			Lat:  Array{Shape: []int{len(lats)}, Data: slices.Clone(lats)},
			Data: make(map[string]Array, len(data)),
		}
		for name, values := range data {
			img.Data[name] = Array{Shape: []int{len(values)}, Data: values}
		}
		return img, nil
	}

	shape := g.SubsetShape()
	if len(shape) != 2 {
		return nil, errors.Wrapf(ErrShapeMismatch,
			"grid of shape %v is one dimensional, reading a 2d image needs a 2d grid, e.g. a bounding box of the global grid", shape)
	}
	if n := shape[0] * shape[1]; n == 0 || n != len(lons) || n != len(lats) {
		return nil, errors.Wrapf(ErrShapeMismatch,
			"the grid shape %v does not match %d grid points, use flatten mode for grids with gaps (e.g. land points only)",
			shape, len(lons))
	}

	img := &Image{Data: make(map[string]Array, len(data))}
	var err error
	if img.Lon, err = raster(lons, shape); err != nil {
		return nil, err
	}
	if img.Lat, err = raster(lats, shape); err != nil {
		return nil, err
	}
	for name, values := range data {
		if img.Data[name], err = raster(values, shape); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// Write is not supported.
func (r *ImageReader) Write(*Image) error {
	return ErrNotImplemented
}

// Flush is a no-op for a read-only file.
func (r *ImageReader) Flush() error { return nil }

// Close releases the file. It is safe to call more than once.
func (r *ImageReader) Close() error {
	if r.c == nil {
		return nil
	}
	err := r.c.Close()
	r.c = nil
	return err
}

// fileOrder flattens a field after reversing its leading axis so that the
// southernmost row comes first.
func fileOrder(f *Field) ([]float64, error) {
	if len(f.Shape) == 0 {
		return nil, errors.Errorf("scalar field %s cannot be mapped onto a grid", f.Name)
	}
	return flipRows(f.Values, f.Shape[0])
}

func reindex(values []float64, gpis []int) ([]float64, error) {
	out := make([]float64, len(gpis))
	for i, gpi := range gpis {
		if gpi < 0 || gpi >= len(values) {
			return nil, errors.Wrapf(ErrShapeMismatch, "grid point %d outside field of %d values", gpi, len(values))
		}
		out[i] = values[gpi]
	}
	return out, nil
}

// mask replaces values outside [valid_min, valid_max] with _FillValue. Fields
// lacking any of the three attributes are left alone.
func mask(values []float64, attrs map[string]any) {
	fill, ok1 := numericAttr(attrs, "_FillValue")
	lo, ok2 := numericAttr(attrs, "valid_min")
	hi, ok3 := numericAttr(attrs, "valid_max")
	if !ok1 || !ok2 || !ok3 {
		return
	}
	for i, v := range values {
		if v < lo || v > hi {
			values[i] = fill
		}
	}
}

func numericAttr(attrs map[string]any, key string) (float64, bool) {
	v, ok := attrs[key]
	if !ok {
		return 0, false
	}
	return ncio.Float64(v)
}
