package smap

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Array is an n-dimensional array of values stored in row-major order.
type Array struct {
	Shape []int
	Data  []float64
}

// Len returns the number of elements.
func (a Array) Len() int { return len(a.Data) }

// At returns the element at row i, column j of a two dimensional array.
func (a Array) At(i, j int) float64 {
	return a.Data[i*a.Shape[1]+j]
}

// Image is one decoded product file.
type Image struct {
	Lon      Array
	Lat      Array
	Data     map[string]Array
	Metadata map[string]map[string]any
	// Timestamp is the zero time when the image was read without one.
	Timestamp time.Time
}

// Variables returns the variable names of the image, sorted.
func (img *Image) Variables() []string {
	names := make([]string, 0, len(img.Data))
	for name := range img.Data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// flipRows reverses the row order of a rows x (len(data)/rows) matrix given in
// row-major order and returns the result in row-major order.
func flipRows(data []float64, rows int) ([]float64, error) {
	if rows <= 0 || len(data) == 0 || len(data)%rows != 0 {
		return nil, errors.Errorf("cannot split %d values into %d rows", len(data), rows)
	}
	cols := len(data) / rows
	src := mat.NewDense(rows, cols, data)
	dst := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		dst.SetRow(rows-1-i, src.RawRowView(i))
	}
	return dst.RawMatrix().Data, nil
}

// raster reshapes flat values to shape (two dimensional) and flips the rows.
func raster(flat []float64, shape []int) (Array, error) {
	data, err := flipRows(flat, shape[0])
	if err != nil {
		return Array{}, err
	}
	return Array{Shape: []int{shape[0], shape[1]}, Data: data}, nil
}
