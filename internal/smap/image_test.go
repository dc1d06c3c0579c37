package smap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlipRows(t *testing.T) {
	got, err := flipRows([]float64{1, 2, 3, 4, 5, 6}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6, 3, 4, 1, 2}, got)

	got, err = flipRows([]float64{1, 2, 3}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 2, 1}, got)

	_, err = flipRows([]float64{1, 2, 3}, 2)
	require.Error(t, err)
	_, err = flipRows(nil, 1)
	require.Error(t, err)
}

func TestFlipRows_LeavesInputAlone(t *testing.T) {
	in := []float64{1, 2, 3, 4}
	_, err := flipRows(in, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, in)
}

func TestRaster(t *testing.T) {
	a, err := raster([]float64{1, 2, 3, 4, 5, 6}, []int{2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, a.Shape)
	assert.Equal(t, 4.0, a.At(0, 0))
	assert.Equal(t, 3.0, a.At(1, 2))
	assert.Equal(t, 6, a.Len())
}

func TestImage_Variables(t *testing.T) {
	img := &Image{Data: map[string]Array{"b": {}, "a": {}, "c": {}}}
	assert.Equal(t, []string{"a", "b", "c"}, img.Variables())
}
