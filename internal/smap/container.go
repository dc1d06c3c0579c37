package smap

import (
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/pkg/errors"

	"github.com/rtm0/smap/internal/ncio"
)

// Field is a decoded variable of a retrieval group.
type Field struct {
	Name   string
	Shape  []int
	Values []float64 // row-major
	Attrs  map[string]any
}

// Container is an opened per-day product file.
type Container interface {
	// Groups lists the top level group names.
	Groups() []string
	// Field reads a variable of a top level group. A missing group or variable
	// yields an error wrapping ErrMissingField.
	Field(group, name string) (*Field, error)
	Close() error
}

// Opener opens a container for reading.
type Opener func(path string) (Container, error)

type h5Container struct {
	path string
	root api.Group
}

// OpenHDF5 opens an L3 product with the native HDF5 reader.
func OpenHDF5(path string) (Container, error) {
	root, err := ncio.Open(path)
	if err != nil {
		return nil, err
	}
	return &h5Container{path: path, root: root}, nil
}

func (c *h5Container) Groups() []string {
	return c.root.ListSubgroups()
}

func (c *h5Container) Field(group, name string) (*Field, error) {
	g, err := c.root.GetGroup(group)
	if err != nil {
		return nil, errors.Wrapf(ErrMissingField, "group %s in %s: %v", group, c.path, err)
	}
	defer g.Close()

	v, err := g.GetVariable(name)
	if err != nil {
		return nil, errors.Wrapf(ErrMissingField, "%s/%s in %s: %v", group, name, c.path, err)
	}
	values, shape, err := ncio.Flatten(v.Values)
	if err != nil {
		return nil, errors.Wrapf(err, "%s/%s in %s", group, name, c.path)
	}
	return &Field{
		Name:   name,
		Shape:  shape,
		Values: values,
		Attrs:  ncio.Attrs(v.Attributes),
	}, nil
}

func (c *h5Container) Close() error {
	c.root.Close()
	return nil
}
