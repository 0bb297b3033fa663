// Package h5 wraps the HDF5 binding with the small surface the pipeline
// needs: opening keyed containers, reading whole arrays or leading-axis row
// ranges, and writing float arrays. Failures are reported with the shared
// error kinds from internal/models.
package h5

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gonum.org/v1/hdf5"

	"fmrivae/internal/models"
)

// lib serialises calls into the HDF5 C library, which is not built
// thread-safe by default. The loader reads on a prefetch goroutine while the
// pipeline writes result files.
var lib sync.Mutex

// File is an open HDF5 container
type File struct {
	f    *hdf5.File
	path string
}

// Open opens an existing container read-only. A missing file or a file that
// is not HDF5 is reported as models.ErrNotFound.
func Open(path string) (*File, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrNotFound, path, err)
	}
	lib.Lock()
	defer lib.Unlock()
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a valid container: %v", models.ErrNotFound, path, err)
	}
	return &File{f: f, path: path}, nil
}

// Create creates (or truncates) a container for writing
func Create(path string) (*File, error) {
	lib.Lock()
	defer lib.Unlock()
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", models.ErrIO, path, err)
	}
	return &File{f: f, path: path}, nil
}

// Path returns the file path the container was opened with
func (f *File) Path() string {
	return f.path
}

// Close releases the underlying file handle. Calling Close more than once is a no-op.
func (f *File) Close() error {
	lib.Lock()
	defer lib.Unlock()
	if f.f == nil {
		return nil
	}
	err := f.f.Close()
	f.f = nil
	return err
}

func (f *File) openDataset(name string) (*hdf5.Dataset, error) {
	if f.f == nil {
		return nil, errors.New("container is closed")
	}
	ds, err := f.f.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("%w: dataset %q in %s: %v", models.ErrNotFound, name, f.path, err)
	}
	return ds, nil
}

// Shape returns the dimensions of the named array
func (f *File) Shape(name string) ([]int, error) {
	lib.Lock()
	defer lib.Unlock()

	ds, err := f.openDataset(name)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	space := ds.Space()
	defer space.Close()

	dims, err := extent(space, name)
	if err != nil {
		return nil, err
	}
	return toInts(dims), nil
}

// ReadFloat64 reads the whole named array, converting the stored element
// type to float64. It returns the data together with the array's shape.
func (f *File) ReadFloat64(name string) ([]float64, []int, error) {
	lib.Lock()
	defer lib.Unlock()

	ds, err := f.openDataset(name)
	if err != nil {
		return nil, nil, err
	}
	defer ds.Close()

	space := ds.Space()
	defer space.Close()

	dims, err := extent(space, name)
	if err != nil {
		return nil, nil, err
	}

	data := make([]float64, product(dims))
	if err := ds.Read(&data); err != nil {
		return nil, nil, fmt.Errorf("%w: reading %q: %v", models.ErrCorruptData, name, err)
	}
	return data, toInts(dims), nil
}

// ReadRows reads count consecutive entries along the leading axis of the
// named array starting at start, using a hyperslab selection so only the
// requested rows are loaded.
func (f *File) ReadRows(name string, start, count int) ([]float64, error) {
	lib.Lock()
	defer lib.Unlock()

	ds, err := f.openDataset(name)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	fileSpace := ds.Space()
	defer fileSpace.Close()

	dims, err := extent(fileSpace, name)
	if err != nil {
		return nil, err
	}
	if start < 0 || count <= 0 || uint(start+count) > dims[0] {
		return nil, fmt.Errorf("%w: rows [%d, %d) of %q with %d entries", models.ErrOutOfRange, start, start+count, name, dims[0])
	}

	offset := make([]uint, len(dims))
	offset[0] = uint(start)
	sel := append([]uint{uint(count)}, dims[1:]...)
	if err := fileSpace.SelectHyperslab(offset, nil, sel, nil); err != nil {
		return nil, fmt.Errorf("selecting rows of %q: %w", name, err)
	}

	memSpace, err := hdf5.CreateSimpleDataspace(sel, nil)
	if err != nil {
		return nil, fmt.Errorf("creating memory dataspace: %w", err)
	}
	defer memSpace.Close()

	data := make([]float64, product(sel))
	if err := ds.ReadSubset(&data, memSpace, fileSpace); err != nil {
		return nil, fmt.Errorf("%w: reading rows of %q: %v", models.ErrCorruptData, name, err)
	}
	return data, nil
}

// WriteFloat64 stores data as a double-precision array with the given shape
func (f *File) WriteFloat64(name string, shape []int, data []float64) error {
	if product(toUints(shape)) != len(data) {
		return fmt.Errorf("%w: %q has %d values for shape %v", models.ErrCorruptData, name, len(data), shape)
	}
	return f.write(name, shape, hdf5.T_NATIVE_DOUBLE, &data)
}

// WriteFloat32 stores data as a single-precision array with the given shape
func (f *File) WriteFloat32(name string, shape []int, data []float32) error {
	if product(toUints(shape)) != len(data) {
		return fmt.Errorf("%w: %q has %d values for shape %v", models.ErrCorruptData, name, len(data), shape)
	}
	return f.write(name, shape, hdf5.T_NATIVE_FLOAT, &data)
}

func (f *File) write(name string, shape []int, dtype *hdf5.Datatype, data interface{}) error {
	lib.Lock()
	defer lib.Unlock()

	if f.f == nil {
		return fmt.Errorf("%w: container %s is closed", models.ErrIO, f.path)
	}
	space, err := hdf5.CreateSimpleDataspace(toUints(shape), nil)
	if err != nil {
		return fmt.Errorf("%w: dataspace for %q: %v", models.ErrIO, name, err)
	}
	defer space.Close()

	ds, err := f.f.CreateDataset(name, dtype, space)
	if err != nil {
		return fmt.Errorf("%w: creating %q in %s: %v", models.ErrIO, name, f.path, err)
	}
	defer ds.Close()

	if err := ds.Write(data); err != nil {
		return fmt.Errorf("%w: writing %q in %s: %v", models.ErrIO, name, f.path, err)
	}
	return nil
}

// extent returns the dimensions of a simple dataspace. Scalar and null
// dataspaces have no extent and are rejected as corrupt.
func extent(space *hdf5.Dataspace, name string) ([]uint, error) {
	if space.SimpleExtentNDims() == 0 {
		return nil, fmt.Errorf("%w: %q is a scalar", models.ErrCorruptData, name)
	}
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, fmt.Errorf("%w: reading shape of %q: %v", models.ErrCorruptData, name, err)
	}
	return dims, nil
}

func product(dims []uint) int {
	n := 1
	for _, d := range dims {
		n *= int(d)
	}
	return n
}

func toInts(dims []uint) []int {
	out := make([]int, len(dims))
	for i, d := range dims {
		out[i] = int(d)
	}
	return out
}

func toUints(dims []int) []uint {
	out := make([]uint, len(dims))
	for i, d := range dims {
		out[i] = uint(d)
	}
	return out
}
