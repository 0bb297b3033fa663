// Package dataset provides indexed access to paired left/right hemisphere
// fMRI volumes stored in an HDF5 container.
//
// The container holds two arrays, LeftData and RightData, sharing a leading
// sample axis. Each sample is either [D, H, W] or [1, D, H, W] with a
// singleton channel axis.
package dataset

import (
	"fmt"

	"fmrivae/internal/h5"
	"fmrivae/internal/models"
)

const (
	// LeftKey is the array holding left hemisphere volumes
	LeftKey = "LeftData"

	// RightKey is the array holding right hemisphere volumes
	RightKey = "RightData"
)

// Dataset is a read-only view over a paired-volume container. It owns the
// underlying file handle until Close is called.
type Dataset struct {
	file *h5.File

	// n is the number of samples along the shared leading axis
	n int

	width  int
	height int
	depth  int
}

// Open opens the container at path and validates that both hemisphere arrays
// agree on sample count and per-sample shape.
func Open(path string) (*Dataset, error) {
	f, err := h5.Open(path)
	if err != nil {
		return nil, err
	}

	ds, err := newDataset(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return ds, nil
}

func newDataset(f *h5.File) (*Dataset, error) {
	leftShape, err := f.Shape(LeftKey)
	if err != nil {
		return nil, err
	}
	rightShape, err := f.Shape(RightKey)
	if err != nil {
		return nil, err
	}

	n, w, h, d, err := pairedDims(leftShape, rightShape)
	if err != nil {
		return nil, err
	}

	return &Dataset{
		file:   f,
		n:      n,
		width:  w,
		height: h,
		depth:  d,
	}, nil
}

// pairedDims checks that both hemisphere array shapes describe the same
// number of samples with the same per-sample shape
func pairedDims(leftShape, rightShape []int) (n, width, height, depth int, err error) {
	lw, lh, ld, err := sampleDims(leftShape)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("%s: %w", LeftKey, err)
	}
	rw, rh, rd, err := sampleDims(rightShape)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("%s: %w", RightKey, err)
	}
	if leftShape[0] != rightShape[0] {
		return 0, 0, 0, 0, fmt.Errorf("%w: %s has %d samples but %s has %d",
			models.ErrCorruptData, LeftKey, leftShape[0], RightKey, rightShape[0])
	}
	if lw != rw || lh != rh || ld != rd {
		return 0, 0, 0, 0, fmt.Errorf("%w: hemisphere shapes differ: %v vs %v",
			models.ErrCorruptData, leftShape[1:], rightShape[1:])
	}
	return leftShape[0], lw, lh, ld, nil
}

// sampleDims interprets an array shape with a leading sample axis
func sampleDims(shape []int) (width, height, depth int, err error) {
	switch len(shape) {
	case 4:
		return shape[3], shape[2], shape[1], nil
	case 5:
		if shape[1] != 1 {
			return 0, 0, 0, fmt.Errorf("%w: expected a single channel, got %d", models.ErrCorruptData, shape[1])
		}
		return shape[4], shape[3], shape[2], nil
	default:
		return 0, 0, 0, fmt.Errorf("%w: unsupported array rank %d", models.ErrCorruptData, len(shape))
	}
}

// Len returns the number of samples
func (d *Dataset) Len() int {
	return d.n
}

// Shape returns the per-volume width, height and depth
func (d *Dataset) Shape() (width, height, depth int) {
	return d.width, d.height, d.depth
}

// Get returns the volume pair at index
func (d *Dataset) Get(index int) (models.VolumePair, error) {
	pairs, err := d.GetRange(index, 1)
	if err != nil {
		return models.VolumePair{}, err
	}
	return pairs[0], nil
}

// GetRange returns count consecutive pairs starting at start. Each hemisphere
// is read with a single hyperslab selection.
func (d *Dataset) GetRange(start, count int) ([]models.VolumePair, error) {
	if start < 0 || count <= 0 || start+count > d.n {
		return nil, fmt.Errorf("%w: samples [%d, %d) of %d", models.ErrOutOfRange, start, start+count, d.n)
	}

	left, err := d.file.ReadRows(LeftKey, start, count)
	if err != nil {
		return nil, err
	}
	right, err := d.file.ReadRows(RightKey, start, count)
	if err != nil {
		return nil, err
	}

	size := d.width * d.height * d.depth
	pairs := make([]models.VolumePair, count)
	for i := range pairs {
		pairs[i] = models.VolumePair{
			Left:  d.volume(left[i*size : (i+1)*size]),
			Right: d.volume(right[i*size : (i+1)*size]),
		}
	}
	return pairs, nil
}

func (d *Dataset) volume(data []float64) models.Volume {
	return models.Volume{
		Data:   data,
		Width:  d.width,
		Height: d.height,
		Depth:  d.depth,
	}
}

// Close releases the underlying file handle
func (d *Dataset) Close() error {
	return d.file.Close()
}
