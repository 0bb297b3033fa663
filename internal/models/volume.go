package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Volume represents a single-channel 3D fMRI volume for one hemisphere
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order (depth, height, width)
	Data []float64

	// Width is the width of the volume in voxels
	Width int

	// Height is the height of the volume in voxels
	Height int

	// Depth is the depth of the volume in voxels
	Depth int
}

// NewVolume allocates a zero-filled volume with the given dimensions
func NewVolume(width, height, depth int) Volume {
	return Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// Len returns the number of voxels in the volume
func (v Volume) Len() int {
	return v.Width * v.Height * v.Depth
}

// Shape returns the dimensions in storage order: depth, height, width
func (v Volume) Shape() [3]int {
	return [3]int{v.Depth, v.Height, v.Width}
}

// SameShape reports whether both volumes have identical dimensions
func (v Volume) SameShape(o Volume) bool {
	return v.Shape() == o.Shape()
}

// At returns the voxel at (x, y, z)
func (v Volume) At(x, y, z int) float64 {
	return v.Data[z*v.Width*v.Height+y*v.Width+x]
}

// Validate checks that Data matches the declared dimensions
func (v Volume) Validate() error {
	if v.Width <= 0 || v.Height <= 0 || v.Depth <= 0 {
		return fmt.Errorf("%w: volume dimensions %dx%dx%d", ErrCorruptData, v.Width, v.Height, v.Depth)
	}
	if len(v.Data) != v.Len() {
		return fmt.Errorf("%w: volume has %d voxels, want %d", ErrCorruptData, len(v.Data), v.Len())
	}
	return nil
}

// VolumePair holds the left and right hemisphere volumes of one sample.
// Both volumes share spatial dimensions.
type VolumePair struct {
	Left  Volume
	Right Volume
}

// Batch is an ordered run of consecutive dataset samples
type Batch struct {
	// Index is the sequential batch number, used to key persisted files
	Index int

	// Start is the dataset index of the first pair
	Start int

	Pairs []VolumePair
}

// Size returns the number of pairs in the batch
func (b Batch) Size() int {
	return len(b.Pairs)
}

// Split returns the left and right volumes of the batch as separate slices
func (b Batch) Split() (left, right []Volume) {
	left = make([]Volume, len(b.Pairs))
	right = make([]Volume, len(b.Pairs))
	for i, p := range b.Pairs {
		left[i] = p.Left
		right[i] = p.Right
	}
	return left, right
}

// LatentDistribution holds the per-sample Gaussian parameters produced by the
// encoder. Both matrices are [batch, zdim].
type LatentDistribution struct {
	Mu     *mat.Dense
	LogVar *mat.Dense
}

// Dims returns the batch size and latent dimensionality
func (d LatentDistribution) Dims() (batch, zdim int) {
	return d.Mu.Dims()
}

// Concat returns [mu | logvar] as a single [batch, 2*zdim] matrix
func (d LatentDistribution) Concat() *mat.Dense {
	r, c := d.Mu.Dims()
	out := mat.NewDense(r, 2*c, nil)
	out.Slice(0, r, 0, c).(*mat.Dense).Copy(d.Mu)
	out.Slice(0, r, c, 2*c).(*mat.Dense).Copy(d.LogVar)
	return out
}

// SplitLatent splits a [batch, 2*zdim] matrix into mu and logvar
func SplitLatent(z *mat.Dense, zdim int) (LatentDistribution, error) {
	r, c := z.Dims()
	if c != 2*zdim {
		return LatentDistribution{}, fmt.Errorf("%w: latent width %d, want %d", ErrCorruptData, c, 2*zdim)
	}
	mu := mat.DenseCopyOf(z.Slice(0, r, 0, zdim))
	logvar := mat.DenseCopyOf(z.Slice(0, r, zdim, c))
	return LatentDistribution{Mu: mu, LogVar: logvar}, nil
}
