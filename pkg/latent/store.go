// Package latent persists latent distributions and reconstructions as one
// HDF5 file per batch, keyed by the batch's sequential index.
//
// Encode writes save_z<idx>.h5 holding z_distribution = [mu | logvar] with
// shape [batch, 2*zdim]. Decode later reads only the mu half, so decoding
// reconstructs the most likely volume rather than a random sample.
// Reconstructions go to img<idx>.h5 with recon_L and recon_R arrays.
package latent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"fmrivae/internal/h5"
	"fmrivae/internal/models"
)

const (
	// LatentPrefix starts every latent file name
	LatentPrefix = "save_z"

	// ReconPrefix starts every reconstruction file name
	ReconPrefix = "img"

	// Ext is the container file extension
	Ext = ".h5"

	// LatentKey is the array holding [mu | logvar]
	LatentKey = "z_distribution"

	// ReconLeftKey and ReconRightKey hold the reconstructed hemispheres
	ReconLeftKey  = "recon_L"
	ReconRightKey = "recon_R"
)

// Store reads and writes per-batch files under two directories
type Store struct {
	LatentDir string
	ReconDir  string
}

// NewStore creates a Store. Directories are not created here.
func NewStore(latentDir, reconDir string) *Store {
	return &Store{LatentDir: latentDir, ReconDir: reconDir}
}

// LatentPath returns the latent file path for batch idx
func (s *Store) LatentPath(idx int) string {
	return filepath.Join(s.LatentDir, LatentPrefix+strconv.Itoa(idx)+Ext)
}

// ReconPath returns the reconstruction file path for batch idx
func (s *Store) ReconPath(idx int) string {
	return filepath.Join(s.ReconDir, ReconPrefix+strconv.Itoa(idx)+Ext)
}

// WriteLatent stores [mu | logvar] for batch idx, replacing any previous file
func (s *Store) WriteLatent(idx int, d models.LatentDistribution) error {
	z := d.Concat()
	r, c := z.Dims()
	return writeAtomic(s.LatentPath(idx), func(f *h5.File) error {
		return f.WriteFloat64(LatentKey, []int{r, c}, z.RawMatrix().Data)
	})
}

// ReadDistribution reads both halves of the latent file for batch idx
func (s *Store) ReadDistribution(idx, zdim int) (models.LatentDistribution, error) {
	z, err := s.readLatentMatrix(idx, zdim)
	if err != nil {
		return models.LatentDistribution{}, err
	}
	return models.SplitLatent(z, zdim)
}

// ReadLatent returns only the mu columns of the latent file for batch idx.
// The logvar half is stored but never used for decoding.
func (s *Store) ReadLatent(idx, zdim int) (*mat.Dense, error) {
	z, err := s.readLatentMatrix(idx, zdim)
	if err != nil {
		return nil, err
	}
	r, _ := z.Dims()
	return mat.DenseCopyOf(z.Slice(0, r, 0, zdim)), nil
}

func (s *Store) readLatentMatrix(idx, zdim int) (*mat.Dense, error) {
	if zdim <= 0 {
		return nil, fmt.Errorf("%w: zdim must be positive, got %d", models.ErrConfig, zdim)
	}

	f, err := h5.Open(s.LatentPath(idx))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, shape, err := f.ReadFloat64(LatentKey)
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 {
		return nil, fmt.Errorf("%w: %s in %s has rank %d", models.ErrCorruptData, LatentKey, f.Path(), len(shape))
	}
	if shape[1] != 2*zdim {
		return nil, fmt.Errorf("%w: %s in %s has width %d, want 2*zdim = %d",
			models.ErrCorruptData, LatentKey, f.Path(), shape[1], 2*zdim)
	}
	if shape[0] == 0 {
		return nil, fmt.Errorf("%w: %s in %s is empty", models.ErrCorruptData, LatentKey, f.Path())
	}
	return mat.NewDense(shape[0], shape[1], data), nil
}

// WriteReconstruction stores the reconstructed pairs of batch idx as
// [batch, D, H, W] single-precision arrays
func (s *Store) WriteReconstruction(idx int, left, right []models.Volume) error {
	if len(left) != len(right) || len(left) == 0 {
		return fmt.Errorf("%w: %d left and %d right reconstructions", models.ErrCorruptData, len(left), len(right))
	}
	shape, leftData, err := stack(left)
	if err != nil {
		return fmt.Errorf("left reconstruction: %w", err)
	}
	rshape, rightData, err := stack(right)
	if err != nil {
		return fmt.Errorf("right reconstruction: %w", err)
	}
	if !equalInts(shape, rshape) {
		return fmt.Errorf("%w: hemisphere shapes differ: %v vs %v", models.ErrCorruptData, shape, rshape)
	}

	return writeAtomic(s.ReconPath(idx), func(f *h5.File) error {
		if err := f.WriteFloat32(ReconLeftKey, shape, leftData); err != nil {
			return err
		}
		return f.WriteFloat32(ReconRightKey, shape, rightData)
	})
}

// ReadReconstruction reads the reconstructed pairs of batch idx
func (s *Store) ReadReconstruction(idx int) (left, right []models.Volume, err error) {
	f, err := h5.Open(s.ReconPath(idx))
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	left, err = unstack(f, ReconLeftKey)
	if err != nil {
		return nil, nil, err
	}
	right, err = unstack(f, ReconRightKey)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

// Discover lists the latent directory and returns the batch indices of all
// latent files in ascending order. Indices are parsed from the file names and
// must run 0..n-1 without gaps; anything else is reported as corrupt so that
// decode never pairs a batch number with the wrong file.
func (s *Store) Discover() ([]int, error) {
	entries, err := os.ReadDir(s.LatentDir)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", models.ErrNotFound, s.LatentDir, err)
	}

	var indices []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, LatentPrefix) || !strings.HasSuffix(name, Ext) {
			continue
		}
		num := strings.TrimSuffix(strings.TrimPrefix(name, LatentPrefix), Ext)
		idx, err := strconv.Atoi(num)
		if err != nil || idx < 0 || strconv.Itoa(idx) != num {
			return nil, fmt.Errorf("%w: latent file %q has no valid batch index", models.ErrCorruptData, name)
		}
		indices = append(indices, idx)
	}

	sort.Ints(indices)
	for i, idx := range indices {
		if idx != i {
			return nil, fmt.Errorf("%w: latent files in %s are not numbered 0..%d (found %d at position %d)",
				models.ErrCorruptData, s.LatentDir, len(indices)-1, idx, i)
		}
	}
	return indices, nil
}

// writeAtomic writes to a temporary file and renames it into place so a
// failed write never leaves a truncated file under the final name.
func writeAtomic(path string, fill func(f *h5.File) error) error {
	tmp := path + ".tmp"
	f, err := h5.Create(tmp)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: closing %s: %v", models.ErrIO, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	return nil
}

func stack(vols []models.Volume) ([]int, []float32, error) {
	ref := vols[0]
	out := make([]float32, 0, len(vols)*ref.Len())
	for i, v := range vols {
		if err := v.Validate(); err != nil {
			return nil, nil, fmt.Errorf("sample %d: %w", i, err)
		}
		if !v.SameShape(ref) {
			return nil, nil, fmt.Errorf("%w: sample %d shape %v, want %v", models.ErrCorruptData, i, v.Shape(), ref.Shape())
		}
		for _, x := range v.Data {
			out = append(out, float32(x))
		}
	}
	return []int{len(vols), ref.Depth, ref.Height, ref.Width}, out, nil
}

func unstack(f *h5.File, key string) ([]models.Volume, error) {
	data, shape, err := f.ReadFloat64(key)
	if err != nil {
		return nil, err
	}
	if len(shape) != 4 {
		return nil, fmt.Errorf("%w: %s in %s has rank %d", models.ErrCorruptData, key, f.Path(), len(shape))
	}

	n, depth, height, width := shape[0], shape[1], shape[2], shape[3]
	size := depth * height * width
	vols := make([]models.Volume, n)
	for i := range vols {
		vols[i] = models.Volume{
			Data:   data[i*size : (i+1)*size],
			Width:  width,
			Height: height,
			Depth:  depth,
		}
	}
	return vols, nil
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
