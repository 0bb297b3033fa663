package dataset

import (
	"fmt"

	"fmrivae/internal/h5"
	"fmrivae/internal/models"
)

// Create writes pairs to a new container at path in the layout Open
// expects: LeftData and RightData as [N, D, H, W] single-precision arrays.
func Create(path string, pairs []models.VolumePair) error {
	if len(pairs) == 0 {
		return fmt.Errorf("%w: no samples to write", models.ErrConfig)
	}
	ref := pairs[0].Left
	if err := ref.Validate(); err != nil {
		return err
	}

	size := ref.Len()
	left := make([]float32, 0, len(pairs)*size)
	right := make([]float32, 0, len(pairs)*size)
	for i, p := range pairs {
		if !p.Left.SameShape(ref) || !p.Right.SameShape(ref) {
			return fmt.Errorf("%w: sample %d shape differs from sample 0", models.ErrCorruptData, i)
		}
		left = appendFloat32(left, p.Left.Data)
		right = appendFloat32(right, p.Right.Data)
	}

	f, err := h5.Create(path)
	if err != nil {
		return err
	}

	shape := []int{len(pairs), ref.Depth, ref.Height, ref.Width}
	if err := f.WriteFloat32(LeftKey, shape, left); err != nil {
		f.Close()
		return err
	}
	if err := f.WriteFloat32(RightKey, shape, right); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %v", models.ErrIO, path, err)
	}
	return nil
}

// CreateMasks writes left and right validity masks as [D, H, W] arrays
func CreateMasks(path string, left, right models.Volume) error {
	f, err := h5.Create(path)
	if err != nil {
		return err
	}
	ls, rs := left.Shape(), right.Shape()
	if err := f.WriteFloat32(LeftMaskKey, ls[:], appendFloat32(nil, left.Data)); err != nil {
		f.Close()
		return err
	}
	if err := f.WriteFloat32(RightMaskKey, rs[:], appendFloat32(nil, right.Data)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %v", models.ErrIO, path, err)
	}
	return nil
}

func appendFloat32(dst []float32, src []float64) []float32 {
	for _, v := range src {
		dst = append(dst, float32(v))
	}
	return dst
}
