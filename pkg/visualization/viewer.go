// Package visualization renders slices of reconstructed volumes as images
// for quick visual inspection.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"fmrivae/internal/models"
)

// Viewer extracts 2D slices from a volume, scaling intensities to the
// volume's own min/max range
type Viewer struct {
	vol models.Volume

	lo, hi float64
}

// NewViewer creates a new viewer for vol
func NewViewer(vol models.Volume) *Viewer {
	v := &Viewer{vol: vol}
	if len(vol.Data) > 0 {
		v.lo, v.hi = floats.Min(vol.Data), floats.Max(vol.Data)
	}
	return v
}

func (v *Viewer) gray(value float64) color.Gray16 {
	if v.hi <= v.lo {
		return color.Gray16{}
	}
	t := (value - v.lo) / (v.hi - v.lo)
	return color.Gray16{Y: uint16(t*65535 + 0.5)}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	w, h, d := v.vol.Width, v.vol.Height, v.vol.Depth
	var img *image.Gray16

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= w {
			return nil, fmt.Errorf("position %d exceeds width %d", position, w)
		}
		img = image.NewGray16(image.Rect(0, 0, d, h))
		for y := 0; y < h; y++ {
			for z := 0; z < d; z++ {
				img.SetGray16(z, y, v.gray(v.vol.At(position, y, z)))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= h {
			return nil, fmt.Errorf("position %d exceeds height %d", position, h)
		}
		img = image.NewGray16(image.Rect(0, 0, w, d))
		for z := 0; z < d; z++ {
			for x := 0; x < w; x++ {
				img.SetGray16(x, z, v.gray(v.vol.At(x, position, z)))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= d {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, d)
		}
		img = image.NewGray16(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetGray16(x, y, v.gray(v.vol.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveMiddleSlice writes the central axial slice of the volume to filename
func (v *Viewer) SaveMiddleSlice(filename string) error {
	img, err := v.ExtractSlice("z", v.vol.Depth/2)
	if err != nil {
		return err
	}
	return v.SaveSlice(img, filename)
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.vol.Width
	case "y", "Y":
		maxPos = v.vol.Height
	case "z", "Z":
		maxPos = v.vol.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// SaveBatchPreviews writes the middle slice of every reconstructed pair in a
// batch as img<batch>_<sample>_L.png and img<batch>_<sample>_R.png. With a
// non-empty axis each volume instead gets a directory img<batch>_<sample>_L
// holding every slice along that axis.
func SaveBatchPreviews(dir string, batch int, left, right []models.Volume, axis string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	save := func(vols []models.Volume, side string) error {
		for i := range vols {
			name := filepath.Join(dir, fmt.Sprintf("img%d_%d_%s", batch, i, side))
			var err error
			if axis == "" {
				name += ".png"
				err = NewViewer(vols[i]).SaveMiddleSlice(name)
			} else {
				err = NewViewer(vols[i]).SaveSliceSequence(axis, name)
			}
			if err != nil {
				return fmt.Errorf("preview %s: %w", name, err)
			}
		}
		return nil
	}
	if err := save(left, "L"); err != nil {
		return err
	}
	return save(right, "R")
}
