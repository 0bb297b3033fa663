package dataset

import (
	"fmt"
	"path/filepath"

	"fmrivae/internal/h5"
	"fmrivae/internal/models"
)

// Split names one container of a prefix-named dataset
type Split string

const (
	// SplitTest is the held-out container "<prefix>.h5"
	SplitTest Split = ""

	// SplitTrain and SplitVal select "<prefix>_train.h5" and "<prefix>_val.h5"
	SplitTrain Split = "train"
	SplitVal   Split = "val"
)

// OpenSplit opens one split of the dataset at path. For the test split a
// path with an extension is opened as is and a bare path is treated as a
// prefix. Train and val always treat path as a prefix.
func OpenSplit(path string, split Split) (*Dataset, error) {
	switch split {
	case SplitTest:
		if filepath.Ext(path) != "" {
			return Open(path)
		}
		return OpenTest(path)
	case SplitTrain, SplitVal:
		train, val, err := OpenSplits(path)
		if err != nil {
			return nil, err
		}
		if split == SplitTrain {
			val.Close()
			return train, nil
		}
		train.Close()
		return val, nil
	default:
		return nil, fmt.Errorf("%w: unknown split %q (choose train or val)", models.ErrConfig, split)
	}
}

// OpenTest opens the held-out container named "<prefix>.h5"
func OpenTest(prefix string) (*Dataset, error) {
	return Open(prefix + ".h5")
}

// OpenSplits opens the training and validation containers named
// "<prefix>_train.h5" and "<prefix>_val.h5".
func OpenSplits(prefix string) (train, val *Dataset, err error) {
	train, err = Open(prefix + "_train.h5")
	if err != nil {
		return nil, nil, fmt.Errorf("opening training split: %w", err)
	}
	val, err = Open(prefix + "_val.h5")
	if err != nil {
		train.Close()
		return nil, nil, fmt.Errorf("opening validation split: %w", err)
	}
	return train, val, nil
}

const (
	// LeftMaskKey is the array holding the left hemisphere validity mask
	LeftMaskKey = "LeftMask"

	// RightMaskKey is the array holding the right hemisphere validity mask
	RightMaskKey = "RightMask"
)

// LoadMasks reads the left and right validity masks from the container at
// path. Masks are [H, W], [D, H, W] or [1, D, H, W] arrays of 0/1 values.
func LoadMasks(path string) (left, right *models.Volume, err error) {
	f, err := h5.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	left, err = readMask(f, LeftMaskKey)
	if err != nil {
		return nil, nil, err
	}
	right, err = readMask(f, RightMaskKey)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func readMask(f *h5.File, key string) (*models.Volume, error) {
	data, shape, err := f.ReadFloat64(key)
	if err != nil {
		return nil, err
	}

	v := &models.Volume{Data: data, Depth: 1}
	switch len(shape) {
	case 2:
		v.Height, v.Width = shape[0], shape[1]
	case 3:
		v.Depth, v.Height, v.Width = shape[0], shape[1], shape[2]
	case 4:
		if shape[0] != 1 {
			return nil, fmt.Errorf("%w: %s has leading extent %d", models.ErrCorruptData, key, shape[0])
		}
		v.Depth, v.Height, v.Width = shape[1], shape[2], shape[3]
	default:
		return nil, fmt.Errorf("%w: %s has unsupported rank %d", models.ErrCorruptData, key, len(shape))
	}
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
