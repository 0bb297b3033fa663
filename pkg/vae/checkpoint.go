package vae

import (
	"fmt"
	"os"

	"github.com/nlpodyssey/gopickle/pytorch"

	"fmrivae/internal/models"
)

// StateDictKey is the checkpoint entry holding the model parameters
const StateDictKey = "state_dict"

// Tensor is a dense parameter array in row-major order
type Tensor struct {
	Shape []int
	Data  []float64
}

// pyMapping is satisfied by both pickled dict flavours
type pyMapping interface {
	Get(key interface{}) (interface{}, bool)
}

// StateDict gives named access to the parameters of a loaded checkpoint
type StateDict struct {
	m pyMapping
}

// LoadStateDict unpickles the PyTorch checkpoint at path and returns its
// state_dict entry.
func LoadStateDict(path string) (StateDict, error) {
	if _, err := os.Stat(path); err != nil {
		return StateDict{}, fmt.Errorf("%w: %s", models.ErrCheckpointMissing, path)
	}

	obj, err := pytorch.Load(path)
	if err != nil {
		return StateDict{}, fmt.Errorf("%w: unpickling %s: %v", models.ErrCheckpointFormat, path, err)
	}
	return stateDictFrom(obj)
}

func stateDictFrom(obj interface{}) (StateDict, error) {
	root, ok := obj.(pyMapping)
	if !ok {
		return StateDict{}, fmt.Errorf("%w: checkpoint root is %T, want a dict", models.ErrCheckpointFormat, obj)
	}
	sd, ok := root.Get(StateDictKey)
	if !ok {
		return StateDict{}, fmt.Errorf("%w: checkpoint has no %q entry", models.ErrCheckpointFormat, StateDictKey)
	}
	m, ok := sd.(pyMapping)
	if !ok {
		return StateDict{}, fmt.Errorf("%w: %q is %T, want a dict", models.ErrCheckpointFormat, StateDictKey, sd)
	}
	return StateDict{m: m}, nil
}

// Tensor returns the named parameter, checking it against the expected shape
func (s StateDict) Tensor(name string, shape ...int) (Tensor, error) {
	v, ok := s.m.Get(name)
	if !ok {
		return Tensor{}, fmt.Errorf("%w: parameter %q missing", models.ErrCheckpointFormat, name)
	}
	pt, ok := v.(*pytorch.Tensor)
	if !ok {
		return Tensor{}, fmt.Errorf("%w: parameter %q is %T", models.ErrCheckpointFormat, name, v)
	}

	if !equalShape(pt.Size, shape) {
		return Tensor{}, fmt.Errorf("%w: parameter %q has shape %v, want %v",
			models.ErrCheckpointFormat, name, pt.Size, shape)
	}
	if !contiguous(pt.Size, pt.Stride) {
		return Tensor{}, fmt.Errorf("%w: parameter %q is not contiguous (stride %v)",
			models.ErrCheckpointFormat, name, pt.Stride)
	}

	n := 1
	for _, d := range pt.Size {
		n *= d
	}
	data, err := storageData(pt.Source, pt.StorageOffset, n)
	if err != nil {
		return Tensor{}, fmt.Errorf("parameter %q: %w", name, err)
	}
	return Tensor{Shape: append([]int(nil), pt.Size...), Data: data}, nil
}

func storageData(src pytorch.StorageInterface, offset, n int) ([]float64, error) {
	var f32s []float32
	switch s := src.(type) {
	case *pytorch.DoubleStorage:
		if offset+n > len(s.Data) {
			return nil, fmt.Errorf("%w: storage holds %d values, need %d", models.ErrCheckpointFormat, len(s.Data), offset+n)
		}
		return append([]float64(nil), s.Data[offset:offset+n]...), nil
	case *pytorch.FloatStorage:
		f32s = s.Data
	case *pytorch.HalfStorage:
		f32s = s.Data
	case *pytorch.BFloat16Storage:
		f32s = s.Data
	default:
		return nil, fmt.Errorf("%w: unsupported storage %T", models.ErrCheckpointFormat, s)
	}

	if offset+n > len(f32s) {
		return nil, fmt.Errorf("%w: storage holds %d values, need %d", models.ErrCheckpointFormat, len(f32s), offset+n)
	}
	out := make([]float64, n)
	for i, v := range f32s[offset : offset+n] {
		out[i] = float64(v)
	}
	return out, nil
}

func equalShape(a, b []int) bool {
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

// contiguous reports whether stride describes a row-major layout of size.
// An empty stride is treated as contiguous.
func contiguous(size, stride []int) bool {
	if len(stride) == 0 {
		return true
	}
	if len(stride) != len(size) {
		return false
	}
	expect := 1
	for i := len(size) - 1; i >= 0; i-- {
		if size[i] != 1 && stride[i] != expect {
			return false
		}
		expect *= size[i]
	}
	return true
}
