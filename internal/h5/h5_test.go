package h5

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/hdf5"

	"fmrivae/internal/models"
)

func TestWriteReadRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "arrays.h5")

	f, err := Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	data := make([]float64, 3*2*2)
	for i := range data {
		data[i] = float64(i) + 0.5
	}
	if err := f.WriteFloat64("values", []int{3, 2, 2}, data); err != nil {
		t.Fatalf("WriteFloat64 failed: %v", err)
	}
	if err := f.WriteFloat32("single", []int{2}, []float32{1.25, -2}); err != nil {
		t.Fatalf("WriteFloat32 failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	shape, err := r.Shape("values")
	if err != nil {
		t.Fatalf("Shape failed: %v", err)
	}
	if len(shape) != 3 || shape[0] != 3 || shape[1] != 2 || shape[2] != 2 {
		t.Errorf("Expected shape [3 2 2], got %v", shape)
	}

	got, _, err := r.ReadFloat64("values")
	if err != nil {
		t.Fatalf("ReadFloat64 failed: %v", err)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("Value %d: expected %f, got %f", i, data[i], got[i])
		}
	}

	single, _, err := r.ReadFloat64("single")
	if err != nil {
		t.Fatalf("ReadFloat64 on float32 data failed: %v", err)
	}
	if single[0] != 1.25 || single[1] != -2 {
		t.Errorf("Expected [1.25 -2], got %v", single)
	}

	rows, err := r.ReadRows("values", 1, 2)
	if err != nil {
		t.Fatalf("ReadRows failed: %v", err)
	}
	if len(rows) != 8 || rows[0] != data[4] || rows[7] != data[11] {
		t.Errorf("Unexpected rows: %v", rows)
	}

	if _, err := r.ReadRows("values", 2, 2); !errors.Is(err, models.ErrOutOfRange) {
		t.Errorf("Expected ErrOutOfRange, got %v", err)
	}
	if _, _, err := r.ReadFloat64("missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing dataset, got %v", err)
	}
}

func TestOpenInvalid(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := Open(filepath.Join(tmpDir, "nope.h5")); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing file, got %v", err)
	}

	bogus := filepath.Join(tmpDir, "bogus.h5")
	if err := os.WriteFile(bogus, []byte("not hdf5"), 0644); err != nil {
		t.Fatalf("Failed to write bogus file: %v", err)
	}
	if _, err := Open(bogus); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for non-HDF5 file, got %v", err)
	}
}

func TestWriteShapeMismatch(t *testing.T) {
	f, err := Create(filepath.Join(t.TempDir(), "bad.h5"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer f.Close()

	if err := f.WriteFloat64("x", []int{2, 2}, []float64{1, 2, 3}); !errors.Is(err, models.ErrCorruptData) {
		t.Errorf("Expected ErrCorruptData, got %v", err)
	}
}

// TestScalarRejected verifies that a zero-rank array is reported as corrupt
func TestScalarRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scalar.h5")

	hf, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	space, err := hdf5.CreateDataspace(hdf5.S_SCALAR)
	if err != nil {
		t.Fatalf("CreateDataspace failed: %v", err)
	}
	ds, err := hf.CreateDataset("value", hdf5.T_NATIVE_DOUBLE, space)
	if err != nil {
		t.Fatalf("CreateDataset failed: %v", err)
	}
	ds.Close()
	space.Close()
	hf.Close()

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	if _, err := f.Shape("value"); !errors.Is(err, models.ErrCorruptData) {
		t.Errorf("Expected ErrCorruptData from Shape, got %v", err)
	}
	if _, _, err := f.ReadFloat64("value"); !errors.Is(err, models.ErrCorruptData) {
		t.Errorf("Expected ErrCorruptData from ReadFloat64, got %v", err)
	}
	if _, err := f.ReadRows("value", 0, 1); !errors.Is(err, models.ErrCorruptData) {
		t.Errorf("Expected ErrCorruptData from ReadRows, got %v", err)
	}
}
