package latent

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"fmrivae/internal/models"
)

func randomDistribution(rng *rand.Rand, batch, zdim int) models.LatentDistribution {
	mu := mat.NewDense(batch, zdim, nil)
	logvar := mat.NewDense(batch, zdim, nil)
	for i := 0; i < batch; i++ {
		for j := 0; j < zdim; j++ {
			mu.Set(i, j, rng.NormFloat64())
			logvar.Set(i, j, -rng.Float64())
		}
	}
	return models.LatentDistribution{Mu: mu, LogVar: logvar}
}

func TestLatentRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir(), t.TempDir())
	rng := rand.New(rand.NewSource(11))

	for idx, zdim := range []int{1, 4, 32} {
		d := randomDistribution(rng, 3, zdim)
		require.NoError(t, store.WriteLatent(idx, d))

		mu, err := store.ReadLatent(idx, zdim)
		require.NoError(t, err)
		assert.True(t, mat.Equal(d.Mu, mu), "zdim %d: mu did not survive the round trip", zdim)

		full, err := store.ReadDistribution(idx, zdim)
		require.NoError(t, err)
		assert.True(t, mat.Equal(d.LogVar, full.LogVar))
	}
}

func TestReadLatentTakesMuColumns(t *testing.T) {
	store := NewStore(t.TempDir(), t.TempDir())
	const zdim = 256

	mu := mat.NewDense(4, zdim, nil)
	logvar := mat.NewDense(4, zdim, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < zdim; j++ {
			mu.Set(i, j, float64(i*zdim+j))
			logvar.Set(i, j, -1000-float64(j))
		}
	}
	require.NoError(t, store.WriteLatent(0, models.LatentDistribution{Mu: mu, LogVar: logvar}))

	got, err := store.ReadLatent(0, zdim)
	require.NoError(t, err)
	r, c := got.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, zdim, c)
	assert.True(t, mat.Equal(mu, got))
}

func TestReadLatentWrongZDim(t *testing.T) {
	store := NewStore(t.TempDir(), t.TempDir())
	rng := rand.New(rand.NewSource(2))
	require.NoError(t, store.WriteLatent(0, randomDistribution(rng, 2, 8)))

	_, err := store.ReadLatent(0, 16)
	assert.True(t, errors.Is(err, models.ErrCorruptData), "got %v", err)
}

func TestReadLatentMissing(t *testing.T) {
	store := NewStore(t.TempDir(), t.TempDir())
	_, err := store.ReadLatent(3, 8)
	assert.True(t, errors.Is(err, models.ErrNotFound), "got %v", err)
}

func TestWriteLatentOverwrites(t *testing.T) {
	store := NewStore(t.TempDir(), t.TempDir())
	rng := rand.New(rand.NewSource(5))

	require.NoError(t, store.WriteLatent(0, randomDistribution(rng, 2, 3)))
	second := randomDistribution(rng, 5, 3)
	require.NoError(t, store.WriteLatent(0, second))

	mu, err := store.ReadLatent(0, 3)
	require.NoError(t, err)
	assert.True(t, mat.Equal(second.Mu, mu))

	_, err = os.Stat(store.LatentPath(0) + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file should be gone")
}

func TestWriteLatentUnwritableDir(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "does", "not", "exist"), t.TempDir())
	rng := rand.New(rand.NewSource(5))

	err := store.WriteLatent(0, randomDistribution(rng, 1, 2))
	assert.True(t, errors.Is(err, models.ErrIO), "got %v", err)
}

func TestReconstructionRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir(), t.TempDir())

	var left, right []models.Volume
	for i := 0; i < 3; i++ {
		l := models.NewVolume(4, 3, 2)
		r := models.NewVolume(4, 3, 2)
		for j := range l.Data {
			l.Data[j] = float64(i) + float64(j)/4
			r.Data[j] = -float64(j)
		}
		left = append(left, l)
		right = append(right, r)
	}
	require.NoError(t, store.WriteReconstruction(7, left, right))
	assert.FileExists(t, filepath.Join(store.ReconDir, "img7.h5"))

	gotL, gotR, err := store.ReadReconstruction(7)
	require.NoError(t, err)
	require.Len(t, gotL, 3)
	require.Len(t, gotR, 3)
	for i := range left {
		assert.True(t, gotL[i].SameShape(left[i]))
		assert.InDeltaSlice(t, left[i].Data, gotL[i].Data, 1e-6)
		assert.InDeltaSlice(t, right[i].Data, gotR[i].Data, 1e-6)
	}
}

func TestWriteReconstructionMismatch(t *testing.T) {
	store := NewStore(t.TempDir(), t.TempDir())
	err := store.WriteReconstruction(0,
		[]models.Volume{models.NewVolume(2, 2, 1)},
		[]models.Volume{models.NewVolume(3, 2, 1)})
	assert.True(t, errors.Is(err, models.ErrCorruptData), "got %v", err)
}

func TestDiscover(t *testing.T) {
	store := NewStore(t.TempDir(), t.TempDir())
	rng := rand.New(rand.NewSource(1))
	for idx := 2; idx >= 0; idx-- {
		require.NoError(t, store.WriteLatent(idx, randomDistribution(rng, 1, 2)))
	}
	// Unrelated files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(store.LatentDir, "notes.txt"), nil, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(store.LatentDir, "save_z9.h5.d"), 0755))

	indices, err := store.Discover()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, indices)
}

func TestDiscoverGap(t *testing.T) {
	store := NewStore(t.TempDir(), t.TempDir())
	rng := rand.New(rand.NewSource(1))
	for _, idx := range []int{0, 1, 3} {
		require.NoError(t, store.WriteLatent(idx, randomDistribution(rng, 1, 2)))
	}

	_, err := store.Discover()
	assert.True(t, errors.Is(err, models.ErrCorruptData), "got %v", err)
}

func TestDiscoverMalformedName(t *testing.T) {
	store := NewStore(t.TempDir(), t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(store.LatentDir, "save_z01.h5"), nil, 0644))

	_, err := store.Discover()
	assert.True(t, errors.Is(err, models.ErrCorruptData), "got %v", err)
}

func TestDiscoverMissingDir(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing"), t.TempDir())
	_, err := store.Discover()
	assert.True(t, errors.Is(err, models.ErrNotFound), "got %v", err)
}

func TestDiscoverEmpty(t *testing.T) {
	store := NewStore(t.TempDir(), t.TempDir())
	indices, err := store.Discover()
	require.NoError(t, err)
	assert.Empty(t, indices)
}
