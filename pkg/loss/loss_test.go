package loss

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"fmrivae/internal/models"
)

func volume(width, height int, values ...float64) models.Volume {
	v := models.NewVolume(width, height, 1)
	copy(v.Data, values)
	return v
}

func randomBatch(rng *rand.Rand, n, width, height int) []models.Volume {
	out := make([]models.Volume, n)
	for i := range out {
		out[i] = models.NewVolume(width, height, 1)
		for j := range out[i].Data {
			// Roughly a third of voxels are background
			if rng.Intn(3) > 0 {
				out[i].Data[j] = rng.NormFloat64()
			}
		}
	}
	return out
}

func randomLatent(rng *rand.Rand, n, zdim int) (*mat.Dense, *mat.Dense) {
	mu := mat.NewDense(n, zdim, nil)
	logvar := mat.NewDense(n, zdim, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < zdim; j++ {
			mu.Set(i, j, rng.NormFloat64())
			logvar.Set(i, j, rng.NormFloat64())
		}
	}
	return mu, logvar
}

func TestKLDStandardNormal(t *testing.T) {
	mu := mat.NewDense(3, 8, nil)
	logvar := mat.NewDense(3, 8, nil)

	kld, err := KLD(mu, logvar)
	require.NoError(t, err)
	assert.Equal(t, 0.0, kld)
}

func TestKLDKnownValue(t *testing.T) {
	// One sample, one dimension: mu=1, logvar=0 gives 0.5 * mu^2
	kld, err := KLD(mat.NewDense(1, 1, []float64{1}), mat.NewDense(1, 1, []float64{0}))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, kld, 1e-12)

	// Two samples are averaged, not summed
	kld, err = KLD(mat.NewDense(2, 1, []float64{1, 0}), mat.NewDense(2, 1, []float64{0, 0}))
	require.NoError(t, err)
	assert.InDelta(t, 0.25, kld, 1e-12)
}

func TestKLDNonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		mu, logvar := randomLatent(rng, 4, 16)
		kld, err := KLD(mu, logvar)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, kld, 0.0)
	}
}

func TestBetaZeroIsPlainAutoencoder(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	xl, xr := randomBatch(rng, 3, 6, 6), randomBatch(rng, 3, 6, 6)
	rl, rr := randomBatch(rng, 3, 6, 6), randomBatch(rng, 3, 6, 6)

	for i := 0; i < 5; i++ {
		mu, logvar := randomLatent(rng, 3, 4)
		res, err := Compute(Inputs{
			XL: xl, XR: xr, ReconL: rl, ReconR: rr,
			Mu: mu, LogVar: logvar,
			Beta: 0,
		})
		require.NoError(t, err)
		assert.Equal(t, res.MSEL+res.MSER, res.Total)
		assert.GreaterOrEqual(t, res.MSEL, 0.0)
		assert.GreaterOrEqual(t, res.MSER, 0.0)
	}
}

func TestComputeComposition(t *testing.T) {
	xl := []models.Volume{volume(2, 2, 1, 0, 2, 0)}
	rl := []models.Volume{volume(2, 2, 2, 5, 2, 5)}
	xr := []models.Volume{volume(2, 2, 1, 1, 1, 1)}
	rr := []models.Volume{volume(2, 2, 1, 1, 1, 3)}

	res, err := Compute(Inputs{
		XL: xl, XR: xr, ReconL: rl, ReconR: rr,
		Mu:     mat.NewDense(1, 2, []float64{1, 1}),
		LogVar: mat.NewDense(1, 2, []float64{0, 0}),
		Beta:   4,
	})
	require.NoError(t, err)

	// Left: only voxels 0 and 2 are valid; squared errors 1 and 0 over 4 voxels
	assert.InDelta(t, 0.25, res.MSEL, 1e-12)
	// Right: all valid; one squared error of 4 over 4 voxels
	assert.InDelta(t, 1.0, res.MSER, 1e-12)
	assert.InDelta(t, 1.0, res.KLD, 1e-12)
	assert.InDelta(t, 1.0, res.BetaScaled, 1e-12)
	assert.InDelta(t, 2.25, res.Total, 1e-12)
}

func TestAllZeroMask(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := randomBatch(rng, 2, 4, 4)
	recon := randomBatch(rng, 2, 4, 4)
	mask := models.NewVolume(4, 4, 1)

	mse, err := MaskedMSE(x, recon, &mask)
	require.NoError(t, err)
	assert.Equal(t, 0.0, mse)
}

func TestMaskIntersectsNonZero(t *testing.T) {
	x := []models.Volume{volume(2, 1, 3, 3)}
	recon := []models.Volume{volume(2, 1, 1, 1)}
	mask := volume(2, 1, 1, 0)

	mse, err := MaskedMSE(x, recon, &mask)
	require.NoError(t, err)
	// One valid voxel with squared error 4; denominator stays at 2
	assert.InDelta(t, 2.0, mse, 1e-12)
}

func TestMasksAreIndependent(t *testing.T) {
	x := []models.Volume{volume(2, 1, 1, 1)}
	recon := []models.Volume{volume(2, 1, 0, 0)}
	empty := volume(2, 1, 0, 0)

	res, err := Compute(Inputs{
		XL: x, XR: x, ReconL: recon, ReconR: recon,
		Mu: mat.NewDense(1, 1, nil), LogVar: mat.NewDense(1, 1, nil),
		Beta:     1,
		LeftMask: &empty,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.MSEL)
	assert.InDelta(t, 1.0, res.MSER, 1e-12)
}

func TestScaleBeta(t *testing.T) {
	assert.InDelta(t, 1.0/36864, ScaleBeta(1, 192), 1e-18)
	assert.Equal(t, 0.0, ScaleBeta(0, 64))
}

func TestShapeMismatch(t *testing.T) {
	x := []models.Volume{volume(2, 2)}
	recon := []models.Volume{volume(3, 2)}
	_, err := MaskedMSE(x, recon, nil)
	assert.True(t, errors.Is(err, models.ErrCorruptData))

	_, err = KLD(mat.NewDense(2, 3, nil), mat.NewDense(2, 2, nil))
	assert.True(t, errors.Is(err, models.ErrCorruptData))

	_, err = Compute(Inputs{
		XL: x, XR: x, ReconL: x, ReconR: x,
		Mu: mat.NewDense(2, 1, nil), LogVar: mat.NewDense(2, 1, nil),
	})
	assert.True(t, errors.Is(err, models.ErrCorruptData))
}

func TestLargeLogVarStaysFinite(t *testing.T) {
	kld, err := KLD(mat.NewDense(1, 1, []float64{0}), mat.NewDense(1, 1, []float64{10}))
	require.NoError(t, err)
	assert.False(t, math.IsInf(kld, 0) || math.IsNaN(kld))
}

func TestMaskShapeMustMatch(t *testing.T) {
	// Same voxel count, different layout
	x := []models.Volume{volume(2, 2, 1, 2, 3, 4)}
	recon := []models.Volume{volume(2, 2, 0, 0, 0, 0)}
	mask := volume(4, 1, 1, 1, 1, 1)

	_, err := MaskedMSE(x, recon, &mask)
	assert.True(t, errors.Is(err, models.ErrCorruptData), "got %v", err)

	_, err = Compute(Inputs{
		XL: x, XR: x, ReconL: recon, ReconR: recon,
		Mu: mat.NewDense(1, 1, nil), LogVar: mat.NewDense(1, 1, nil),
		RightMask: &mask,
	})
	assert.True(t, errors.Is(err, models.ErrCorruptData), "got %v", err)
}

func TestMissingLatentParameters(t *testing.T) {
	x := []models.Volume{volume(2, 1, 1, 1)}
	var nilDense *mat.Dense

	tests := []struct {
		name       string
		mu, logvar mat.Matrix
	}{
		{"nil mu", nil, mat.NewDense(1, 1, nil)},
		{"nil logvar", mat.NewDense(1, 1, nil), nil},
		{"typed nil mu", nilDense, mat.NewDense(1, 1, nil)},
		{"typed nil logvar", mat.NewDense(1, 1, nil), nilDense},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(Inputs{XL: x, XR: x, ReconL: x, ReconR: x, Mu: tt.mu, LogVar: tt.logvar})
			assert.True(t, errors.Is(err, models.ErrCorruptData), "got %v", err)
		})
	}
}
