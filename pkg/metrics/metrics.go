// Package metrics computes reconstruction quality metrics between original
// and reconstructed volumes. Only voxels inside the brain (non-zero in the
// original) are compared.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"fmrivae/internal/models"
)

// Quality holds the reconstruction metrics for a set of volumes
type Quality struct {
	// RMSE is the root mean square error over in-brain voxels.
	// Lower values indicate better reconstruction fidelity.
	RMSE float64

	// Correlation is the Pearson correlation between original and
	// reconstructed in-brain voxels
	Correlation float64

	// MI approximates mutual information under a Gaussian assumption:
	// -0.5 * log(1 - rho^2)
	MI float64

	// SSIM is the global structural similarity index
	SSIM float64

	// EntropyDiff is the absolute difference in Shannon entropy of the
	// intensity histograms
	EntropyDiff float64

	// Voxels is how many voxels were compared
	Voxels int
}

// Compare computes Quality over paired original and reconstructed volumes.
// Volumes with mismatched shapes are skipped.
func Compare(original, recon []models.Volume) Quality {
	var x, y []float64
	for i := range original {
		if i >= len(recon) || !original[i].SameShape(recon[i]) {
			continue
		}
		for j, v := range original[i].Data {
			if v == 0 {
				continue
			}
			x = append(x, v)
			y = append(y, recon[i].Data[j])
		}
	}
	return compareValues(x, y)
}

func compareValues(original, reconstructed []float64) Quality {
	q := Quality{Voxels: len(original)}
	if len(original) == 0 {
		return q
	}

	q.RMSE = calculateRMSE(original, reconstructed)
	q.SSIM = calculateSSIM(original, reconstructed)
	q.EntropyDiff = math.Abs(calculateEntropy(original) - calculateEntropy(reconstructed))

	if stat.Variance(original, nil) > 0 && stat.Variance(reconstructed, nil) > 0 {
		q.Correlation = stat.Correlation(original, reconstructed, nil)
		if rho2 := q.Correlation * q.Correlation; rho2 < 1 {
			q.MI = -0.5 * math.Log(1-rho2)
		} else {
			q.MI = math.Inf(1)
		}
	}
	return q
}

// calculateRMSE computes the root mean square error
func calculateRMSE(original, reconstructed []float64) float64 {
	diff := make([]float64, len(original))
	floats.SubTo(diff, original, reconstructed)
	return math.Sqrt(floats.Dot(diff, diff) / float64(len(diff)))
}

// calculateSSIM computes the Structural Similarity Index with the dynamic
// range taken from the original data
func calculateSSIM(original, reconstructed []float64) float64 {
	const k1 = 0.01
	const k2 = 0.03

	L := floats.Max(original) - floats.Min(original)
	if L == 0 {
		L = 1
	}
	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	muX := stat.Mean(original, nil)
	muY := stat.Mean(reconstructed, nil)
	sigmaX := stat.Variance(original, nil)
	sigmaY := stat.Variance(reconstructed, nil)
	sigmaXY := stat.Covariance(original, reconstructed, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}

// calculateEntropy computes the Shannon entropy of data over 256 bins
func calculateEntropy(data []float64) float64 {
	lo, hi := floats.Min(data), floats.Max(data)
	if hi <= lo {
		return 0
	}

	const numBins = 256
	dividers := make([]float64, numBins+1)
	floats.Span(dividers, lo, hi)
	// Histogram needs the top divider strictly above the largest value
	dividers[numBins] = math.Nextafter(hi, math.Inf(1))

	sorted := append([]float64(nil), data...)
	floats.Argsort(sorted, make([]int, len(sorted)))
	hist := stat.Histogram(nil, dividers, sorted, nil)

	n := float64(len(data))
	entropy := 0.0
	for _, count := range hist {
		if count > 0 {
			p := count / n
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// Accumulator averages Quality across batches, weighting by voxel count
type Accumulator struct {
	sum    Quality
	voxels int
}

// Add folds one batch's metrics into the running average
func (a *Accumulator) Add(q Quality) {
	if q.Voxels == 0 {
		return
	}
	w := float64(q.Voxels)
	a.sum.RMSE += q.RMSE * q.RMSE * w
	a.sum.Correlation += q.Correlation * w
	a.sum.MI += q.MI * w
	a.sum.SSIM += q.SSIM * w
	a.sum.EntropyDiff += q.EntropyDiff * w
	a.voxels += q.Voxels
}

// Mean returns the voxel-weighted average. RMSE is pooled over all voxels.
func (a *Accumulator) Mean() Quality {
	if a.voxels == 0 {
		return Quality{}
	}
	n := float64(a.voxels)
	return Quality{
		RMSE:        math.Sqrt(a.sum.RMSE / n),
		Correlation: a.sum.Correlation / n,
		MI:          a.sum.MI / n,
		SSIM:        a.sum.SSIM / n,
		EntropyDiff: a.sum.EntropyDiff / n,
		Voxels:      a.voxels,
	}
}
