// Package loss implements the beta-VAE training objective for paired
// hemisphere volumes: a masked mean squared reconstruction error per
// hemisphere plus a KL divergence term weighted by a size-normalised beta.
//
// Zero voxels in the ground truth are outside the brain and never contribute
// to the reconstruction error. The mask is soft: excluded voxels are zeroed in
// both operands but still count in the denominator, which keeps the loss
// scale stable across batches with different mask density.
package loss

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"fmrivae/internal/models"
)

// Inputs holds one batch worth of loss operands
type Inputs struct {
	// XL and XR are the ground-truth volumes
	XL, XR []models.Volume

	// ReconL and ReconR are the decoder outputs
	ReconL, ReconR []models.Volume

	// Mu and LogVar are the [batch, zdim] latent parameters
	Mu, LogVar mat.Matrix

	// Beta is the unscaled KL weight. Zero gives a plain autoencoder.
	Beta float64

	// LeftMask and RightMask optionally restrict the voxels that count
	LeftMask, RightMask *models.Volume
}

// Result is the total loss together with its components
type Result struct {
	Total      float64
	MSEL       float64
	MSER       float64
	KLD        float64
	BetaScaled float64
}

// Compute evaluates KLD*beta/W^2 + MSE_L + MSE_R where W is the last
// spatial extent of the input volumes.
func Compute(in Inputs) (Result, error) {
	if len(in.XL) == 0 {
		return Result{}, fmt.Errorf("%w: empty batch", models.ErrCorruptData)
	}

	mseL, err := MaskedMSE(in.XL, in.ReconL, in.LeftMask)
	if err != nil {
		return Result{}, fmt.Errorf("left hemisphere: %w", err)
	}
	mseR, err := MaskedMSE(in.XR, in.ReconR, in.RightMask)
	if err != nil {
		return Result{}, fmt.Errorf("right hemisphere: %w", err)
	}

	kld, err := KLD(in.Mu, in.LogVar)
	if err != nil {
		return Result{}, err
	}
	if r, _ := in.Mu.Dims(); r != len(in.XL) {
		return Result{}, fmt.Errorf("%w: %d latent rows for %d samples", models.ErrCorruptData, r, len(in.XL))
	}

	beta := ScaleBeta(in.Beta, in.XL[0].Width)
	return Result{
		Total:      kld*beta + mseL + mseR,
		MSEL:       mseL,
		MSER:       mseR,
		KLD:        kld,
		BetaScaled: beta,
	}, nil
}

// ScaleBeta divides beta by the squared image side length so the KL weight
// tracks the reconstruction term, which grows with pixel count.
func ScaleBeta(beta float64, imageSize int) float64 {
	return beta / float64(imageSize*imageSize)
}

// MaskedMSE returns mean((recon*valid - x*valid)^2) over every voxel in the
// batch, where valid is x != 0 intersected with mask == 1 when mask is set.
func MaskedMSE(x, recon []models.Volume, mask *models.Volume) (float64, error) {
	if len(x) != len(recon) {
		return 0, fmt.Errorf("%w: %d targets for %d reconstructions", models.ErrCorruptData, len(x), len(recon))
	}
	if len(x) == 0 {
		return 0, fmt.Errorf("%w: empty batch", models.ErrCorruptData)
	}

	var sum float64
	var count int
	diff := make([]float64, x[0].Len())
	for i := range x {
		if !x[i].SameShape(recon[i]) || len(x[i].Data) != len(recon[i].Data) {
			return 0, fmt.Errorf("%w: sample %d reconstruction shape %v, want %v",
				models.ErrCorruptData, i, recon[i].Shape(), x[i].Shape())
		}
		if mask != nil && (!mask.SameShape(x[i]) || len(mask.Data) != len(x[i].Data)) {
			return 0, fmt.Errorf("%w: mask shape %v, volume shape %v",
				models.ErrCorruptData, mask.Shape(), x[i].Shape())
		}
		if len(diff) != len(x[i].Data) {
			diff = make([]float64, len(x[i].Data))
		}

		for j, v := range x[i].Data {
			if v == 0 || (mask != nil && int32(mask.Data[j]) != 1) {
				diff[j] = 0
				continue
			}
			diff[j] = recon[i].Data[j] - v
		}
		sum += floats.Dot(diff, diff)
		count += len(diff)
	}
	return sum / float64(count), nil
}

// KLD returns the KL divergence of N(mu, exp(logvar)) from N(0, I), summed
// over latent dimensions and averaged over the batch.
func KLD(mu, logvar mat.Matrix) (float64, error) {
	if isNil(mu) || isNil(logvar) {
		return 0, fmt.Errorf("%w: missing latent parameters", models.ErrCorruptData)
	}
	r, c := mu.Dims()
	lr, lc := logvar.Dims()
	if r != lr || c != lc {
		return 0, fmt.Errorf("%w: mu is %dx%d but logvar is %dx%d", models.ErrCorruptData, r, c, lr, lc)
	}
	if r == 0 {
		return 0, fmt.Errorf("%w: empty latent batch", models.ErrCorruptData)
	}

	muRow := make([]float64, c)
	lvRow := make([]float64, c)
	terms := make([]float64, c)
	var total float64
	for i := 0; i < r; i++ {
		mat.Row(muRow, i, mu)
		mat.Row(lvRow, i, logvar)
		for j := range terms {
			terms[j] = 1 + lvRow[j] - muRow[j]*muRow[j] - math.Exp(lvRow[j])
		}
		total += -0.5 * floats.Sum(terms)
	}
	return total / float64(r), nil
}

func isNil(m mat.Matrix) bool {
	if m == nil {
		return true
	}
	d, ok := m.(*mat.Dense)
	return ok && d == nil
}
