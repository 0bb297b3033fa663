// Package vae defines the variational autoencoder contract used by the
// pipeline and ships an affine reference network that loads PyTorch
// checkpoints.
//
// The pipeline depends only on Model, so any network that can map a batch of
// volume pairs to latent Gaussian parameters and back can be substituted.
package vae

import (
	"gonum.org/v1/gonum/mat"

	"fmrivae/internal/models"
)

// Model maps volume pairs to a latent distribution and latent samples back
// to volume pairs
type Model interface {
	// Encode returns the distribution parameters (not a sample) for each pair.
	// left and right must have the same length.
	Encode(left, right []models.Volume) (models.LatentDistribution, error)

	// Decode reconstructs one pair per row of z, which is [batch, zdim]
	Decode(z *mat.Dense) (left, right []models.Volume, err error)
}

// ParameterLoader is implemented by models whose parameters can be restored
// from a checkpoint file
type ParameterLoader interface {
	LoadParameters(path string) error
}
