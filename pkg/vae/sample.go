package vae

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"fmrivae/internal/models"
)

// Reparameterize draws z = mu + eps*exp(logvar/2) with eps ~ N(0, I) from a
// source seeded with seed. The same seed always yields the same sample.
func Reparameterize(d models.LatentDistribution, seed uint64) *mat.Dense {
	r, c := d.Dims()
	eps := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)}

	z := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			std := math.Exp(0.5 * d.LogVar.At(i, j))
			z.Set(i, j, d.Mu.At(i, j)+eps.Rand()*std)
		}
	}
	return z
}
