package vae

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"fmrivae/internal/models"
)

// Parameter names in the checkpoint state_dict
const (
	EncoderWeight = "fc_enc.weight"
	EncoderBias   = "fc_enc.bias"
	DecoderWeight = "fc_dec.weight"
	DecoderBias   = "fc_dec.bias"
)

// LinearConfig describes the shapes of a Linear model
type LinearConfig struct {
	// ZDim is the latent dimensionality
	ZDim int

	// Width, Height and Depth are the per-hemisphere volume dimensions
	Width, Height, Depth int
}

func (c LinearConfig) voxels() int {
	return c.Width * c.Height * c.Depth
}

func (c LinearConfig) validate() error {
	if c.ZDim <= 0 {
		return fmt.Errorf("%w: zdim must be positive, got %d", models.ErrConfig, c.ZDim)
	}
	if c.Width <= 0 || c.Height <= 0 || c.Depth <= 0 {
		return fmt.Errorf("%w: volume dimensions %dx%dx%d", models.ErrConfig, c.Width, c.Height, c.Depth)
	}
	return nil
}

// Linear is the reference network: a single affine encoder from the
// concatenated hemispheres to [mu | logvar] and a single affine decoder back.
type Linear struct {
	cfg LinearConfig

	// encW is [2*zdim, 2*V], encB is [2*zdim]
	encW *mat.Dense
	encB *mat.VecDense

	// decW is [2*V, zdim], decB is [2*V]
	decW *mat.Dense
	decB *mat.VecDense
}

// NewLinear creates a Linear model with weights drawn from N(0, 1/fan_in)
// using the given seed. Biases start at zero.
func NewLinear(cfg LinearConfig, seed uint64) (*Linear, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	v := cfg.voxels()
	src := rand.NewSource(seed)
	m := &Linear{
		cfg:  cfg,
		encW: randomDense(2*cfg.ZDim, 2*v, src),
		encB: mat.NewVecDense(2*cfg.ZDim, nil),
		decW: randomDense(2*v, cfg.ZDim, src),
		decB: mat.NewVecDense(2*v, nil),
	}
	return m, nil
}

func randomDense(rows, cols int, src rand.Source) *mat.Dense {
	dist := distuv.Normal{Mu: 0, Sigma: 1 / math.Sqrt(float64(cols)), Src: src}
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = dist.Rand()
	}
	return mat.NewDense(rows, cols, data)
}

// Config returns the model shapes
func (m *Linear) Config() LinearConfig {
	return m.cfg
}

// LoadParameters restores the model from a PyTorch checkpoint
func (m *Linear) LoadParameters(path string) error {
	sd, err := LoadStateDict(path)
	if err != nil {
		return err
	}
	return m.LoadStateDict(sd)
}

// LoadStateDict copies parameters from sd. Nothing is modified unless every
// parameter is present with the expected shape.
func (m *Linear) LoadStateDict(sd StateDict) error {
	v, z := m.cfg.voxels(), m.cfg.ZDim

	encW, err := sd.Tensor(EncoderWeight, 2*z, 2*v)
	if err != nil {
		return err
	}
	encB, err := sd.Tensor(EncoderBias, 2*z)
	if err != nil {
		return err
	}
	decW, err := sd.Tensor(DecoderWeight, 2*v, z)
	if err != nil {
		return err
	}
	decB, err := sd.Tensor(DecoderBias, 2*v)
	if err != nil {
		return err
	}

	m.encW = mat.NewDense(2*z, 2*v, encW.Data)
	m.encB = mat.NewVecDense(2*z, encB.Data)
	m.decW = mat.NewDense(2*v, z, decW.Data)
	m.decB = mat.NewVecDense(2*v, decB.Data)
	return nil
}

// Encode implements Model
func (m *Linear) Encode(left, right []models.Volume) (models.LatentDistribution, error) {
	if len(left) != len(right) {
		return models.LatentDistribution{}, fmt.Errorf("%w: %d left volumes but %d right",
			models.ErrCorruptData, len(left), len(right))
	}
	if len(left) == 0 {
		return models.LatentDistribution{}, fmt.Errorf("%w: empty batch", models.ErrCorruptData)
	}

	v := m.cfg.voxels()
	x := mat.NewDense(len(left), 2*v, nil)
	for i := range left {
		if err := m.checkVolume(left[i]); err != nil {
			return models.LatentDistribution{}, fmt.Errorf("left sample %d: %w", i, err)
		}
		if err := m.checkVolume(right[i]); err != nil {
			return models.LatentDistribution{}, fmt.Errorf("right sample %d: %w", i, err)
		}
		row := x.RawRowView(i)
		copy(row[:v], left[i].Data)
		copy(row[v:], right[i].Data)
	}

	var h mat.Dense
	h.Mul(x, m.encW.T())
	addBias(&h, m.encB)

	return models.SplitLatent(&h, m.cfg.ZDim)
}

// Decode implements Model
func (m *Linear) Decode(z *mat.Dense) (left, right []models.Volume, err error) {
	rows, cols := z.Dims()
	if cols != m.cfg.ZDim {
		return nil, nil, fmt.Errorf("%w: latent width %d, model zdim %d", models.ErrCorruptData, cols, m.cfg.ZDim)
	}

	var y mat.Dense
	y.Mul(z, m.decW.T())
	addBias(&y, m.decB)

	v := m.cfg.voxels()
	left = make([]models.Volume, rows)
	right = make([]models.Volume, rows)
	for i := 0; i < rows; i++ {
		row := y.RawRowView(i)
		left[i] = m.volume(row[:v])
		right[i] = m.volume(row[v:])
	}
	return left, right, nil
}

func (m *Linear) checkVolume(vol models.Volume) error {
	if vol.Width != m.cfg.Width || vol.Height != m.cfg.Height || vol.Depth != m.cfg.Depth {
		return fmt.Errorf("%w: volume %dx%dx%d, model expects %dx%dx%d", models.ErrCorruptData,
			vol.Width, vol.Height, vol.Depth, m.cfg.Width, m.cfg.Height, m.cfg.Depth)
	}
	return vol.Validate()
}

func (m *Linear) volume(data []float64) models.Volume {
	return models.Volume{
		Data:   append([]float64(nil), data...),
		Width:  m.cfg.Width,
		Height: m.cfg.Height,
		Depth:  m.cfg.Depth,
	}
}

func addBias(m *mat.Dense, b *mat.VecDense) {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		row := m.RowView(i).(*mat.VecDense)
		row.AddVec(row, b)
	}
}
