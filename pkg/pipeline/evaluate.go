package pipeline

import (
	"context"
	"fmt"

	"fmrivae/internal/models"
	"fmrivae/pkg/dataset"
	"fmrivae/pkg/loss"
	"fmrivae/pkg/metrics"
	"fmrivae/pkg/vae"
)

// Evaluation is the sample-weighted mean loss over a dataset together with
// reconstruction quality
type Evaluation struct {
	Batches int
	Samples int
	Loss    loss.Result
	Quality metrics.Quality
}

// Evaluate encodes every batch, decodes the latent means and scores the
// reconstruction with the loss and quality metrics. With Loss.Sample set the
// decoder sees a reparameterized draw seeded by the model seed and batch
// index. Nothing is written.
func (p *Pipeline) Evaluate(ctx context.Context) (Evaluation, error) {
	var ev Evaluation
	if p.cfg.Data.Path == "" {
		return ev, fmt.Errorf("%w: evaluation needs a data path", models.ErrConfig)
	}

	ds, err := p.openDataset()
	if err != nil {
		return ev, err
	}
	defer ds.Close()

	var leftMask, rightMask *models.Volume
	if p.cfg.Data.MaskPath != "" {
		leftMask, rightMask, err = dataset.LoadMasks(p.cfg.Data.MaskPath)
		if err != nil {
			return ev, err
		}
	}

	lc, err := p.linearConfig(ds)
	if err != nil {
		return ev, err
	}
	model, err := p.newModel(lc, p.cfg.Model.Seed)
	if err != nil {
		return ev, fmt.Errorf("loading model: %w", err)
	}

	ld, err := p.newLoader(ds)
	if err != nil {
		return ev, err
	}

	var acc metrics.Accumulator
	err = ld.Each(ctx, func(b models.Batch) error {
		xl, xr := b.Split()
		dist, err := model.Encode(xl, xr)
		if err != nil {
			return fmt.Errorf("encoding batch %d: %w", b.Index, err)
		}
		z := dist.Mu
		if p.cfg.Loss.Sample {
			z = vae.Reparameterize(dist, p.cfg.Model.Seed+uint64(b.Index))
		}
		rl, rr, err := model.Decode(z)
		if err != nil {
			return fmt.Errorf("decoding batch %d: %w", b.Index, err)
		}

		res, err := loss.Compute(loss.Inputs{
			XL: xl, XR: xr,
			ReconL: rl, ReconR: rr,
			Mu: dist.Mu, LogVar: dist.LogVar,
			Beta:     p.cfg.Loss.Beta,
			LeftMask: leftMask, RightMask: rightMask,
		})
		if err != nil {
			return fmt.Errorf("batch %d: %w", b.Index, err)
		}

		n := float64(b.Size())
		ev.Loss.Total += res.Total * n
		ev.Loss.MSEL += res.MSEL * n
		ev.Loss.MSER += res.MSER * n
		ev.Loss.KLD += res.KLD * n
		ev.Loss.BetaScaled = res.BetaScaled
		ev.Samples += b.Size()
		ev.Batches++

		acc.Add(metrics.Compare(append(xl, xr...), append(rl, rr...)))
		p.logger.Debug("evaluated batch", "batch", b.Index, "loss", res.Total,
			"mseL", res.MSEL, "mseR", res.MSER, "kld", res.KLD)
		return nil
	})
	if err != nil {
		return ev, err
	}

	if ev.Samples > 0 {
		n := float64(ev.Samples)
		ev.Loss.Total /= n
		ev.Loss.MSEL /= n
		ev.Loss.MSER /= n
		ev.Loss.KLD /= n
	}
	ev.Quality = acc.Mean()

	p.logger.Info("evaluation complete", "samples", ev.Samples, "batches", ev.Batches,
		"loss", ev.Loss.Total, "mseL", ev.Loss.MSEL, "mseR", ev.Loss.MSER, "kld", ev.Loss.KLD,
		"rmse", ev.Quality.RMSE, "ssim", ev.Quality.SSIM)
	return ev, nil
}
