// Package pipeline runs the encode and decode passes over a paired-volume
// dataset and evaluates the model loss on it.
//
// Encode reads the dataset in batches and writes one latent file per batch.
// Decode discovers the latent files, decodes the mu half of each and writes
// one reconstruction file per batch. Both passes are keyed by batch index so
// latent file i and reconstruction file i always describe the same samples.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"fmrivae/internal/models"
	"fmrivae/pkg/config"
	"fmrivae/pkg/dataset"
	"fmrivae/pkg/latent"
	"fmrivae/pkg/loader"
	"fmrivae/pkg/metrics"
	"fmrivae/pkg/vae"
	"fmrivae/pkg/visualization"
)

// ModelFactory builds a ready-to-use model for the given shapes
type ModelFactory func(cfg vae.LinearConfig, seed uint64) (vae.Model, error)

// CheckpointModel returns a factory that builds a Linear model and restores
// its parameters from the checkpoint at path
func CheckpointModel(path string) ModelFactory {
	return func(cfg vae.LinearConfig, seed uint64) (vae.Model, error) {
		m, err := vae.NewLinear(cfg, seed)
		if err != nil {
			return nil, err
		}
		if err := m.LoadParameters(path); err != nil {
			return nil, err
		}
		return m, nil
	}
}

// Summary reports what a run produced
type Summary struct {
	// Samples is the number of encoded samples
	Samples int

	// Latents and Reconstructions count the files written
	Latents         int
	Reconstructions int

	// Quality compares reconstructions with the dataset when it is available
	Quality metrics.Quality

	Elapsed time.Duration
}

// Pipeline ties a configuration to a model and the on-disk stores
type Pipeline struct {
	cfg      *config.Config
	logger   *slog.Logger
	newModel ModelFactory
	store    *latent.Store
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithModelFactory replaces the checkpoint-backed model
func WithModelFactory(f ModelFactory) Option {
	return func(p *Pipeline) {
		p.newModel = f
	}
}

// New validates cfg and creates a Pipeline
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:      cfg,
		logger:   slog.Default(),
		newModel: CheckpointModel(cfg.Model.Checkpoint),
		store:    latent.NewStore(cfg.Output.LatentDir, cfg.Output.ReconDir),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Store returns the latent and reconstruction store used by the pipeline
func (p *Pipeline) Store() *latent.Store {
	return p.store
}

// Run executes the passes selected by the configured mode. The model is
// loaded before anything is written, so a bad checkpoint leaves the output
// directories untouched.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	var sum Summary

	ds, err := p.openDataset()
	if err != nil {
		return sum, err
	}
	if ds != nil {
		defer ds.Close()
	}

	lc, err := p.linearConfig(ds)
	if err != nil {
		return sum, err
	}

	p.logger.Debug("loading model", "checkpoint", p.cfg.Model.Checkpoint, "zdim", lc.ZDim,
		"width", lc.Width, "height", lc.Height, "depth", lc.Depth)
	model, err := p.newModel(lc, p.cfg.Model.Seed)
	if err != nil {
		return sum, fmt.Errorf("loading model: %w", err)
	}
	p.logger.Debug("model loaded")

	if p.cfg.Mode.Encodes() {
		n, files, err := p.encode(ctx, model, ds)
		if err != nil {
			return sum, err
		}
		sum.Samples, sum.Latents = n, files
	}

	if p.cfg.Mode.Decodes() {
		files, q, err := p.decode(ctx, model, ds)
		if err != nil {
			return sum, err
		}
		sum.Reconstructions, sum.Quality = files, q
	}

	sum.Elapsed = time.Since(start)
	p.logger.Info("run complete", "mode", p.cfg.Mode, "samples", sum.Samples,
		"latents", sum.Latents, "reconstructions", sum.Reconstructions, "elapsed", sum.Elapsed)
	return sum, nil
}

// openDataset opens the data container when the mode or shape resolution
// needs it. Decode with an explicit shape and no data path runs without one.
func (p *Pipeline) openDataset() (*dataset.Dataset, error) {
	if p.cfg.Data.Path == "" {
		return nil, nil
	}
	ds, err := dataset.OpenSplit(p.cfg.Data.Path, dataset.Split(p.cfg.Data.Split))
	if err != nil {
		return nil, err
	}
	p.logger.Debug("opened dataset", "path", p.cfg.Data.Path, "split", p.cfg.Data.Split, "samples", ds.Len())
	return ds, nil
}

func (p *Pipeline) linearConfig(ds *dataset.Dataset) (vae.LinearConfig, error) {
	lc := vae.LinearConfig{
		ZDim:   p.cfg.Model.ZDim,
		Width:  p.cfg.Model.Width,
		Height: p.cfg.Model.Height,
		Depth:  p.cfg.Model.Depth,
	}
	if ds == nil {
		return lc, nil
	}

	w, h, d := ds.Shape()
	if p.cfg.HasShape() && (w != lc.Width || h != lc.Height || d != lc.Depth) {
		return lc, fmt.Errorf("%w: dataset volumes are %dx%dx%d but the model expects %dx%dx%d",
			models.ErrConfig, w, h, d, lc.Width, lc.Height, lc.Depth)
	}
	lc.Width, lc.Height, lc.Depth = w, h, d
	return lc, nil
}

// newLoader batches ds with the configured size. Zero means one batch
// holding the whole dataset.
func (p *Pipeline) newLoader(ds *dataset.Dataset) (*loader.Loader, error) {
	bs := p.cfg.Data.BatchSize
	if bs == 0 {
		bs = max(ds.Len(), 1)
	}
	return loader.New(ds, bs, loader.WithPrefetch(p.cfg.Data.Prefetch))
}

func (p *Pipeline) encode(ctx context.Context, model vae.Model, ds *dataset.Dataset) (samples, files int, err error) {
	p.logger.Debug("starting encoding", "latentDir", p.store.LatentDir)
	if err := os.MkdirAll(p.store.LatentDir, 0755); err != nil {
		return 0, 0, fmt.Errorf("%w: creating %s: %v", models.ErrIO, p.store.LatentDir, err)
	}

	ld, err := p.newLoader(ds)
	if err != nil {
		return 0, 0, err
	}

	err = ld.Each(ctx, func(b models.Batch) error {
		left, right := b.Split()
		dist, err := model.Encode(left, right)
		if err != nil {
			return fmt.Errorf("encoding batch %d: %w", b.Index, err)
		}
		if err := p.store.WriteLatent(b.Index, dist); err != nil {
			return err
		}
		samples += b.Size()
		files++
		p.logger.Debug("encoded batch", "batch", b.Index, "size", b.Size())
		return nil
	})
	return samples, files, err
}

func (p *Pipeline) decode(ctx context.Context, model vae.Model, ds *dataset.Dataset) (int, metrics.Quality, error) {
	p.logger.Debug("starting decoding", "latentDir", p.store.LatentDir, "reconDir", p.store.ReconDir)
	indices, err := p.store.Discover()
	if err != nil {
		return 0, metrics.Quality{}, err
	}
	if len(indices) == 0 {
		p.logger.Warn("no latent files to decode", "dir", p.store.LatentDir)
		return 0, metrics.Quality{}, nil
	}
	p.logger.Debug("discovered latent files", "count", len(indices))

	if err := os.MkdirAll(p.store.ReconDir, 0755); err != nil {
		return 0, metrics.Quality{}, fmt.Errorf("%w: creating %s: %v", models.ErrIO, p.store.ReconDir, err)
	}

	originals := p.originals(ds, len(indices))

	var acc metrics.Accumulator
	for _, idx := range indices {
		if err := ctx.Err(); err != nil {
			return 0, metrics.Quality{}, err
		}

		z, err := p.store.ReadLatent(idx, p.cfg.Model.ZDim)
		if err != nil {
			return 0, metrics.Quality{}, err
		}
		left, right, err := model.Decode(z)
		if err != nil {
			return 0, metrics.Quality{}, fmt.Errorf("decoding batch %d: %w", idx, err)
		}
		if err := p.store.WriteReconstruction(idx, left, right); err != nil {
			return 0, metrics.Quality{}, err
		}

		if p.cfg.Output.PreviewDir != "" {
			if err := visualization.SaveBatchPreviews(p.cfg.Output.PreviewDir, idx, left, right, p.cfg.Output.PreviewAxis); err != nil {
				p.logger.Warn("failed to save preview", "batch", idx, "error", err)
			}
		}

		if originals != nil {
			b, err := originals.Load(idx)
			if err != nil {
				return 0, metrics.Quality{}, err
			}
			xl, xr := b.Split()
			acc.Add(metrics.Compare(append(xl, xr...), append(left, right...)))
		}
		p.logger.Debug("decoded batch", "batch", idx, "size", len(left))
	}
	return len(indices), acc.Mean(), nil
}

// originals returns a loader over ds that lines up with the latent files, or
// nil when the batch layout cannot be matched
func (p *Pipeline) originals(ds *dataset.Dataset, files int) *loader.Loader {
	if ds == nil {
		return nil
	}
	ld, err := p.newLoader(ds)
	if err != nil || ld.NumBatches() != files {
		p.logger.Debug("skipping quality metrics; latent files do not match dataset batches")
		return nil
	}
	return ld
}

// IsUserError reports whether err stems from bad input rather than a fault
// in the run itself
func IsUserError(err error) bool {
	return errors.Is(err, models.ErrConfig) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrCheckpointMissing)
}
