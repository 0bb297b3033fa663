// Package loader groups dataset samples into fixed-size batches in strict
// index order. Encode and decode are correlated purely by batch number, so
// batches are never shuffled.
package loader

import (
	"context"
	"fmt"
	"iter"

	"golang.org/x/sync/errgroup"

	"fmrivae/internal/models"
)

// Source is the indexed sample store a Loader reads from
type Source interface {
	Len() int
	Get(index int) (models.VolumePair, error)
}

// rangeSource is implemented by sources that can read a run of samples in
// one call, such as an HDF5-backed dataset using a single hyperslab.
type rangeSource interface {
	GetRange(start, count int) ([]models.VolumePair, error)
}

// Loader produces batches over a Source
type Loader struct {
	src       Source
	batchSize int

	// prefetch is the number of batches read ahead by a background
	// goroutine; zero reads synchronously.
	prefetch int
}

// Option configures a Loader
type Option func(*Loader)

// WithPrefetch lets a background goroutine read up to n batches ahead of the
// consumer. Batch order and exactly-once delivery are unchanged.
func WithPrefetch(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.prefetch = n
		}
	}
}

// New creates a Loader. batchSize must be positive.
func New(src Source, batchSize int, opts ...Option) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", models.ErrConfig, batchSize)
	}
	l := &Loader{src: src, batchSize: batchSize}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// BatchSize returns the configured batch size
func (l *Loader) BatchSize() int {
	return l.batchSize
}

// NumBatches returns ceil(N/B)
func (l *Loader) NumBatches() int {
	return (l.src.Len() + l.batchSize - 1) / l.batchSize
}

// Load reads batch i. The final batch holds the remainder of the dataset.
func (l *Loader) Load(i int) (models.Batch, error) {
	if i < 0 || i >= l.NumBatches() {
		return models.Batch{}, fmt.Errorf("%w: batch %d of %d", models.ErrOutOfRange, i, l.NumBatches())
	}

	start := i * l.batchSize
	end := start + l.batchSize
	if end > l.src.Len() {
		end = l.src.Len()
	}

	batch := models.Batch{Index: i, Start: start}
	if rs, ok := l.src.(rangeSource); ok {
		pairs, err := rs.GetRange(start, end-start)
		if err != nil {
			return models.Batch{}, fmt.Errorf("loading batch %d: %w", i, err)
		}
		batch.Pairs = pairs
		return batch, nil
	}

	batch.Pairs = make([]models.VolumePair, 0, end-start)
	for j := start; j < end; j++ {
		pair, err := l.src.Get(j)
		if err != nil {
			return models.Batch{}, fmt.Errorf("loading sample %d of batch %d: %w", j, i, err)
		}
		batch.Pairs = append(batch.Pairs, pair)
	}
	return batch, nil
}

// Batches returns the sequence of batches in ascending order. Each call
// starts again from batch 0. Iteration stops after the first error, which is
// yielded with a zero Batch.
func (l *Loader) Batches(ctx context.Context) iter.Seq2[models.Batch, error] {
	if l.prefetch > 0 {
		return l.prefetched(ctx)
	}
	return func(yield func(models.Batch, error) bool) {
		for i := 0; i < l.NumBatches(); i++ {
			if err := ctx.Err(); err != nil {
				yield(models.Batch{}, err)
				return
			}
			b, err := l.Load(i)
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

func (l *Loader) prefetched(ctx context.Context) iter.Seq2[models.Batch, error] {
	return func(yield func(models.Batch, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		ch := make(chan models.Batch, l.prefetch)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer close(ch)
			for i := 0; i < l.NumBatches(); i++ {
				b, err := l.Load(i)
				if err != nil {
					return err
				}
				select {
				case ch <- b:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})

		for b := range ch {
			if !yield(b, nil) {
				cancel()
				g.Wait()
				return
			}
		}
		if err := g.Wait(); err != nil {
			yield(models.Batch{}, err)
		}
	}
}

// Each calls fn for every batch in order and stops at the first error
func (l *Loader) Each(ctx context.Context, fn func(models.Batch) error) error {
	for b, err := range l.Batches(ctx) {
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}

// All loads every batch into memory
func (l *Loader) All(ctx context.Context) ([]models.Batch, error) {
	batches := make([]models.Batch, 0, l.NumBatches())
	err := l.Each(ctx, func(b models.Batch) error {
		batches = append(batches, b)
		return nil
	})
	return batches, err
}
