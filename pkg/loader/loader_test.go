package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fmrivae/internal/models"
)

// memSource is an in-memory Source whose voxels store the sample index
type memSource struct {
	n      int
	failAt int
}

func newMemSource(n int) *memSource {
	return &memSource{n: n, failAt: -1}
}

func (m *memSource) Len() int { return m.n }

func (m *memSource) Get(i int) (models.VolumePair, error) {
	if i == m.failAt {
		return models.VolumePair{}, errors.New("disk on fire")
	}
	v := models.NewVolume(1, 1, 1)
	v.Data[0] = float64(i)
	return models.VolumePair{Left: v, Right: v}, nil
}

func indices(b models.Batch) []int {
	out := make([]int, len(b.Pairs))
	for i, p := range b.Pairs {
		out[i] = int(p.Left.Data[0])
	}
	return out
}

func TestInvalidBatchSize(t *testing.T) {
	for _, size := range []int{0, -3} {
		_, err := New(newMemSource(5), size)
		assert.True(t, errors.Is(err, models.ErrConfig), "batch size %d: got %v", size, err)
	}
}

func TestTenByFour(t *testing.T) {
	l, err := New(newMemSource(10), 4)
	require.NoError(t, err)

	batches, err := l.All(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 3)

	assert.Equal(t, []int{0, 1, 2, 3}, indices(batches[0]))
	assert.Equal(t, []int{4, 5, 6, 7}, indices(batches[1]))
	assert.Equal(t, []int{8, 9}, indices(batches[2]))
	for i, b := range batches {
		assert.Equal(t, i, b.Index)
		assert.Equal(t, i*4, b.Start)
	}
}

func TestBatchCoverage(t *testing.T) {
	for n := 0; n <= 13; n++ {
		for b := 1; b <= 6; b++ {
			for _, prefetch := range []int{0, 2} {
				l, err := New(newMemSource(n), b, WithPrefetch(prefetch))
				require.NoError(t, err)

				batches, err := l.All(context.Background())
				require.NoError(t, err)

				want := (n + b - 1) / b
				require.Len(t, batches, want, "n=%d b=%d", n, b)
				assert.Equal(t, want, l.NumBatches())

				next := 0
				for i, batch := range batches {
					size := b
					if i == len(batches)-1 && n%b != 0 {
						size = n % b
					}
					assert.Equal(t, size, batch.Size(), "n=%d b=%d batch %d", n, b, i)
					for _, idx := range indices(batch) {
						assert.Equal(t, next, idx)
						next++
					}
				}
				assert.Equal(t, n, next)
			}
		}
	}
}

func TestRestartable(t *testing.T) {
	l, err := New(newMemSource(7), 3, WithPrefetch(1))
	require.NoError(t, err)

	first, err := l.All(context.Background())
	require.NoError(t, err)
	second, err := l.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestErrorStopsIteration(t *testing.T) {
	for _, prefetch := range []int{0, 2} {
		src := newMemSource(10)
		src.failAt = 5
		l, err := New(src, 2, WithPrefetch(prefetch))
		require.NoError(t, err)

		var seen []int
		err = l.Each(context.Background(), func(b models.Batch) error {
			seen = append(seen, b.Index)
			return nil
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk on fire")
		assert.Equal(t, []int{0, 1}, seen, "prefetch=%d", prefetch)
	}
}

func TestEarlyBreak(t *testing.T) {
	l, err := New(newMemSource(100), 1, WithPrefetch(3))
	require.NoError(t, err)

	count := 0
	for b, err := range l.Batches(context.Background()) {
		require.NoError(t, err)
		assert.Equal(t, count, b.Index)
		count++
		if count == 5 {
			break
		}
	}
	assert.Equal(t, 5, count)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l, err := New(newMemSource(4), 2)
	require.NoError(t, err)
	_, err = l.All(ctx)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}
