package worker

import (
	"context"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsEveryTask(t *testing.T) {
	t.Parallel()

	pool := NewPool(4, func(_ context.Context, n int) int { return n * n })
	var got []int
	for r := range pool.Run(context.Background(), []int{1, 2, 3, 4, 5, 6, 7}) {
		got = append(got, r)
	}
	sort.Ints(got)
	assert.Equal(t, []int{1, 4, 9, 16, 25, 36, 49}, got)
}

func TestPoolRespectsLimit(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	pool := NewPool(2, func(_ context.Context, _ int) struct{} {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}
	})

	count := 0
	for range pool.Run(context.Background(), make([]int, 10)) {
		count++
	}
	assert.Equal(t, 10, count)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPoolMinimumSize(t *testing.T) {
	t.Parallel()

	pool := NewPool(0, func(_ context.Context, s string) string { return s })
	assert.Equal(t, 1, pool.Workers())
}

func TestPoolEmptyInput(t *testing.T) {
	t.Parallel()

	pool := NewPool(3, func(_ context.Context, s string) string { return s })
	_, ok := <-pool.Run(context.Background(), nil)
	assert.False(t, ok)
}

func TestPoolStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var started atomic.Int32
	pool := NewPool(1, func(ctx context.Context, _ int) int {
		started.Add(1)
		<-ctx.Done()
		return 0
	})

	results := pool.Run(ctx, make([]int, 50))
	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	for range results {
	}
	assert.Less(t, started.Load(), int32(50))
}
