// File: internal/pacing/pacer_test.go
package pacing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stallwire/stallwire/api/schemas"
	"github.com/stallwire/stallwire/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fastConfig keeps the tests quick; interval floors are a config.Validate
// concern, not a pacer one.
func fastConfig() config.PacingConfig {
	return config.PacingConfig{
		SearchInterval:  80 * time.Millisecond,
		PublishInterval: 200 * time.Millisecond,
		MessageInterval: 120 * time.Millisecond,
	}
}

func TestFirstActionPassesImmediately(t *testing.T) {
	p := New(fastConfig(), zap.NewNop())

	start := time.Now()
	require.NoError(t, p.Gate(context.Background(), schemas.CategorySearch))
	assert.Less(t, time.Since(start), 30*time.Millisecond)
}

func TestConsecutiveActionsAreSpaced(t *testing.T) {
	p := New(fastConfig(), zap.NewNop())
	ctx := context.Background()

	var stamps []time.Time
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Gate(ctx, schemas.CategorySearch))
		stamps = append(stamps, time.Now())
	}

	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		assert.GreaterOrEqual(t, gap, 70*time.Millisecond, "gap %d too small: %v", i, gap)
	}
}

func TestCategoriesAreIndependent(t *testing.T) {
	p := New(fastConfig(), zap.NewNop())
	ctx := context.Background()

	// Exhaust the search budget.
	require.NoError(t, p.Gate(ctx, schemas.CategorySearch))

	// A message action must not be delayed by it.
	start := time.Now()
	require.NoError(t, p.Gate(ctx, schemas.CategoryMessage))
	assert.Less(t, time.Since(start), 30*time.Millisecond)
}

func TestConcurrentWaitersAllSpaced(t *testing.T) {
	p := New(fastConfig(), zap.NewNop())
	ctx := context.Background()

	const n = 4
	var mu sync.Mutex
	var stamps []time.Time

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Gate(ctx, schemas.CategoryMessage))
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, stamps, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			gap := stamps[j].Sub(stamps[i])
			if gap < 0 {
				gap = -gap
			}
			assert.GreaterOrEqual(t, gap, 100*time.Millisecond,
				"waiters %d and %d released too close together", i, j)
		}
	}
}

func TestGateHonorsContextCancellation(t *testing.T) {
	p := New(fastConfig(), zap.NewNop())

	// Burn the publish budget so the next caller has to wait.
	require.NoError(t, p.Gate(context.Background(), schemas.CategoryPublish))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Gate(ctx, schemas.CategoryPublish)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnknownCategoryRejected(t *testing.T) {
	p := New(fastConfig(), zap.NewNop())
	err := p.Gate(context.Background(), schemas.ActionCategory("teleport"))
	assert.Error(t, err)
}
