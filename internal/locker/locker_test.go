package locker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reservation-service/internal/models"
)

func TestAcquireRelease(t *testing.T) {
	l := NewProductLocker(100 * time.Millisecond)

	release, err := l.Acquire(context.Background(), "SKU-001")
	require.NoError(t, err)
	release()

	// Reacquire after release must succeed immediately
	release, err = l.Acquire(context.Background(), "SKU-001")
	require.NoError(t, err)
	release()
}

func TestAcquire_TimeoutReturnsBusy(t *testing.T) {
	l := NewProductLocker(50 * time.Millisecond)

	release, err := l.Acquire(context.Background(), "SKU-001")
	require.NoError(t, err)
	defer release()

	_, err = l.Acquire(context.Background(), "SKU-001")
	require.Error(t, err)
	assert.True(t, models.IsBusyError(err))
}

func TestAcquire_DifferentProductsDoNotContend(t *testing.T) {
	l := NewProductLocker(50 * time.Millisecond)

	releaseA, err := l.Acquire(context.Background(), "SKU-001")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := l.Acquire(context.Background(), "SKU-002")
	require.NoError(t, err)
	defer releaseB()
}

func TestAcquire_CancelledContextPropagates(t *testing.T) {
	l := NewProductLocker(time.Second)

	release, err := l.Acquire(context.Background(), "SKU-001")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = l.Acquire(ctx, "SKU-001")
	require.Error(t, err)
	assert.False(t, models.IsBusyError(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquire_ReapsIdleEntries(t *testing.T) {
	l := NewProductLocker(50 * time.Millisecond)

	releaseA, err := l.Acquire(context.Background(), "SKU-001")
	require.NoError(t, err)
	releaseB, err := l.Acquire(context.Background(), "SKU-002")
	require.NoError(t, err)
	assert.Equal(t, 2, l.size())

	// A timed-out waiter must not pin the entry either
	_, err = l.Acquire(context.Background(), "SKU-001")
	require.Error(t, err)
	assert.Equal(t, 2, l.size())

	releaseA()
	assert.Equal(t, 1, l.size())
	releaseB()
	assert.Equal(t, 0, l.size())

	// Reacquire after the reap still works and still reaps
	release, err := l.Acquire(context.Background(), "SKU-001")
	require.NoError(t, err)
	release()
	assert.Equal(t, 0, l.size())
}

func TestAcquire_SerializesConcurrentHolders(t *testing.T) {
	l := NewProductLocker(2 * time.Second)

	var mu sync.Mutex
	holders := 0
	maxHolders := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			release, err := l.Acquire(context.Background(), "SKU-001")
			require.NoError(t, err)

			mu.Lock()
			holders++
			if holders > maxHolders {
				maxHolders = holders
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()

			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxHolders)
	assert.Equal(t, 0, l.size())
}
