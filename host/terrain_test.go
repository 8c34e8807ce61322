package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// countingQuery answers every column with its x coordinate and counts the
// queries it served.
type countingQuery struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func (q *countingQuery) query(ctx context.Context, col column) (float64, error) {
	q.calls.Add(1)
	if q.gate != nil {
		select {
		case <-q.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if q.err != nil {
		return 0, q.err
	}
	return float64(col.x), nil
}

func TestTerrain_CachesColumns(t *testing.T) {
	q := &countingQuery{}
	terrain := newTerrain(q.query)
	defer terrain.Close()

	for _, x := range []float64{3.2, 3.9, 3.0} {
		h, err := terrain.HighestSurface(context.Background(), x, -0.5)
		if err != nil || h != 3 {
			t.Fatalf("HighestSurface(%v) = %v, %v, want 3", x, h, err)
		}
	}
	if n := q.calls.Load(); n != 1 {
		t.Errorf("queried %d times, want 1 for one column", n)
	}

	if h, _ := terrain.HighestSurface(context.Background(), -0.5, 0); h != -1 {
		t.Errorf("HighestSurface(-0.5) = %v, want column -1", h)
	}
	if n := q.calls.Load(); n != 2 {
		t.Errorf("queried %d times, want 2", n)
	}
}

func TestTerrain_StaleEntriesRefetched(t *testing.T) {
	q := &countingQuery{}
	terrain := newTerrain(q.query, WithStaleTimeout(20))
	defer terrain.Close()

	_, _ = terrain.HighestSurface(context.Background(), 1, 1)
	time.Sleep(40 * time.Millisecond)
	_, _ = terrain.HighestSurface(context.Background(), 1, 1)

	if n := q.calls.Load(); n != 2 {
		t.Errorf("queried %d times, want 2", n)
	}
}

func TestTerrain_Invalidate(t *testing.T) {
	q := &countingQuery{}
	terrain := newTerrain(q.query)
	defer terrain.Close()

	_, _ = terrain.HighestSurface(context.Background(), 4, 4)
	terrain.Invalidate(5, 4)
	_, _ = terrain.HighestSurface(context.Background(), 4, 4)
	if n := q.calls.Load(); n != 1 {
		t.Fatalf("invalidating another column caused a query, calls = %d", n)
	}

	terrain.Invalidate(4, 4)
	_, _ = terrain.HighestSurface(context.Background(), 4, 4)
	if n := q.calls.Load(); n != 2 {
		t.Errorf("queried %d times, want 2", n)
	}
}

func TestTerrain_ConcurrentQueriesShared(t *testing.T) {
	q := &countingQuery{gate: make(chan struct{})}
	terrain := newTerrain(q.query)
	defer terrain.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h, err := terrain.HighestSurface(context.Background(), 7, 7); err != nil || h != 7 {
				t.Errorf("HighestSurface() = %v, %v, want 7", h, err)
			}
		}()
	}
	time.Sleep(30 * time.Millisecond)
	close(q.gate)
	wg.Wait()

	if n := q.calls.Load(); n != 1 {
		t.Errorf("queried %d times, want 1", n)
	}
}

func TestTerrain_ErrorsNotCached(t *testing.T) {
	q := &countingQuery{err: errors.New("world closed")}
	terrain := newTerrain(q.query)
	defer terrain.Close()

	if _, err := terrain.HighestSurface(context.Background(), 0, 0); err == nil {
		t.Fatal("HighestSurface() error = nil, want the query error")
	}
	q.err = nil
	if h, err := terrain.HighestSurface(context.Background(), 0, 0); err != nil || h != 0 {
		t.Errorf("HighestSurface() = %v, %v after recovery", h, err)
	}
}

func TestTerrain_ContextCancelled(t *testing.T) {
	q := &countingQuery{gate: make(chan struct{})}
	terrain := newTerrain(q.query, WithQueryTimeout(100))
	defer terrain.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := terrain.HighestSurface(ctx, 0, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("HighestSurface() error = %v, want deadline exceeded", err)
	}
}

func TestTerrain_CleanupDropsStale(t *testing.T) {
	q := &countingQuery{}
	terrain := newTerrain(q.query, WithStaleTimeout(10), WithCleanupInterval(10))
	defer terrain.Close()

	_, _ = terrain.HighestSurface(context.Background(), 2, 2)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := terrain.entries.Load(column{x: 2, z: 2}); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("stale column was not cleaned up")
}

func TestTerrain_CancelledCallerDoesNotFailOthers(t *testing.T) {
	q := &countingQuery{gate: make(chan struct{})}
	terrain := newTerrain(q.query)
	defer terrain.Close()

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := terrain.HighestSurface(ctx, 7, 7)
		first <- err
	}()
	time.Sleep(20 * time.Millisecond)

	second := make(chan float64, 1)
	go func() {
		h, err := terrain.HighestSurface(context.Background(), 7, 7)
		if err != nil {
			t.Errorf("HighestSurface() error = %v for the waiting caller", err)
		}
		second <- h
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Errorf("first caller error = %v, want canceled", err)
	}
	close(q.gate)

	select {
	case h := <-second:
		if h != 7 {
			t.Errorf("second caller got %v, want 7", h)
		}
	case <-time.After(time.Second):
		t.Fatal("second caller did not get a height")
	}
	if n := q.calls.Load(); n != 1 {
		t.Errorf("queried %d times, want 1 shared query", n)
	}
	if h, err := terrain.HighestSurface(context.Background(), 7, 7); err != nil || h != 7 || q.calls.Load() != 1 {
		t.Errorf("HighestSurface() = %v, %v after the shared query, want the cached 7", h, err)
	}
}

func TestTerrain_QueryTimeout(t *testing.T) {
	q := &countingQuery{gate: make(chan struct{})}
	terrain := newTerrain(q.query, WithQueryTimeout(20))
	defer terrain.Close()

	if _, err := terrain.HighestSurface(context.Background(), 0, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("HighestSurface() error = %v, want the query to time out", err)
	}
}
