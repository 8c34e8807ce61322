package host

import (
	"context"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/df-mc/dragonfly/server/world"
	"github.com/oriumgames/swarm"
	"golang.org/x/sync/singleflight"
)

// TerrainOptions configures a Terrain.
type TerrainOptions struct {
	// StaleTimeout is how long a cached column height is used before the
	// world is queried again, in milliseconds.
	// Default: 2 seconds.
	StaleTimeout int64

	// CleanupInterval is how often expired columns are dropped, in
	// milliseconds.
	// Default: 10 seconds.
	CleanupInterval int64

	// QueryTimeout bounds a world query shared by concurrent callers, in
	// milliseconds. Each caller still gives up on its own context.
	// Default: 5 seconds.
	QueryTimeout int64
}

// defaultTerrainOptions returns sensible defaults.
func defaultTerrainOptions() TerrainOptions {
	return TerrainOptions{
		StaleTimeout:    2_000,  // 2 seconds
		CleanupInterval: 10_000, // 10 seconds
		QueryTimeout:    5_000,  // 5 seconds
	}
}

// TerrainOption configures a Terrain.
type TerrainOption func(*TerrainOptions)

// WithStaleTimeout sets the stale timeout in milliseconds.
func WithStaleTimeout(ms int64) TerrainOption {
	return func(o *TerrainOptions) {
		o.StaleTimeout = ms
	}
}

// WithCleanupInterval sets the cleanup interval in milliseconds.
func WithCleanupInterval(ms int64) TerrainOption {
	return func(o *TerrainOptions) {
		o.CleanupInterval = ms
	}
}

// WithQueryTimeout sets the shared query timeout in milliseconds.
func WithQueryTimeout(ms int64) TerrainOption {
	return func(o *TerrainOptions) {
		o.QueryTimeout = ms
	}
}

// column identifies a block column of the world.
type column struct {
	x, z int
}

func (c column) String() string {
	return strconv.Itoa(c.x) + "," + strconv.Itoa(c.z)
}

// terrainEntry holds the cached height of one column.
type terrainEntry struct {
	height float64
	// fetchedAt is when the height was queried (unix millis)
	fetchedAt atomic.Int64
}

// Terrain is a swarm.Terrain answering ground queries from a dragonfly
// world. Heights are cached per column for a short time, and concurrent
// queries for the same column share one world transaction.
type Terrain struct {
	query func(ctx context.Context, col column) (float64, error)
	opts  TerrainOptions

	// entries maps column -> *terrainEntry
	entries sync.Map
	group   singleflight.Group

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// Compile-time check that Terrain implements swarm.Terrain.
var _ swarm.Terrain = (*Terrain)(nil)

// NewTerrain creates a Terrain for w. Close must be called to stop its
// cleanup goroutine.
func NewTerrain(w *world.World, opts ...TerrainOption) *Terrain {
	return newTerrain(worldQuery(w), opts...)
}

func newTerrain(query func(ctx context.Context, col column) (float64, error), opts ...TerrainOption) *Terrain {
	o := defaultTerrainOptions()
	for _, opt := range opts {
		opt(&o)
	}

	t := &Terrain{
		query:       query,
		opts:        o,
		stopCleanup: make(chan struct{}),
	}
	go t.cleanupLoop()
	return t
}

// worldQuery returns a query reading the highest block of a column of w.
// The player stands on top of that block.
func worldQuery(w *world.World) func(ctx context.Context, col column) (float64, error) {
	return func(ctx context.Context, col column) (float64, error) {
		res := make(chan float64, 1)
		go w.Exec(func(tx *world.Tx) {
			res <- float64(tx.HighestBlock(col.x, col.z) + 1)
		})

		select {
		case h := <-res:
			return h, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// HighestSurface returns the height a player in the column at x, z stands
// at.
func (t *Terrain) HighestSurface(ctx context.Context, x, z float64) (float64, error) {
	col := column{x: int(math.Floor(x)), z: int(math.Floor(z))}

	if val, ok := t.entries.Load(col); ok {
		entry := val.(*terrainEntry)
		if !t.isStale(entry) {
			return entry.height, nil
		}
	}

	// The query outlives the caller that started it, so one caller giving
	// up does not fail the others waiting on the same column.
	ch := t.group.DoChan(col.String(), func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(t.opts.QueryTimeout)*time.Millisecond)
		defer cancel()

		h, err := t.query(qctx, col)
		if err != nil {
			return 0.0, err
		}
		entry := &terrainEntry{height: h}
		entry.fetchedAt.Store(time.Now().UnixMilli())
		t.entries.Store(col, entry)
		return h, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(float64), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// isStale checks if cached data is too old to use.
func (t *Terrain) isStale(entry *terrainEntry) bool {
	fetchedAt := entry.fetchedAt.Load()
	return time.Now().UnixMilli()-fetchedAt > t.opts.StaleTimeout
}

// Invalidate drops the cached height of the column at x, z.
func (t *Terrain) Invalidate(x, z int) {
	t.entries.Delete(column{x: x, z: z})
}

// cleanupLoop periodically drops expired columns.
func (t *Terrain) cleanupLoop() {
	ticker := time.NewTicker(time.Duration(t.opts.CleanupInterval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCleanup:
			return
		case <-ticker.C:
			t.cleanup()
		}
	}
}

// cleanup removes stale entries.
func (t *Terrain) cleanup() {
	t.entries.Range(func(key, value any) bool {
		if t.isStale(value.(*terrainEntry)) {
			t.entries.Delete(key)
		}
		return true
	})
}

// Close stops the cleanup goroutine.
func (t *Terrain) Close() {
	t.closeOnce.Do(func() {
		close(t.stopCleanup)
	})
}
