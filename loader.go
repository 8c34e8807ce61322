package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	// Count is the number of bots to connect.
	Count int
	// DelayMin and DelayMax bound the random pause between two bots.
	DelayMin, DelayMax time.Duration
	// Proxies are assigned to bots round-robin. Bots dial the target
	// directly if there are none.
	Proxies []Proxy
}

// Loader connects a fixed number of bots one after another, pausing a
// random delay between them.
type Loader struct {
	manager *Manager
	conf    LoaderConfig
	log     *slog.Logger

	tried      atomic.Int64
	proxyIndex atomic.Int64

	started atomic.Bool
	done    chan struct{}
	once    sync.Once
}

// NewLoader creates a loader that creates its bots through m.
func NewLoader(m *Manager, conf LoaderConfig) *Loader {
	return &Loader{
		manager: m,
		conf:    conf,
		log:     m.log,
		done:    make(chan struct{}),
	}
}

// Spin starts connecting bots on a new goroutine. Cancelling ctx stops the
// loader before the next bot. Only the first call has an effect.
func (l *Loader) Spin(ctx context.Context) {
	if l.started.Swap(true) {
		return
	}
	go l.run(ctx)
}

// Wait blocks until the loader has finished. It returns immediately if the
// loader was never started.
func (l *Loader) Wait() {
	if !l.started.Load() {
		return
	}
	<-l.done
}

// Done returns a channel closed once the loader has finished.
func (l *Loader) Done() <-chan struct{} {
	return l.done
}

// TriedToConnect returns the number of bots the loader tried to connect so
// far, including failed attempts.
func (l *Loader) TriedToConnect() int {
	return int(l.tried.Load())
}

// ProxyIndex returns the index of the proxy the next bot will use.
func (l *Loader) ProxyIndex() int {
	return int(l.proxyIndex.Load())
}

func (l *Loader) run(ctx context.Context) {
	defer l.once.Do(func() { close(l.done) })

	l.log.Info("swarm: loader started", "count", l.conf.Count, "proxies", len(l.conf.Proxies))
	for i := 0; i < l.conf.Count; i++ {
		if ctx.Err() != nil {
			l.log.Info("swarm: loader stopped", "tried", l.TriedToConnect())
			return
		}

		if err := l.spinOne(); err != nil {
			l.log.Error("swarm: failed to spin bot", "err", err)
		}

		if i == l.conf.Count-1 {
			break
		}
		if err := sleep(ctx, randomDuration(l.conf.DelayMin, l.conf.DelayMax)); err != nil {
			l.log.Info("swarm: loader stopped", "tried", l.TriedToConnect())
			return
		}
	}
	l.log.Info("swarm: loader finished", "tried", l.TriedToConnect())
}

// spinOne creates and connects a single bot. Every call counts as one
// attempt, whether it succeeds, fails or panics.
func (l *Loader) spinOne() (err error) {
	defer func() {
		l.tried.Add(1)
		l.manager.metrics.inc(spawnAttempts)
		if r := recover(); r != nil {
			err = fmt.Errorf("swarm: panic while spinning bot: %v", r)
		}
	}()

	b, err := l.manager.create("", l.nextProxy())
	if err != nil {
		return err
	}
	b.Connect()

	if l.manager.SetRelay(b) {
		l.log.Info("swarm: relay selected", "bot", b.Name())
	}
	return nil
}

// nextProxy returns the proxy for the next bot and advances the cursor,
// wrapping around at the end of the list.
func (l *Loader) nextProxy() *Proxy {
	if len(l.conf.Proxies) == 0 {
		return nil
	}
	idx := int(l.proxyIndex.Load()) % len(l.conf.Proxies)
	l.proxyIndex.Store(int64((idx + 1) % len(l.conf.Proxies)))

	p := l.conf.Proxies[idx]
	return &p
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
