package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// Config holds the settings of a Manager. They are fixed once the Manager
// is built.
type Config struct {
	// Address is the resolved address of the target server.
	Address string
	// RespawnDelay is the delay before a dead bot requests a respawn. Zero
	// respawns immediately, a negative delay never respawns.
	RespawnDelay time.Duration
	// Gravity enables the gravity loop.
	Gravity bool
	// JoinMessages are sent by every bot after its session settled.
	JoinMessages []string
	// LatencyMin and LatencyMax bound the per-session delay of liveness
	// replies.
	LatencyMin, LatencyMax time.Duration

	SettleDelay         time.Duration
	JoinMessageInterval time.Duration
	SyncInterval        time.Duration
	GravityInterval     time.Duration
	GravityDelay        time.Duration
	TerrainTimeout      time.Duration
	TickRate            time.Duration
	Workers             int
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		LatencyMin:          100 * time.Millisecond,
		LatencyMax:          time.Second,
		SettleDelay:         50 * time.Millisecond,
		JoinMessageInterval: 100 * time.Millisecond,
		SyncInterval:        time.Second,
		GravityInterval:     50 * time.Millisecond,
		GravityDelay:        time.Second,
		TerrainTimeout:      5 * time.Second,
		TickRate:            50 * time.Millisecond,
	}
}

// Manager is the registry of the bots of a swarm.
// It creates bots, keeps them in creation order while their session is open
// or pending and removes them when it ends.
// Multiple Manager instances can coexist in the same process.
type Manager struct {
	conf Config

	transport Transport
	roster    Roster
	terrain   Terrain
	nicks     NickSource
	handler   Handler
	log       *slog.Logger
	metrics   *Metrics

	// scheduler runs the tasks of all bots and the gravity loop
	scheduler *Scheduler
	gravity   *GravityTimer

	// bots is a copy-on-write slice in creation order
	bots  atomic.Pointer[[]*Bot]
	relay atomic.Pointer[Bot]

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// Create creates a bot, registers it and connects it after loginDelay, or
// right away if loginDelay is not positive. An empty name picks one from the
// nickname source.
//
// Create fails with ErrInvalidName if the name is longer than MaxNameLength
// or none could be picked, and with ErrNameCollision if a real user with the
// name is online.
func (m *Manager) Create(name string, loginDelay time.Duration) (*Bot, error) {
	b, err := m.create(name, nil)
	if err != nil {
		return nil, err
	}

	if loginDelay <= 0 {
		b.Connect()
	} else {
		ScheduleGlobal(m, &connectTask{bot: b}, loginDelay)
	}
	return b, nil
}

// create builds and registers a bot without connecting it.
func (m *Manager) create(name string, proxy *Proxy) (*Bot, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidName, name, MaxNameLength)
	}
	if name == "" {
		if m.nicks != nil {
			name = m.nicks.Next()
		}
		if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
			return nil, fmt.Errorf("%w: no nickname available", ErrInvalidName)
		}
	}
	if m.roster != nil && m.roster.Online(name) {
		return nil, fmt.Errorf("%w: %s", ErrNameCollision, name)
	}

	id := offlineIdentity(name)
	conn, err := m.transport.NewConn(ConnOptions{
		Name:     name,
		Identity: id,
		Address:  m.conf.Address,
		Proxy:    proxy,
	})
	if err != nil {
		return nil, fmt.Errorf("swarm: create session for %s: %w", name, err)
	}

	b := newBot(m, name, id, conn, proxy)
	m.add(b)

	m.log.Info("swarm: bot created", "bot", name)
	m.metrics.inc(botsCreated)
	m.handler.HandleBotCreate(b)
	return b, nil
}

// connectTask connects a bot created with a login delay.
type connectTask struct {
	bot *Bot
}

func (t *connectTask) Run() {
	t.bot.Connect()
}

// add appends b to the registry.
func (m *Manager) add(b *Bot) {
	for {
		old := m.bots.Load()
		var bots []*Bot
		if old != nil {
			bots = make([]*Bot, len(*old), len(*old)+1)
			copy(bots, *old)
		}
		bots = append(bots, b)
		if m.bots.CompareAndSwap(old, &bots) {
			return
		}
	}
}

// Remove unregisters b. Removing a bot that is not registered does nothing.
func (m *Manager) Remove(b *Bot) {
	for {
		old := m.bots.Load()
		if old == nil {
			return
		}
		idx := -1
		for i, other := range *old {
			if other == b {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}

		bots := make([]*Bot, 0, len(*old)-1)
		bots = append(bots, (*old)[:idx]...)
		bots = append(bots, (*old)[idx+1:]...)
		if m.bots.CompareAndSwap(old, &bots) {
			m.relay.CompareAndSwap(b, nil)
			return
		}
	}
}

// DisconnectAndRemove disconnects b and unregisters it.
func (m *Manager) DisconnectAndRemove(b *Bot) {
	b.Disconnect()
	m.Remove(b)
}

// FindByNamePrefix returns the first bot, in creation order, whose name
// starts with text, ignoring case. An empty text matches the first bot.
// Returns nil if no bot matches.
func (m *Manager) FindByNamePrefix(text string) *Bot {
	text = strings.ToLower(text)
	for _, b := range m.Bots() {
		if strings.HasPrefix(strings.ToLower(b.name), text) {
			return b
		}
	}
	return nil
}

// Bots returns a snapshot of the registered bots in creation order.
func (m *Manager) Bots() []*Bot {
	p := m.bots.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Count returns the number of registered bots.
func (m *Manager) Count() int {
	return len(m.Bots())
}

// Relay returns the bot whose received chat is logged, or nil.
func (m *Manager) Relay() *Bot {
	return m.relay.Load()
}

// SetRelay makes b the relay if no relay is set and reports whether it did.
func (m *Manager) SetRelay(b *Bot) bool {
	return m.relay.CompareAndSwap(nil, b)
}

// Config returns the settings of the manager.
func (m *Manager) Config() Config {
	return m.conf
}

// GravityTimer returns the gravity loop, or nil if gravity is disabled.
func (m *Manager) GravityTimer() *GravityTimer {
	return m.gravity
}

// Scheduler returns the scheduler running the tasks of the bots.
func (m *Manager) Scheduler() *Scheduler {
	return m.scheduler
}

// Logger returns the logger of the manager.
func (m *Manager) Logger() *slog.Logger {
	return m.log
}

// notifyDisconnect emits the disconnect notification of b, once.
func (m *Manager) notifyDisconnect(b *Bot, reason string) {
	if b.notified.Swap(true) {
		return
	}
	m.metrics.inc(botsDisconnected)
	m.handler.HandleBotDisconnect(b, reason)
}

// Shutdown disconnects every bot and stops the scheduler. The manager
// rejects new bots afterwards.
func (m *Manager) Shutdown() {
	if m.closed.Swap(true) {
		return
	}

	m.scheduler.Stop()
	for _, b := range m.Bots() {
		m.DisconnectAndRemove(b)
	}
	m.cancel()
}
