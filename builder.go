package swarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Builder configures a Manager before initialization.
// Use NewBuilder() to create a builder and chain configuration methods.
type Builder struct {
	conf      Config
	transport Transport
	roster    Roster
	terrain   Terrain
	nicks     NickSource
	handler   Handler
	log       *slog.Logger
	metrics   *Metrics
}

// NewBuilder creates a new builder with DefaultConfig.
func NewBuilder() *Builder {
	return &Builder{conf: DefaultConfig()}
}

// Config replaces all settings at once.
func (b *Builder) Config(conf Config) *Builder {
	b.conf = conf
	return b
}

// Address sets the host:port of the target server.
func (b *Builder) Address(addr string) *Builder {
	b.conf.Address = addr
	return b
}

// RespawnDelay sets the delay before dead bots respawn. Zero respawns
// immediately, a negative delay disables respawning.
func (b *Builder) RespawnDelay(d time.Duration) *Builder {
	b.conf.RespawnDelay = d
	return b
}

// Gravity enables or disables the gravity loop.
func (b *Builder) Gravity(enabled bool) *Builder {
	b.conf.Gravity = enabled
	return b
}

// JoinMessages sets the messages every bot sends once connected.
func (b *Builder) JoinMessages(msgs ...string) *Builder {
	b.conf.JoinMessages = append([]string(nil), msgs...)
	return b
}

// Latency sets the window the per-session liveness reply delay is drawn
// from.
func (b *Builder) Latency(min, max time.Duration) *Builder {
	b.conf.LatencyMin, b.conf.LatencyMax = min, max
	return b
}

// TickRate sets how often the scheduler runs loops.
func (b *Builder) TickRate(d time.Duration) *Builder {
	b.conf.TickRate = d
	return b
}

// Workers sets the size of the scheduler worker pool.
func (b *Builder) Workers(n int) *Builder {
	b.conf.Workers = n
	return b
}

// Transport sets the factory for bot sessions. It is required.
func (b *Builder) Transport(t Transport) *Builder {
	b.transport = t
	return b
}

// Roster sets the lookup for online real users.
func (b *Builder) Roster(r Roster) *Builder {
	b.roster = r
	return b
}

// Terrain sets the world query used for ground estimates.
func (b *Builder) Terrain(t Terrain) *Builder {
	b.terrain = t
	return b
}

// Nicknames sets the source of names for bots created without one.
func (b *Builder) Nicknames(n NickSource) *Builder {
	b.nicks = n
	return b
}

// Handler sets the handler notified about bot lifecycle changes.
func (b *Builder) Handler(h Handler) *Builder {
	b.handler = h
	return b
}

// Logger sets the logger. slog.Default() is used if none is set.
func (b *Builder) Logger(l *slog.Logger) *Builder {
	b.log = l
	return b
}

// Metrics sets the collectors updated by the manager.
func (b *Builder) Metrics(m *Metrics) *Builder {
	b.metrics = m
	return b
}

// Init resolves the target address, starts the scheduler and returns the
// Manager.
// Multiple Manager instances can coexist for running multiple swarms.
func (b *Builder) Init() (*Manager, error) {
	if b.transport == nil {
		return nil, errors.New("swarm: no transport configured")
	}
	addr, err := net.ResolveUDPAddr("udp", b.conf.Address)
	if err != nil {
		return nil, fmt.Errorf("swarm: resolve %q: %w", b.conf.Address, err)
	}

	conf := b.conf
	conf.Address = addr.String()
	def := DefaultConfig()
	if conf.SettleDelay <= 0 {
		conf.SettleDelay = def.SettleDelay
	}
	if conf.JoinMessageInterval <= 0 {
		conf.JoinMessageInterval = def.JoinMessageInterval
	}
	if conf.SyncInterval <= 0 {
		conf.SyncInterval = def.SyncInterval
	}
	if conf.GravityInterval <= 0 {
		conf.GravityInterval = def.GravityInterval
	}
	if conf.GravityDelay < 0 {
		conf.GravityDelay = def.GravityDelay
	}
	if conf.TerrainTimeout <= 0 {
		conf.TerrainTimeout = def.TerrainTimeout
	}

	m := &Manager{
		conf:      conf,
		transport: b.transport,
		roster:    b.roster,
		terrain:   b.terrain,
		nicks:     b.nicks,
		handler:   b.handler,
		log:       b.log,
		metrics:   b.metrics,
	}
	if m.handler == nil {
		m.handler = NopHandler{}
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.scheduler = newScheduler(m.log, conf.TickRate, conf.Workers)

	if conf.Gravity {
		m.gravity = &GravityTimer{manager: m}
		m.scheduler.addLoop("gravity", m.gravity, conf.GravityInterval, conf.GravityDelay)
	}

	m.scheduler.Start()
	return m, nil
}
