package swarm

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

const (
	// MaxNameLength is the longest name a bot may have.
	MaxNameLength = 16
	// MaxMoveDistance is the largest displacement a single move should
	// cover. Bots do not clamp moves, callers must stay below it.
	MaxMoveDistance = 8.0
	// GravityStep is how far a bot falls on every gravity tick.
	GravityStep = 0.5
	// LeaveReason is the reason sent when a bot leaves on its own.
	LeaveReason = "Leaving"
)

// Bot is a single simulated client of the swarm. It owns exactly one Conn and
// one PacketListener.
//
// All position state is guarded by one mutex, so the gravity loop, the
// position sync, teleports and ground refreshes never interleave partially.
type Bot struct {
	name    string
	id      uuid.UUID
	proxy   *Proxy
	manager *Manager

	conn     Conn
	listener *PacketListener

	// mu protects the fields below
	mu          sync.Mutex
	pos         mgl64.Vec3
	yaw, pitch  float64
	hasPos      bool
	ground      float64
	groundKnown bool

	connecting       atomic.Bool
	connected        atomic.Bool
	manualDisconnect atomic.Bool
	closed           atomic.Bool
	notified         atomic.Bool
}

// newBot creates a bot and its listener. The bot is not registered.
func newBot(m *Manager, name string, id uuid.UUID, conn Conn, proxy *Proxy) *Bot {
	b := &Bot{
		name:    name,
		id:      id,
		proxy:   proxy,
		manager: m,
		conn:    conn,
	}
	b.listener = newPacketListener(b)
	return b
}

// offlineIdentity derives the identity of a bot that logs in without an
// account. The same name always maps to the same identity.
func offlineIdentity(name string) uuid.UUID {
	return uuid.NewMD5(uuid.NameSpaceOID, []byte("OfflinePlayer:"+name))
}

// Name returns the name of the bot.
func (b *Bot) Name() string {
	return b.name
}

// ID returns the offline identity of the bot.
func (b *Bot) ID() uuid.UUID {
	return b.id
}

// Proxy returns the relay the bot connects through, or nil.
func (b *Bot) Proxy() *Proxy {
	return b.proxy
}

// Listener returns the packet listener of the bot.
func (b *Bot) Listener() *PacketListener {
	return b.listener
}

// Conn returns the session of the bot.
func (b *Bot) Conn() Conn {
	return b.conn
}

// Connected reports whether the session of the bot has settled and not yet
// ended.
func (b *Bot) Connected() bool {
	return b.connected.Load()
}

// ManualDisconnect reports whether the bot left on its own through
// Disconnect.
func (b *Bot) ManualDisconnect() bool {
	return b.manualDisconnect.Load()
}

// Closed reports whether the session of the bot has ended.
func (b *Bot) Closed() bool {
	return b.closed.Load()
}

// schedulable reports whether tasks may still be queued for b.
func (b *Bot) schedulable() bool {
	return b != nil && b.manager != nil && !b.closed.Load()
}

// Position returns the last known position and rotation of the bot. ok is
// false if no position is known yet.
func (b *Bot) Position() (pos mgl64.Vec3, yaw, pitch float64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos, b.yaw, b.pitch, b.hasPos
}

// Ground returns the estimated ground height below the bot.
func (b *Bot) Ground() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ground, b.groundKnown
}

// String returns a short description for logs.
func (b *Bot) String() string {
	return fmt.Sprintf("Bot(%s)", b.name)
}

// SendChat sends text to the server. Text starting with a slash is sent as a
// command without the slash.
func (b *Bot) SendChat(text string) error {
	now := time.Now()
	if cmd, ok := strings.CutPrefix(text, "/"); ok {
		return b.send(CommandMessage{Command: cmd, Timestamp: now})
	}
	return b.send(ChatMessage{Text: text, Timestamp: now})
}

// SetLastPosition updates the cached position of the bot. If the bot moved
// to another column, the ground below it is looked up again in the
// background.
func (b *Bot) SetLastPosition(x, y, z float64) {
	b.mu.Lock()
	moved := b.setPosition(mgl64.Vec3{x, y, z})
	b.mu.Unlock()

	if moved {
		b.refreshGround(x, z)
	}
}

// setPosition stores pos and reports whether the horizontal position
// changed. Caller must hold mu.
func (b *Bot) setPosition(pos mgl64.Vec3) bool {
	moved := !b.hasPos || pos[0] != b.pos[0] || pos[2] != b.pos[2]
	b.pos = pos
	b.hasPos = true
	return moved
}

// RefreshGround looks up the ground below the current position again.
func (b *Bot) RefreshGround() {
	b.mu.Lock()
	pos, ok := b.pos, b.hasPos
	b.mu.Unlock()

	if ok {
		b.refreshGround(pos[0], pos[2])
	}
}

// refreshGround queries the terrain for the column at x, z. The result is
// only applied if the bot is still above that column when it arrives.
func (b *Bot) refreshGround(x, z float64) {
	m := b.manager
	if m == nil || m.terrain == nil {
		return
	}
	col := columnOf(x, z)

	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.conf.TerrainTimeout)
		defer cancel()

		h, err := m.terrain.HighestSurface(ctx, x, z)
		if err != nil {
			m.log.Debug("swarm: ground refresh failed", "bot", b.name, "err", err)
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.hasPos && columnOf(b.pos[0], b.pos[2]) == col {
			b.ground = h
			b.groundKnown = true
		}
	}()
}

// columnOf returns the block column containing x, z.
func columnOf(x, z float64) [2]int {
	return [2]int{int(math.Floor(x)), int(math.Floor(z))}
}

// Move moves the bot relative to its current position.
func (b *Bot) Move(dx, dy, dz float64) error {
	b.mu.Lock()
	pos := b.pos.Add(mgl64.Vec3{dx, dy, dz})
	moved := b.setPosition(pos)
	msg := MoveMessage{Position: pos, Yaw: b.yaw, Pitch: b.pitch}
	b.mu.Unlock()

	if moved {
		b.refreshGround(pos[0], pos[2])
	}
	return b.send(msg)
}

// MoveTo moves the bot to an absolute position, keeping its rotation.
func (b *Bot) MoveTo(x, y, z float64) error {
	b.mu.Lock()
	yaw, pitch := b.yaw, b.pitch
	b.mu.Unlock()
	return b.MoveToRotation(x, y, z, yaw, pitch)
}

// MoveToRotation moves the bot to an absolute position and rotation.
func (b *Bot) MoveToRotation(x, y, z, yaw, pitch float64) error {
	pos := mgl64.Vec3{x, y, z}

	b.mu.Lock()
	moved := b.setPosition(pos)
	b.yaw, b.pitch = yaw, pitch
	b.mu.Unlock()

	if moved {
		b.refreshGround(x, z)
	}
	return b.send(MoveMessage{Position: pos, Yaw: yaw, Pitch: pitch})
}

// teleport applies a server-forced position change and acknowledges it
// before any other position update of the bot can be sent.
func (b *Bot) teleport(e EventTeleport) {
	b.mu.Lock()
	defer b.mu.Unlock()

	moved := b.setPosition(e.Position)
	b.yaw, b.pitch = e.Yaw, e.Pitch
	if err := b.conn.Send(TeleportAckMessage{TeleportID: e.TeleportID, Position: e.Position, Yaw: e.Yaw, Pitch: e.Pitch}); err != nil {
		b.manager.log.Debug("swarm: teleport ack failed", "bot", b.name, "err", err)
	}
	if moved {
		b.refreshGround(e.Position[0], e.Position[2])
	}
}

// FallDown moves the bot one gravity step toward the ground. Within one
// step of the ground it lands exactly on it. Bots that are not connected,
// do not know the ground or already stand on it are left alone.
func (b *Bot) FallDown() {
	if !b.connected.Load() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.hasPos || !b.groundKnown || b.pos[1] <= b.ground {
		return
	}

	msg := MoveMessage{Yaw: b.yaw, Pitch: b.pitch}
	if b.pos[1]-GravityStep <= b.ground {
		b.pos[1] = b.ground
		msg.OnGround = true
	} else {
		b.pos[1] -= GravityStep
	}
	msg.Position = b.pos

	if err := b.conn.Send(msg); err != nil {
		b.manager.log.Debug("swarm: gravity move failed", "bot", b.name, "err", err)
	}
}

// syncPosition resends the cached position of a connected bot.
func (b *Bot) syncPosition() {
	if !b.connected.Load() {
		return
	}

	b.mu.Lock()
	if !b.hasPos {
		b.mu.Unlock()
		return
	}
	msg := MoveMessage{
		Position: b.pos,
		Yaw:      b.yaw,
		Pitch:    b.pitch,
		OnGround: b.groundKnown && b.pos[1] <= b.ground,
	}
	b.mu.Unlock()

	if err := b.send(msg); err != nil {
		b.manager.log.Debug("swarm: position sync failed", "bot", b.name, "err", err)
	}
}

// Connect starts the session of the bot on its own goroutine. The listener
// is subscribed before the handshake starts; a failed handshake is delivered
// to it as an EventDisconnect. Only the first call has an effect.
func (b *Bot) Connect() {
	if b.connecting.Swap(true) || b.closed.Load() {
		return
	}

	go func() {
		if ar, ok := b.conn.(AutoResponder); ok {
			ar.SetAutoRespond(false)
		}
		b.conn.Subscribe(b.listener)

		if err := b.conn.Connect(b.manager.ctx); err != nil {
			b.listener.HandleEvent(EventDisconnect{Reason: err.Error(), Err: err})
		}
	}()
}

// Disconnect ends the session of the bot on its own initiative.
func (b *Bot) Disconnect() {
	b.manualDisconnect.Store(true)
	b.closed.Store(true)
	b.setConnected(false)

	if err := b.conn.Disconnect(LeaveReason); err != nil {
		b.manager.log.Debug("swarm: disconnect failed", "bot", b.name, "err", err)
	}
	b.manager.notifyDisconnect(b, LeaveReason)

	// A bot that never started connecting gets no disconnect event.
	if !b.connecting.Swap(true) {
		b.manager.Remove(b)
	}
}

// setConnected updates the connected flag and the connected gauge.
func (b *Bot) setConnected(v bool) {
	if b.connected.Swap(v) == v {
		return
	}
	if v {
		b.manager.metrics.connected(1)
	} else {
		b.manager.metrics.connected(-1)
	}
}

// send writes msg unless the session has ended.
func (b *Bot) send(msg Message) error {
	if b.closed.Load() {
		return ErrNotConnected
	}
	if err := b.conn.Send(msg); err != nil {
		return fmt.Errorf("swarm: send %T for %s: %w", msg, b.name, err)
	}
	return nil
}
