package swarm

import (
	"log/slog"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a PacketListener.
type State int32

const (
	StateConnecting State = iota
	StateLoggedIn
	StateConnected
	StateAwaitingRespawn
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLoggedIn:
		return "logged in"
	case StateConnected:
		return "connected"
	case StateAwaitingRespawn:
		return "awaiting respawn"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// blockChangeRange is how close a changed block has to be, on both
// horizontal axes, for the bot to look up its ground again.
const blockChangeRange = 1.5

// PacketListener reacts to the events of the session of one bot.
//
// Replies that the server expects after a delay, like respawn requests and
// latency replies, are scheduled as tasks of the bot on the scheduler of its
// Manager. Those tasks are never cancelled: each one checks the state of the
// bot when it runs.
type PacketListener struct {
	bot *Bot
	log *slog.Logger

	entityID atomic.Uint64
	state    atomic.Int32
	// respawnDelay is the delay used for this session, in nanoseconds.
	// Negative means never respawn.
	respawnDelay atomic.Int64
	// latency is how long liveness replies are held back. It is drawn once
	// per session.
	latency time.Duration

	settled atomic.Bool
}

// Compile-time check that PacketListener implements Listener.
var _ Listener = (*PacketListener)(nil)

// newPacketListener creates the listener of b.
func newPacketListener(b *Bot) *PacketListener {
	m := b.manager
	l := &PacketListener{
		bot:     b,
		log:     m.log.With("bot", b.name),
		latency: randomDuration(m.conf.LatencyMin, m.conf.LatencyMax),
	}
	l.respawnDelay.Store(int64(m.conf.RespawnDelay))
	return l
}

// randomDuration returns a uniformly distributed duration in [min, max), or
// min if the range is empty.
func randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min)
}

// Bot returns the bot the listener belongs to.
func (l *PacketListener) Bot() *Bot {
	return l.bot
}

// State returns the current lifecycle state.
func (l *PacketListener) State() State {
	return State(l.state.Load())
}

// EntityID returns the runtime id the server assigned to the bot.
func (l *PacketListener) EntityID() uint64 {
	return l.entityID.Load()
}

// RespawnDelay returns the delay before respawn requests for this session.
// A negative delay means the bot never respawns.
func (l *PacketListener) RespawnDelay() time.Duration {
	return time.Duration(l.respawnDelay.Load())
}

// Latency returns the delay before liveness replies for this session.
func (l *PacketListener) Latency() time.Duration {
	return l.latency
}

// HandleEvent implements Listener. Events after the disconnect are dropped.
func (l *PacketListener) HandleEvent(e Event) {
	if l.State() == StateDisconnected {
		return
	}

	switch e := e.(type) {
	case EventLogin:
		l.handleLogin(e)
	case EventRespawnScreen:
		l.setRespawnScreen(e.Enabled)
	case EventTeleport:
		l.bot.teleport(e)
	case EventDeath:
		l.handleDeath()
	case EventLatencyCheck:
		Schedule(l.bot, &latencyReplyTask{bot: l.bot, id: e.ID}, l.latency)
	case EventBlockChange:
		l.handleBlockChange(e)
	case EventChat:
		if l.bot.manager.Relay() == l.bot {
			l.log.Info("swarm: chat", "source", e.Source, "message", e.Message)
		}
	case EventDisconnect:
		l.handleDisconnect(e)
	}
}

func (l *PacketListener) handleLogin(e EventLogin) {
	if !l.state.CompareAndSwap(int32(StateConnecting), int32(StateLoggedIn)) {
		return
	}
	b, m := l.bot, l.bot.manager

	l.entityID.Store(e.EntityID)
	l.setRespawnScreen(e.RespawnScreen)

	b.mu.Lock()
	b.setPosition(e.Position)
	b.yaw, b.pitch = e.Yaw, e.Pitch
	b.mu.Unlock()
	b.refreshGround(e.Position[0], e.Position[2])

	l.log.Info("swarm: bot logged in", "entity", e.EntityID)

	Schedule(b, &settleTask{listener: l}, m.conf.SettleDelay)
	for i, text := range m.conf.JoinMessages {
		delay := m.conf.SettleDelay + time.Duration(i)*m.conf.JoinMessageInterval
		Schedule(b, &joinMessageTask{bot: b, text: text}, delay)
	}
}

// setRespawnScreen selects the respawn delay for the session: servers that
// respawn players immediately get no delay.
func (l *PacketListener) setRespawnScreen(enabled bool) {
	if enabled {
		l.respawnDelay.Store(int64(l.bot.manager.conf.RespawnDelay))
		return
	}
	l.respawnDelay.Store(0)
}

func (l *PacketListener) handleDeath() {
	delay := l.RespawnDelay()
	if delay < 0 {
		l.log.Debug("swarm: bot died, respawn disabled")
		return
	}
	l.state.CompareAndSwap(int32(StateConnected), int32(StateAwaitingRespawn))
	Schedule(l.bot, &respawnTask{listener: l}, delay)
}

func (l *PacketListener) handleBlockChange(e EventBlockChange) {
	pos, _, _, ok := l.bot.Position()
	if !ok {
		return
	}
	if math.Abs(float64(e.Position[0])-pos[0]) <= blockChangeRange &&
		math.Abs(float64(e.Position[2])-pos[2]) <= blockChangeRange {
		l.bot.RefreshGround()
	}
}

func (l *PacketListener) handleDisconnect(e EventDisconnect) {
	if State(l.state.Swap(int32(StateDisconnected))) == StateDisconnected {
		return
	}
	b := l.bot

	b.closed.Store(true)
	b.setConnected(false)
	if e.Err != nil {
		l.log.Info("swarm: bot disconnected", "reason", e.Reason, "err", e.Err)
	} else {
		l.log.Info("swarm: bot disconnected", "reason", e.Reason)
	}

	b.manager.notifyDisconnect(b, e.Reason)
	b.manager.Remove(b)
}

// settleTask marks the bot connected once the session has settled and
// starts the position sync.
type settleTask struct {
	listener *PacketListener
}

func (t *settleTask) Run() {
	l := t.listener
	b := l.bot
	if b.Closed() || !l.settled.CompareAndSwap(false, true) {
		return
	}
	l.state.CompareAndSwap(int32(StateLoggedIn), int32(StateConnected))
	b.setConnected(true)

	ScheduleRepeating(b, &positionSyncTask{bot: b}, b.manager.conf.SyncInterval, -1)
}

// positionSyncTask resends the position of a connected bot.
type positionSyncTask struct {
	bot *Bot
}

func (t *positionSyncTask) Run() {
	t.bot.syncPosition()
}

// joinMessageTask sends one configured join message.
type joinMessageTask struct {
	bot  *Bot
	text string
}

func (t *joinMessageTask) Run() {
	if t.bot.Closed() {
		return
	}
	if err := t.bot.SendChat(t.text); err != nil {
		t.bot.manager.log.Debug("swarm: join message failed", "bot", t.bot.name, "err", err)
	}
}

// respawnTask requests a respawn after death.
type respawnTask struct {
	listener *PacketListener
}

func (t *respawnTask) Run() {
	l := t.listener
	b := l.bot
	if b.Closed() {
		return
	}
	if err := b.send(RespawnMessage{EntityID: l.EntityID()}); err != nil {
		l.log.Debug("swarm: respawn failed", "err", err)
		return
	}
	l.state.CompareAndSwap(int32(StateAwaitingRespawn), int32(StateConnected))
	b.manager.metrics.inc(respawns)
}

// latencyReplyTask answers one liveness check.
type latencyReplyTask struct {
	bot *Bot
	id  int64
}

func (t *latencyReplyTask) Run() {
	if t.bot.Closed() {
		return
	}
	if err := t.bot.send(LatencyReplyMessage{ID: t.id}); err != nil {
		t.bot.manager.log.Debug("swarm: latency reply failed", "bot", t.bot.name, "err", err)
		return
	}
	t.bot.manager.metrics.inc(latencyReplies)
}
