package swarm

import (
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
)

// Event types are delivered by a Conn to its Listener. They describe what the
// server did, independent of the wire protocol spoken underneath.
type Event interface {
	event()
}

// EventLogin is emitted once the session is established and the bot has
// spawned.
type EventLogin struct {
	EntityID uint64
	// RespawnScreen is false if the server respawns players immediately.
	RespawnScreen bool
	Position      mgl64.Vec3
	Yaw, Pitch    float64
}

// EventRespawnScreen is emitted when the server toggles the respawn screen.
type EventRespawnScreen struct {
	Enabled bool
}

// EventTeleport is emitted when the server forces the bot to a position.
type EventTeleport struct {
	TeleportID int64
	Position   mgl64.Vec3
	Yaw, Pitch float64
}

// EventDeath is emitted when the bot dies.
type EventDeath struct {
	Message string
}

// EventLatencyCheck is emitted when the server asks for a liveness reply.
type EventLatencyCheck struct {
	ID int64
}

// EventBlockChange is emitted when a block in the world changes.
type EventBlockChange struct {
	Position cube.Pos
}

// EventChat is emitted for chat lines received by the bot.
type EventChat struct {
	Source  string
	Message string
}

// EventDisconnect is emitted when the session ends, including a failed
// handshake. Err holds the underlying error if there was one.
type EventDisconnect struct {
	Reason string
	Err    error
}

func (EventLogin) event()         {}
func (EventRespawnScreen) event() {}
func (EventTeleport) event()      {}
func (EventDeath) event()         {}
func (EventLatencyCheck) event()  {}
func (EventBlockChange) event()   {}
func (EventChat) event()          {}
func (EventDisconnect) event()    {}

// Handler is notified about the lifecycle of the bots of a Manager.
// Methods may be called from any goroutine.
type Handler interface {
	// HandleBotCreate is called when a bot has been created and registered,
	// before it connects.
	HandleBotCreate(b *Bot)
	// HandleBotDisconnect is called once per bot when it disconnects,
	// whether the server or the bot ended the session.
	HandleBotDisconnect(b *Bot, reason string)
}

// NopHandler implements Handler and does nothing.
type NopHandler struct{}

// Compile-time check that NopHandler implements Handler.
var _ Handler = NopHandler{}

func (NopHandler) HandleBotCreate(*Bot)             {}
func (NopHandler) HandleBotDisconnect(*Bot, string) {}
