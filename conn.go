package swarm

import (
	"context"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// Conn is a single game session to the target server. Implementations
// deliver inbound traffic to the subscribed Listener as Events and translate
// outbound Messages to the wire protocol.
type Conn interface {
	// Subscribe registers the listener that receives the events of the
	// session. It must be called before Connect.
	Subscribe(l Listener)
	// Connect performs the handshake and starts delivering events. It
	// returns once the session is established or the handshake failed.
	Connect(ctx context.Context) error
	// Send writes a message to the server.
	Send(msg Message) error
	// Disconnect closes the session with the reason given.
	Disconnect(reason string) error
}

// AutoResponder is implemented by a Conn that is able to answer liveness
// checks on its own. Bots turn it off so the reply is paced by the bot.
type AutoResponder interface {
	SetAutoRespond(enabled bool)
}

// Transport creates connections for new bots.
type Transport interface {
	NewConn(opts ConnOptions) (Conn, error)
}

// ConnOptions holds everything a Transport needs to open a session for a
// bot.
type ConnOptions struct {
	// Name is the display name the bot logs in with.
	Name string
	// Identity is the offline identity of the bot.
	Identity uuid.UUID
	// Address is the resolved address of the target server.
	Address string
	// Proxy, if non-nil, is dialed instead of Address.
	Proxy *Proxy
}

// Proxy is a relay placed in front of the target server.
type Proxy struct {
	// Network is the network the relay is dialed over, "raknet" if empty.
	Network string
	// Address is the host:port of the relay.
	Address string
}

// String returns the proxy as network://address.
func (p Proxy) String() string {
	if p.Network == "" {
		return "raknet://" + p.Address
	}
	return p.Network + "://" + p.Address
}

// Listener receives the events of a Conn.
type Listener interface {
	HandleEvent(e Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(e Event)

// HandleEvent calls f(e).
func (f ListenerFunc) HandleEvent(e Event) { f(e) }

// Message is an outbound message sent through a Conn.
type Message interface {
	message()
}

// ChatMessage is a plain chat line.
type ChatMessage struct {
	Text      string
	Timestamp time.Time
}

// CommandMessage is a command without its leading slash.
type CommandMessage struct {
	Command   string
	Timestamp time.Time
}

// MoveMessage reports the absolute position and rotation of the bot.
type MoveMessage struct {
	Position   mgl64.Vec3
	Yaw, Pitch float64
	OnGround   bool
}

// TeleportAckMessage confirms a server-forced position change.
type TeleportAckMessage struct {
	TeleportID int64
	Position   mgl64.Vec3
	Yaw, Pitch float64
}

// LatencyReplyMessage answers a liveness check.
type LatencyReplyMessage struct {
	ID int64
}

// RespawnMessage requests a respawn after death.
type RespawnMessage struct {
	EntityID uint64
}

func (ChatMessage) message()         {}
func (CommandMessage) message()      {}
func (MoveMessage) message()         {}
func (TeleportAckMessage) message()  {}
func (LatencyReplyMessage) message() {}
func (RespawnMessage) message()      {}
