package bedrock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/oriumgames/swarm"
	"github.com/sandertv/gophertunnel/minecraft"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
)

// Conn is a swarm.Conn speaking the Bedrock Edition protocol through a
// gophertunnel client connection.
//
// Packets are read on a goroutine started by Connect and delivered to the
// subscribed listener in the order they arrive.
type Conn struct {
	dialer  minecraft.Dialer
	network string
	address string
	log     *slog.Logger

	autoRespond atomic.Bool

	// mu protects the fields below
	mu       sync.Mutex
	conn     *minecraft.Conn
	cancel   context.CancelFunc
	listener swarm.Listener
	tr       translator
	closed   bool

	// ended is set once the disconnect event was delivered
	ended atomic.Bool
}

// Compile-time checks.
var (
	_ swarm.Conn          = (*Conn)(nil)
	_ swarm.AutoResponder = (*Conn)(nil)
)

// SetAutoRespond controls whether liveness checks are answered right away by
// the connection instead of being passed on to the listener.
func (c *Conn) SetAutoRespond(enabled bool) {
	c.autoRespond.Store(enabled)
}

// Subscribe sets the listener receiving the events of the connection.
func (c *Conn) Subscribe(l swarm.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// Connect dials the server, spawns the player and starts reading packets.
func (c *Conn) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return net.ErrClosed
	}
	c.cancel = cancel
	c.mu.Unlock()

	conn, err := c.dialer.DialContext(ctx, c.network, c.address)
	if err != nil {
		cancel()
		return fmt.Errorf("bedrock: dial %s: %w", c.address, err)
	}
	if err := conn.DoSpawnContext(ctx); err != nil {
		_ = conn.Close()
		cancel()
		return fmt.Errorf("bedrock: spawn on %s: %w", c.address, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		cancel()
		return net.ErrClosed
	}
	c.conn = conn
	login := c.tr.login(conn.GameData())
	c.mu.Unlock()

	c.emit(login)
	go c.readLoop(conn)
	return nil
}

// readLoop reads packets until the connection closes.
func (c *Conn) readLoop(conn *minecraft.Conn) {
	for {
		pk, err := conn.ReadPacket()
		if err != nil {
			reason := "connection closed"
			if !errors.Is(err, net.ErrClosed) {
				reason = err.Error()
			}
			c.end(swarm.EventDisconnect{Reason: reason, Err: err})
			return
		}
		c.handlePacket(conn, pk)
	}
}

func (c *Conn) handlePacket(conn *minecraft.Conn, pk packet.Packet) {
	if latency, ok := pk.(*packet.NetworkStackLatency); ok && latency.NeedsResponse && c.autoRespond.Load() {
		if err := conn.WritePacket(&packet.NetworkStackLatency{Timestamp: latency.Timestamp}); err != nil {
			c.log.Debug("bedrock: latency reply failed", "err", err)
		}
		return
	}

	c.mu.Lock()
	e, ok := c.tr.event(pk)
	c.mu.Unlock()
	if !ok {
		return
	}

	if d, ok := e.(swarm.EventDisconnect); ok {
		c.end(d)
		_ = conn.Close()
		return
	}
	c.emit(e)
}

// emit delivers e to the listener.
func (c *Conn) emit(e swarm.Event) {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()

	if l != nil {
		l.HandleEvent(e)
	}
}

// end delivers the disconnect event, once.
func (c *Conn) end(e swarm.EventDisconnect) {
	if c.ended.Swap(true) {
		return
	}
	c.emit(e)
}

// Send writes msg to the server.
func (c *Conn) Send(msg swarm.Message) error {
	c.mu.Lock()
	conn := c.conn
	pk, err := c.tr.packet(msg)
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if conn == nil {
		return swarm.ErrNotConnected
	}
	return conn.WritePacket(pk)
}

// Disconnect tells the server the player leaves and closes the connection.
// A handshake in progress is aborted.
func (c *Conn) Disconnect(reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn, cancel := c.conn, c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	_ = conn.WritePacket(&packet.Disconnect{Message: reason})
	return conn.Close()
}
