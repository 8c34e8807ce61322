package swarm

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const testAddress = "127.0.0.1:19132"

// fakeConn is a Conn recording everything sent through it.
type fakeConn struct {
	mu          sync.Mutex
	opts        ConnOptions
	listener    Listener
	sent        []Message
	sentAt      []time.Time
	connected   bool
	autoRespond *bool
	reason      string
	connectErr  error
	disconnects int
	// block, if set, holds every Send until it is closed
	block chan struct{}
}

func (c *fakeConn) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

func (c *fakeConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

func (c *fakeConn) Send(msg Message) error {
	c.mu.Lock()
	block := c.block
	c.mu.Unlock()
	if block != nil {
		<-block
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	c.sentAt = append(c.sentAt, time.Now())
	return nil
}

// stall makes every following Send wait until the test ends.
func (c *fakeConn) stall(t *testing.T) {
	block := make(chan struct{})
	c.mu.Lock()
	c.block = block
	c.mu.Unlock()
	t.Cleanup(func() { close(block) })
}

func (c *fakeConn) Disconnect(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reason = reason
	c.disconnects++
	return nil
}

func (c *fakeConn) SetAutoRespond(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoRespond = &enabled
}

// emit delivers e to the subscribed listener.
func (c *fakeConn) emit(e Event) {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	l.HandleEvent(e)
}

func (c *fakeConn) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) isSubscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listener != nil
}

func (c *fakeConn) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.sent...)
}

// firstSent returns when the first message of type T went through c.
func firstSent[T Message](c *fakeConn) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, msg := range c.sent {
		if _, ok := msg.(T); ok {
			return c.sentAt[i], true
		}
	}
	return time.Time{}, false
}

// fakeTransport creates fakeConns.
type fakeTransport struct {
	mu         sync.Mutex
	conns      []*fakeConn
	err        error
	panicMsg   string
	connectErr error
}

func (t *fakeTransport) NewConn(opts ConnOptions) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.panicMsg != "" {
		panic(t.panicMsg)
	}
	if t.err != nil {
		return nil, t.err
	}
	c := &fakeConn{opts: opts, connectErr: t.connectErr}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) all() []*fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*fakeConn(nil), t.conns...)
}

func (t *fakeTransport) last() *fakeConn {
	conns := t.all()
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

// recordingHandler records lifecycle notifications.
type recordingHandler struct {
	mu          sync.Mutex
	created     []string
	disconnects []string
	reasons     []string
}

func (h *recordingHandler) HandleBotCreate(b *Bot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created = append(h.created, b.Name())
}

func (h *recordingHandler) HandleBotDisconnect(b *Bot, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects = append(h.disconnects, b.Name())
	h.reasons = append(h.reasons, reason)
}

func (h *recordingHandler) counts() (created, disconnected int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.created), len(h.disconnects)
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var errDial = errors.New("dial refused")

// newTestManager builds a manager on a fake transport. The manager is shut
// down when the test ends.
func newTestManager(t *testing.T, configure func(b *Builder)) (*Manager, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	b := NewBuilder().
		Address(testAddress).
		Transport(tr).
		TickRate(10 * time.Millisecond).
		Latency(0, 0)
	if configure != nil {
		configure(b)
	}
	m, err := b.Init()
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(m.Shutdown)
	return m, tr
}

// connectBot creates a bot and waits until its listener is subscribed.
func connectBot(t *testing.T, m *Manager, tr *fakeTransport, name string) (*Bot, *fakeConn) {
	t.Helper()
	b, err := m.Create(name, 0)
	if err != nil {
		t.Fatalf("Create(%q) error = %v", name, err)
	}
	c := tr.last()
	eventually(t, time.Second, c.isSubscribed, "listener subscribed")
	return b, c
}

// loginBot connects a bot and logs it in at pos.
func loginBot(t *testing.T, m *Manager, tr *fakeTransport, name string, login EventLogin) (*Bot, *fakeConn) {
	t.Helper()
	b, c := connectBot(t, m, tr, name)
	c.emit(login)
	return b, c
}

// eventually fails the test if cond does not become true within timeout.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// messagesOf returns the messages of type T sent through c.
func messagesOf[T Message](c *fakeConn) []T {
	var out []T
	for _, msg := range c.messages() {
		if m, ok := msg.(T); ok {
			out = append(out, m)
		}
	}
	return out
}
