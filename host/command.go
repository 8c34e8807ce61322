package host

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/df-mc/dragonfly/server/cmd"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/oriumgames/swarm"
)

// tick is the duration of one server tick, the unit of /stress delays.
const tick = 50 * time.Millisecond

var (
	// manager is the swarm the /stress command controls
	manager atomic.Pointer[swarm.Manager]
	// allow decides who may run /stress; nil allows everyone
	allow atomic.Pointer[func(src cmd.Source) bool]
)

// RegisterCommands registers the /stress command for m. If allowFn is not
// nil, only sources it accepts may run the command.
func RegisterCommands(m *swarm.Manager, allowFn func(src cmd.Source) bool) {
	manager.Store(m)
	if allowFn != nil {
		allow.Store(&allowFn)
	}

	cmd.Register(cmd.New("stress", "Controls the stress test bots.", nil,
		createNamed{},
		createRandom{},
		remove{},
		chat{},
		info{},
		list{},
	))
}

func allowed(src cmd.Source) bool {
	fn := allow.Load()
	return fn == nil || (*fn)(src)
}

// swarmManager returns the controlled manager or reports on o that there is
// none.
func swarmManager(o *cmd.Output) *swarm.Manager {
	m := manager.Load()
	if m == nil {
		o.Error("The swarm is not running.")
	}
	return m
}

// findBot looks a bot up by name prefix or reports on o that there is none.
func findBot(m *swarm.Manager, name string, o *cmd.Output) *swarm.Bot {
	b := m.FindByNamePrefix(name)
	if b == nil {
		o.Errorf("No bot matches '%s'.", name)
	}
	return b
}

// findBots maps every named target to the bot it selects. Targets without a
// name and players that are not bots are skipped. If nothing is selected, it
// reports so on o.
func findBots(m *swarm.Manager, targets []cmd.Target, o *cmd.Output) []*swarm.Bot {
	var bots []*swarm.Bot
	seen := make(map[*swarm.Bot]struct{}, len(targets))
	for _, t := range targets {
		named, ok := t.(cmd.NamedTarget)
		if !ok {
			continue
		}
		b := m.FindByNamePrefix(named.Name())
		if b == nil {
			continue
		}
		if _, dup := seen[b]; dup {
			continue
		}
		seen[b] = struct{}{}
		bots = append(bots, b)
	}
	if len(bots) == 0 {
		o.Error("No bot matches the selected players.")
	}
	return bots
}

// createNamed implements /stress create named <name>.
type createNamed struct {
	Create cmd.SubCommand `cmd:"create"`
	Named  cmd.SubCommand `cmd:"named"`
	Name   string         `cmd:"name"`
}

func (createNamed) Allow(src cmd.Source) bool { return allowed(src) }

func (c createNamed) Run(src cmd.Source, o *cmd.Output, tx *world.Tx) {
	m := swarmManager(o)
	if m == nil {
		return
	}
	b, err := m.Create(c.Name, 0)
	if err != nil {
		o.Errorf("Failed to create bot '%s': %v", c.Name, err)
		return
	}
	o.Printf("Created new bot '%s'.", b.Name())
}

// createRandom implements /stress create random [amount] [delay-ticks].
type createRandom struct {
	Create cmd.SubCommand    `cmd:"create"`
	Random cmd.SubCommand    `cmd:"random"`
	Amount cmd.Optional[int] `cmd:"amount"`
	Delay  cmd.Optional[int] `cmd:"delay-ticks"`
}

func (createRandom) Allow(src cmd.Source) bool { return allowed(src) }

func (c createRandom) Run(src cmd.Source, o *cmd.Output, tx *world.Tx) {
	m := swarmManager(o)
	if m == nil {
		return
	}
	amount, delay := c.Amount.LoadOr(1), c.Delay.LoadOr(20)
	if amount < 1 {
		o.Error("The amount must be at least 1.")
		return
	}
	if delay < 0 {
		o.Error("The delay cannot be negative.")
		return
	}

	for i := 0; i < amount; i++ {
		swarm.ScheduleGlobal(m, &createTask{manager: m}, time.Duration(i*delay)*tick)
	}
	o.Printf("Creating %d bot(s), one every %d tick(s).", amount, delay)
}

// createTask creates one bot with a generated name.
type createTask struct {
	manager *swarm.Manager
}

func (t *createTask) Run() {
	if _, err := t.manager.Create("", 0); err != nil {
		t.manager.Logger().Warn("swarm: failed to create random bot", "err", err)
	}
}

// remove implements /stress remove <targets>.
type remove struct {
	Remove  cmd.SubCommand `cmd:"remove"`
	Targets []cmd.Target   `cmd:"targets"`
}

func (remove) Allow(src cmd.Source) bool { return allowed(src) }

func (c remove) Run(src cmd.Source, o *cmd.Output, tx *world.Tx) {
	m := swarmManager(o)
	if m == nil {
		return
	}
	for _, b := range findBots(m, c.Targets, o) {
		m.DisconnectAndRemove(b)
		o.Printf("Removed bot '%s'.", b.Name())
	}
}

// chat implements /stress chat <targets> <message>.
type chat struct {
	Chat    cmd.SubCommand `cmd:"chat"`
	Targets []cmd.Target   `cmd:"targets"`
	Message cmd.Varargs    `cmd:"message"`
}

func (chat) Allow(src cmd.Source) bool { return allowed(src) }

func (c chat) Run(src cmd.Source, o *cmd.Output, tx *world.Tx) {
	m := swarmManager(o)
	if m == nil {
		return
	}
	for _, b := range findBots(m, c.Targets, o) {
		if err := b.SendChat(string(c.Message)); err != nil {
			o.Errorf("Bot '%s' could not send the message: %v", b.Name(), err)
		}
	}
}

// info implements /stress info <name>.
type info struct {
	Info cmd.SubCommand `cmd:"info"`
	Name string         `cmd:"name"`
}

func (info) Allow(src cmd.Source) bool { return allowed(src) }

func (c info) Run(src cmd.Source, o *cmd.Output, tx *world.Tx) {
	m := swarmManager(o)
	if m == nil {
		return
	}
	b := findBot(m, c.Name, o)
	if b == nil {
		return
	}

	l := b.Listener()
	o.Printf("Bot '%s' (%s): %s", b.Name(), b.ID(), l.State())
	if pos, yaw, pitch, ok := b.Position(); ok {
		o.Printf("Position: %.2f, %.2f, %.2f (yaw %.1f, pitch %.1f)", pos[0], pos[1], pos[2], yaw, pitch)
	}
	if ground, ok := b.Ground(); ok {
		o.Printf("Ground: %.2f", ground)
	}
	o.Printf("Latency: %s, respawn delay: %s", l.Latency(), l.RespawnDelay())
	if p := b.Proxy(); p != nil {
		o.Printf("Proxy: %s", p)
	}
}

// list implements /stress list.
type list struct {
	List cmd.SubCommand `cmd:"list"`
}

func (list) Allow(src cmd.Source) bool { return allowed(src) }

func (list) Run(src cmd.Source, o *cmd.Output, tx *world.Tx) {
	m := swarmManager(o)
	if m == nil {
		return
	}
	bots := m.Bots()
	names := make([]string, 0, len(bots))
	for _, b := range bots {
		names = append(names, b.Name())
	}
	o.Printf("%d bot(s): %s", len(bots), strings.Join(names, ", "))
}
