package bedrock

import (
	"fmt"
	"strings"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/oriumgames/swarm"
	"github.com/sandertv/gophertunnel/minecraft"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
)

// eyeHeight is the offset between the feet of a player and the position the
// protocol reports for it.
const eyeHeight = 1.62

// immediateRespawnRule is the game rule that skips the respawn screen.
const immediateRespawnRule = "doimmediaterespawn"

// translator converts packets to swarm events and swarm messages to packets
// for one session.
type translator struct {
	name     string
	entityID uint64
	// dead is set between the death of the player and its respawn, so that
	// a death reported twice by the server produces one event.
	dead bool

	// tick is the client tick of the last movement input sent. The server
	// expects it to grow by one with every input.
	tick uint64
	// last is the protocol position of the last movement input.
	last mgl32.Vec3
}

// login builds the login event from the game data of a spawned session.
func (t *translator) login(gd minecraft.GameData) swarm.EventLogin {
	t.entityID = gd.EntityRuntimeID

	respawnScreen := true
	if v, ok := gameRule(gd.GameRules, immediateRespawnRule); ok {
		respawnScreen = !v
	}
	return swarm.EventLogin{
		EntityID:      gd.EntityRuntimeID,
		RespawnScreen: respawnScreen,
		Position:      feet(gd.PlayerPosition),
		Yaw:           float64(gd.Yaw),
		Pitch:         float64(gd.Pitch),
	}
}

// event translates an inbound packet. ok is false for packets the swarm
// does not react to.
func (t *translator) event(pk packet.Packet) (e swarm.Event, ok bool) {
	switch pk := pk.(type) {
	case *packet.NetworkStackLatency:
		if !pk.NeedsResponse {
			return nil, false
		}
		return swarm.EventLatencyCheck{ID: pk.Timestamp}, true
	case *packet.MovePlayer:
		if pk.EntityRuntimeID != t.entityID {
			return nil, false
		}
		if pk.Mode != packet.MoveModeTeleport && pk.Mode != packet.MoveModeReset {
			return nil, false
		}
		return swarm.EventTeleport{
			TeleportID: int64(pk.Tick),
			Position:   feet(pk.Position),
			Yaw:        float64(pk.Yaw),
			Pitch:      float64(pk.Pitch),
		}, true
	case *packet.GameRulesChanged:
		if v, ok := gameRule(pk.GameRules, immediateRespawnRule); ok {
			return swarm.EventRespawnScreen{Enabled: !v}, true
		}
	case *packet.ActorEvent:
		if pk.EntityRuntimeID == t.entityID && pk.EventType == packet.ActorEventDeath {
			return t.death("")
		}
	case *packet.DeathInfo:
		return t.death(pk.Cause)
	case *packet.Respawn:
		if pk.State != packet.RespawnStateReadyToSpawn {
			return nil, false
		}
		t.dead = false
		return swarm.EventTeleport{Position: feet(pk.Position)}, true
	case *packet.UpdateBlock:
		return swarm.EventBlockChange{Position: cube.Pos{int(pk.Position[0]), int(pk.Position[1]), int(pk.Position[2])}}, true
	case *packet.Text:
		if pk.TextType != packet.TextTypeChat && pk.TextType != packet.TextTypeRaw {
			return nil, false
		}
		return swarm.EventChat{Source: pk.SourceName, Message: pk.Message}, true
	case *packet.Disconnect:
		return swarm.EventDisconnect{Reason: pk.Message}, true
	}
	return nil, false
}

func (t *translator) death(cause string) (swarm.Event, bool) {
	if t.dead {
		return nil, false
	}
	t.dead = true
	return swarm.EventDeath{Message: cause}, true
}

// packet translates an outbound message.
func (t *translator) packet(msg swarm.Message) (packet.Packet, error) {
	switch msg := msg.(type) {
	case swarm.ChatMessage:
		return &packet.Text{
			TextType:   packet.TextTypeChat,
			SourceName: t.name,
			Message:    msg.Text,
		}, nil
	case swarm.CommandMessage:
		return &packet.CommandRequest{
			CommandLine: "/" + strings.TrimPrefix(msg.Command, "/"),
			CommandOrigin: protocol.CommandOrigin{
				Origin: protocol.CommandOriginPlayer,
				UUID:   uuid.New(),
			},
		}, nil
	case swarm.MoveMessage:
		var flags []int
		if msg.OnGround {
			flags = append(flags, packet.InputFlagVerticalCollision)
		}
		return t.input(msg.Position, msg.Yaw, msg.Pitch, flags...), nil
	case swarm.TeleportAckMessage:
		return t.input(msg.Position, msg.Yaw, msg.Pitch, packet.InputFlagHandledTeleport), nil
	case swarm.LatencyReplyMessage:
		return &packet.NetworkStackLatency{Timestamp: msg.ID}, nil
	case swarm.RespawnMessage:
		id := msg.EntityID
		if id == 0 {
			id = t.entityID
		}
		return &packet.Respawn{
			State:           packet.RespawnStateClientReadyToSpawn,
			EntityRuntimeID: id,
		}, nil
	}
	return nil, fmt.Errorf("bedrock: unsupported message %T", msg)
}

// input builds the movement input for the next client tick. Movement is
// server authoritative, so every position the bot reports travels in a
// PlayerAuthInput.
func (t *translator) input(pos mgl64.Vec3, yaw, pitch float64, flags ...int) *packet.PlayerAuthInput {
	data := protocol.NewBitset(packet.PlayerAuthInputBitsetSize)
	for _, f := range flags {
		data.Set(f)
	}

	t.tick++
	p := eye(pos)
	delta := p.Sub(t.last)
	if t.tick == 1 {
		delta = mgl32.Vec3{}
	}
	t.last = p

	return &packet.PlayerAuthInput{
		Pitch:            float32(pitch),
		Yaw:              float32(yaw),
		Position:         p,
		HeadYaw:          float32(yaw),
		InputData:        data,
		InputMode:        packet.InputModeMouse,
		PlayMode:         packet.PlayModeNormal,
		InteractionModel: packet.InteractionModelCrosshair,
		InteractPitch:    float32(pitch),
		InteractYaw:      float32(yaw),
		Tick:             t.tick,
		Delta:            delta,
	}
}

// gameRule looks up a boolean game rule by name.
func gameRule(rules []protocol.GameRule, name string) (bool, bool) {
	for _, r := range rules {
		if !strings.EqualFold(r.Name, name) {
			continue
		}
		v, ok := r.Value.(bool)
		return v, ok
	}
	return false, false
}

// feet converts a protocol player position to the position of its feet.
func feet(v mgl32.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{float64(v[0]), float64(v[1]) - eyeHeight, float64(v[2])}
}

// eye converts the position of the feet of a player to its protocol
// position.
func eye(v mgl64.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{float32(v[0]), float32(v[1] + eyeHeight), float32(v[2])}
}
