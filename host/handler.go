package host

import (
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/item"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
)

// PlayerHandler keeps the ground cache of a Terrain in sync with the blocks
// players break and place.
type PlayerHandler struct {
	player.NopHandler
	terrain *Terrain
}

// NewHandler creates a player.Handler invalidating columns of t.
func NewHandler(t *Terrain) player.Handler {
	return &PlayerHandler{terrain: t}
}

// Compile-time check that PlayerHandler implements player.Handler.
var _ player.Handler = (*PlayerHandler)(nil)

func (h *PlayerHandler) HandleBlockBreak(ctx *player.Context, pos cube.Pos, drops *[]item.Stack, xp *int) {
	h.terrain.Invalidate(pos.X(), pos.Z())
}

func (h *PlayerHandler) HandleBlockPlace(ctx *player.Context, pos cube.Pos, b world.Block) {
	h.terrain.Invalidate(pos.X(), pos.Z())
}
