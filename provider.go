package swarm

import (
	"context"
)

// Terrain answers world queries for bots.
type Terrain interface {
	// HighestSurface returns the Y coordinate a player standing in the
	// column at x, z would have.
	HighestSurface(ctx context.Context, x, z float64) (float64, error)
}

// Roster reports which real users are online on the target server.
// Bots are never created under the name of an online user.
type Roster interface {
	Online(name string) bool
}

// NickSource produces nicknames for bots created without one. Next returns
// an empty string if no name is available.
type NickSource interface {
	Next() string
}

// FlatTerrain is a Terrain whose surface has the same height everywhere.
type FlatTerrain float64

// HighestSurface returns f everywhere.
func (f FlatTerrain) HighestSurface(context.Context, float64, float64) (float64, error) {
	return float64(f), nil
}

// TerrainFunc adapts a function to the Terrain interface.
type TerrainFunc func(ctx context.Context, x, z float64) (float64, error)

// HighestSurface calls f(ctx, x, z).
func (f TerrainFunc) HighestSurface(ctx context.Context, x, z float64) (float64, error) {
	return f(ctx, x, z)
}

// RosterFunc adapts a function to the Roster interface.
type RosterFunc func(name string) bool

// Online calls f(name).
func (f RosterFunc) Online(name string) bool {
	return f(name)
}
