// Package host runs a swarm next to a dragonfly server: it answers ground
// queries from the server's world, keeps bots from taking the names of
// online players and registers the /stress command.
package host

import (
	"github.com/df-mc/dragonfly/server"
	"github.com/oriumgames/swarm"
)

// Roster is a swarm.Roster backed by a dragonfly server.
type Roster struct {
	srv *server.Server
}

// Compile-time check that Roster implements swarm.Roster.
var _ swarm.Roster = (*Roster)(nil)

// NewRoster creates a Roster for srv.
func NewRoster(srv *server.Server) *Roster {
	return &Roster{srv: srv}
}

// Online reports whether a player with the name is connected to the server.
func (r *Roster) Online(name string) bool {
	_, ok := r.srv.PlayerByName(name)
	return ok
}
