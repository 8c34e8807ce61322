// Package bedrock implements the swarm transport for Minecraft Bedrock
// Edition servers on top of gophertunnel.
package bedrock

import (
	"errors"
	"log/slog"

	"github.com/oriumgames/swarm"
	"github.com/sandertv/gophertunnel/minecraft"
	"github.com/sandertv/gophertunnel/minecraft/protocol/login"
	"golang.org/x/oauth2"
)

// DefaultNetwork is the network bots dial if no other is given.
const DefaultNetwork = "raknet"

// Transport creates Bedrock connections for bots.
type Transport struct {
	// TokenSource, if set, authenticates every bot with the account behind
	// it. Bots log in offline with their own name otherwise.
	TokenSource oauth2.TokenSource
	// Log is used for connection level logging. slog.Default() if nil.
	Log *slog.Logger
}

// NewTransport returns a transport for offline bots.
func NewTransport() *Transport {
	return &Transport{}
}

// Compile-time check that Transport implements swarm.Transport.
var _ swarm.Transport = (*Transport)(nil)

// NewConn creates an unconnected session for a bot. Bots with a proxy dial
// the proxy instead of the target server.
func (t *Transport) NewConn(opts swarm.ConnOptions) (swarm.Conn, error) {
	if opts.Name == "" {
		return nil, errors.New("bedrock: empty bot name")
	}

	network, address := DefaultNetwork, opts.Address
	if opts.Proxy != nil {
		address = opts.Proxy.Address
		if opts.Proxy.Network != "" {
			network = opts.Proxy.Network
		}
	}
	if address == "" {
		return nil, errors.New("bedrock: no address to dial")
	}

	log := t.Log
	if log == nil {
		log = slog.Default()
	}

	c := &Conn{
		dialer: minecraft.Dialer{
			IdentityData: login.IdentityData{
				DisplayName: opts.Name,
				Identity:    opts.Identity.String(),
			},
			TokenSource: t.TokenSource,
		},
		network: network,
		address: address,
		log:     log.With("bot", opts.Name),
		tr:      translator{name: opts.Name},
	}
	c.autoRespond.Store(true)
	return c, nil
}
