package swarm

import "errors"

var (
	// ErrInvalidName is returned when a bot name is empty or longer than
	// MaxNameLength characters.
	ErrInvalidName = errors.New("swarm: invalid bot name")
	// ErrNameCollision is returned when a real user with the requested name
	// is online.
	ErrNameCollision = errors.New("swarm: name is used by an online player")
	// ErrNotConnected is returned when a bot without a live session is asked
	// to send.
	ErrNotConnected = errors.New("swarm: bot is not connected")
	// ErrManagerClosed is returned by a Manager after Shutdown.
	ErrManagerClosed = errors.New("swarm: manager is shut down")
)
