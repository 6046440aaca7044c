// Package transport picks the local IPC channel the port server listens on.
//
// On POSIX systems that is a unix domain socket, by default in the Linux
// abstract namespace so there is no socket file to clean up and concurrent
// test runs never collide on a path. On Windows it is a named pipe.
package transport

import (
	"context"
	"net"
	"strings"
	"time"
)

// DefaultAddress is the well-known address clients look for
const DefaultAddress = "@unittest-portserver"

// Transport opens the server's listener and lets clients reach it
type Transport interface {
	// Name identifies the transport in logs
	Name() string
	// Resolve turns a configured address into the OS-level address
	Resolve(address string) string
	// Listen binds address and returns the accept side
	Listen(ctx context.Context, address string) (net.Listener, error)
	// Dial connects to a server listening on address
	Dial(ctx context.Context, address string) (net.Conn, error)
	// TickInterval is how often the server loop must wake up on its own so
	// interrupts are noticed; zero means never
	TickInterval() time.Duration
}

// New returns the transport for the current platform
func New() Transport {
	return newPlatformTransport()
}

// IsAbstract reports whether address names an abstract socket
func IsAbstract(address string) bool {
	return strings.HasPrefix(address, "@")
}
