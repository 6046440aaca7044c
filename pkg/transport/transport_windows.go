//go:build windows

package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Microsoft/go-winio"
)

const pipePrefix = `\\.\pipe\`

// namedPipe listens on a Windows named pipe
type namedPipe struct{}

func newPlatformTransport() Transport {
	return namedPipe{}
}

func (namedPipe) Name() string { return "named-pipe" }

// TickInterval wakes the server loop so a console interrupt is observed even
// while the pipe listener is blocked in the OS
func (namedPipe) TickInterval() time.Duration { return 500 * time.Millisecond }

// Resolve maps "@name" or "name" to \\.\pipe\name
func (namedPipe) Resolve(address string) string {
	if strings.HasPrefix(address, pipePrefix) {
		return address
	}
	return pipePrefix + strings.TrimPrefix(address, "@")
}

func (p namedPipe) Listen(_ context.Context, address string) (net.Listener, error) {
	l, err := winio.ListenPipe(p.Resolve(address), &winio.PipeConfig{})
	if err != nil {
		return nil, fmt.Errorf("listen on named pipe %q: %w", address, err)
	}
	return l, nil
}

func (p namedPipe) Dial(ctx context.Context, address string) (net.Conn, error) {
	conn, err := winio.DialPipeContext(ctx, p.Resolve(address))
	if err != nil {
		return nil, fmt.Errorf("dial named pipe %q: %w", address, err)
	}
	return conn, nil
}
