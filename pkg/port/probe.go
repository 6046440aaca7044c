// Package port answers whether a port is actually free on this host
package port

import (
	"fmt"
	"net"

	"github.com/nebari-dev/portserver/pkg/logger"
)

// MinPort and MaxPort bound the valid port numbers a pool may manage
const (
	MinPort = 1
	MaxPort = 65535
)

// Checker reports whether a port can be bound right now
type Checker interface {
	IsPortFree(port uint16) bool
}

// Probe checks a port by binding it for both TCP and UDP on every address
// family the kernel supports. It holds no sockets between calls.
type Probe struct {
	logger *logger.Logger
}

// NewProbe creates a probe that reports socket-level trouble to log
func NewProbe(log *logger.Logger) *Probe {
	return &Probe{logger: log.WithComponent("port-probe")}
}

// IsPortFree reports whether port is bindable for TCP (with listen) and UDP.
// Callers don't choose a protocol, so the port is only free if both are.
func (p *Probe) IsPortFree(port uint16) bool {
	if port == 0 {
		return false
	}
	return p.isPortTypeFree(port, protoTCP) && p.isPortTypeFree(port, protoUDP)
}

type protocol int

const (
	protoTCP protocol = iota
	protoUDP
)

func (p protocol) String() string {
	if p == protoTCP {
		return "tcp"
	}
	return "udp"
}

// FreePort asks the kernel for an ephemeral TCP port and releases it
// immediately. The port is only a good guess: nothing holds it afterwards.
func FreePort() (uint16, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate random port: %w", err)
	}
	defer listener.Close()

	addr := listener.Addr().(*net.TCPAddr)
	return uint16(addr.Port), nil
}
