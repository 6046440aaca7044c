//go:build windows

package port

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/windows"
)

// wsaeafnosupport is returned when the host has no stack for an address family.
const wsaeafnosupport = syscall.Errno(10047)

// isPortTypeFree binds port on IPv6 and IPv4 with SO_REUSEADDR through the
// net package. wsaeafnosupport marks a family the host doesn't support.
func (p *Probe) isPortTypeFree(port uint16, proto protocol) bool {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	networks := []string{proto.String() + "6", proto.String() + "4"}
	hosts := []string{"::", "0.0.0.0"}

	gotSocket := false
	for i, network := range networks {
		addr := net.JoinHostPort(hosts[i], fmt.Sprint(port))
		var err error
		if proto == protoTCP {
			var l net.Listener
			if l, err = lc.Listen(context.Background(), network, addr); err == nil {
				_ = l.Close()
			}
		} else {
			var c net.PacketConn
			if c, err = lc.ListenPacket(context.Background(), network, addr); err == nil {
				_ = c.Close()
			}
		}
		if errors.Is(err, wsaeafnosupport) {
			continue
		}
		gotSocket = true
		if err != nil {
			return false
		}
	}

	if !gotSocket {
		p.logger.Warn("no address family supported for probe", "port", port, "protocol", proto.String())
	}
	return gotSocket
}
