//go:build unix

package port

import (
	"golang.org/x/sys/unix"
)

// isPortTypeFree binds port on IPv6 and IPv4 with SO_REUSEADDR. A family the
// kernel can't create a socket for is skipped; if none is supported the port
// is reported busy.
func (p *Probe) isPortTypeFree(port uint16, proto protocol) bool {
	typ := unix.SOCK_STREAM
	if proto == protoUDP {
		typ = unix.SOCK_DGRAM
	}

	probes := []struct {
		family int
		addr   unix.Sockaddr
	}{
		{unix.AF_INET6, &unix.SockaddrInet6{Port: int(port)}},
		{unix.AF_INET, &unix.SockaddrInet4{Port: int(port)}},
	}

	gotSocket := false
	var socketErrs []error
	for _, probe := range probes {
		fd, err := unix.Socket(probe.family, typ, 0)
		if err != nil {
			socketErrs = append(socketErrs, err)
			continue
		}
		// Any error past this point means the port is in use.
		gotSocket = true
		if !p.bindAndClose(fd, probe.addr, proto) {
			return false
		}
	}

	if !gotSocket {
		p.logger.Warn("no address family supported for probe",
			"port", port, "protocol", proto.String(), "errors", socketErrs)
	}
	return gotSocket
}

func (p *Probe) bindAndClose(fd int, addr unix.Sockaddr, proto protocol) bool {
	defer unix.Close(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		p.logger.Warn("failed to set SO_REUSEADDR", "error", err)
		return false
	}
	if err := unix.Bind(fd, addr); err != nil {
		return false
	}
	if proto == protoTCP {
		if err := unix.Listen(fd, 1); err != nil {
			return false
		}
	}
	return true
}
