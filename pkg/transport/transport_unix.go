//go:build unix

package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"
)

// unixSocket listens on a unix domain socket. A leading '@' selects the
// abstract namespace.
type unixSocket struct{}

func newPlatformTransport() Transport {
	return unixSocket{}
}

func (unixSocket) Name() string { return "unix" }

func (unixSocket) TickInterval() time.Duration { return 0 }

// Resolve replaces a leading '@' with the NUL byte that marks an abstract
// socket name
func (unixSocket) Resolve(address string) string {
	if IsAbstract(address) {
		return "\x00" + address[1:]
	}
	return address
}

func (u unixSocket) Listen(ctx context.Context, address string) (net.Listener, error) {
	resolved := u.Resolve(address)
	if !IsAbstract(address) {
		if err := removeStaleSocket(ctx, resolved); err != nil {
			return nil, err
		}
	}

	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "unix", resolved)
	if err != nil {
		return nil, fmt.Errorf("listen on unix socket %q: %w", address, err)
	}
	return l, nil
}

func (u unixSocket) Dial(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", u.Resolve(address))
	if err != nil {
		return nil, fmt.Errorf("dial unix socket %q: %w", address, err)
	}
	return conn, nil
}

// removeStaleSocket deletes a socket file left behind by a server that is no
// longer running. A socket somebody still answers on is left alone so Listen
// fails with "address already in use".
func removeStaleSocket(ctx context.Context, path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat socket path %q: %w", path, err)
	}
	if info.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("socket path %q exists and is not a socket", path)
	}

	var d net.Dialer
	if conn, err := d.DialContext(ctx, "unix", path); err == nil {
		_ = conn.Close()
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale socket %q: %w", path, err)
	}
	return nil
}
