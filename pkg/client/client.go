// Package client requests ports from a running port server
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nebari-dev/portserver/pkg/transport"
)

// EnvAddress names the environment variable holding the server address
const EnvAddress = "PORTSERVER_ADDRESS"

// maxResponseSize is more than any "<port>\n" response
const maxResponseSize = 16

var (
	// ErrNoPort means the server closed the connection without a port: the
	// pid was refused or the pool is exhausted
	ErrNoPort = errors.New("port server returned no port")

	// ErrBadResponse means the server sent something that is not a port
	ErrBadResponse = errors.New("unexpected response from port server")
)

// Client talks to one port server address
type Client struct {
	address   string
	transport transport.Transport
}

// New creates a client for address using the platform transport
func New(address string) *Client {
	return &Client{address: address, transport: transport.New()}
}

// Address returns PORTSERVER_ADDRESS if set, else the default address
func Address() string {
	if v := os.Getenv(EnvAddress); v != "" {
		return v
	}
	return transport.DefaultAddress
}

// Request asks address for a port on behalf of pid
func Request(ctx context.Context, address string, pid int64) (uint16, error) {
	return New(address).Request(ctx, pid)
}

// RequestWithRetry is Request retried according to policy. A nil policy
// uses DefaultRetryPolicy.
func RequestWithRetry(ctx context.Context, address string, pid int64, policy backoff.BackOff) (uint16, error) {
	return New(address).RequestWithRetry(ctx, pid, policy)
}

// PickUnusedPort requests a port for the calling process from the server
// named by PORTSERVER_ADDRESS
func PickUnusedPort(ctx context.Context) (uint16, error) {
	return New(Address()).RequestWithRetry(ctx, int64(os.Getpid()), nil)
}

// DefaultRetryPolicy retries for up to ten seconds
func DefaultRetryPolicy() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
		backoff.WithMaxInterval(time.Second),
		backoff.WithMaxElapsedTime(10*time.Second),
	)
}

// Request sends pid and reads back the port
func (c *Client) Request(ctx context.Context, pid int64) (uint16, error) {
	conn, err := c.transport.Dial(ctx, c.address)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := io.WriteString(conn, strconv.FormatInt(pid, 10)); err != nil {
		return 0, fmt.Errorf("failed to send pid: %w", err)
	}

	resp, err := io.ReadAll(io.LimitReader(conn, maxResponseSize))
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}
	return parseResponse(resp)
}

// RequestWithRetry retries connection failures and ErrNoPort. A malformed
// response is not retried.
func (c *Client) RequestWithRetry(ctx context.Context, pid int64, policy backoff.BackOff) (uint16, error) {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	return backoff.RetryWithData(func() (uint16, error) {
		got, err := c.Request(ctx, pid)
		if errors.Is(err, ErrBadResponse) {
			return 0, backoff.Permanent(err)
		}
		return got, err
	}, backoff.WithContext(policy, ctx))
}

func parseResponse(resp []byte) (uint16, error) {
	s := strings.TrimSpace(string(resp))
	if s == "" {
		return 0, ErrNoPort
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadResponse, s)
	}
	return uint16(n), nil
}
