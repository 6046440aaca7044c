// Package handler implements the one-shot port request protocol.
//
// A client connects, writes its pid as ASCII decimal and reads back
// "<port>\n". Every failure, whether a malformed request, a refused pid or
// an exhausted pool, closes the connection without writing anything; the
// reason is only visible in the counters and the log.
package handler

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nebari-dev/portserver/pkg/logger"
	"github.com/nebari-dev/portserver/pkg/pool"
	"github.com/nebari-dev/portserver/pkg/process"
)

const (
	// maxReadSize is how much of the request is read, in a single read
	maxReadSize = 100
	// maxPIDLength is the longest pid string accepted
	maxPIDLength = 20
)

var (
	// ErrMalformedRequest is a request that is empty, oversize or not a number
	ErrMalformedRequest = errors.New("malformed request")

	// ErrDenied is a pid refused by admission control
	ErrDenied = errors.New("allocation denied")
)

// Allocator hands out a port for a pid. The server routes this through its
// event loop so the pool is only ever touched by one goroutine.
type Allocator interface {
	Allocate(pid int64) (uint16, error)
}

// PoolInfo exposes the pool figures reported in stats. Both values must be
// safe to read from any goroutine.
type PoolInfo interface {
	Size() int
	LastScanDepth() int
}

// Describer is implemented by oracles that can report a process command line
type Describer interface {
	Cmdline(pid int64) string
}

// Stats is a point-in-time copy of the server counters
type Stats struct {
	TotalAllocations    uint64 `json:"total_allocations"`
	DeniedAllocations   uint64 `json:"denied_allocations"`
	ClientRequestErrors uint64 `json:"client_request_errors"`
	PoolSize            int    `json:"pool_size"`
	LastScanDepth       int    `json:"last_scan_depth"`
}

// Config contains the handler's collaborators
type Config struct {
	Allocator   Allocator
	Pool        PoolInfo
	Oracle      process.Oracle
	Logger      *logger.Logger
	ReadTimeout time.Duration // zero means wait for the client indefinitely
}

// Handler decodes requests, applies admission control and keeps counters
type Handler struct {
	allocator   Allocator
	pool        PoolInfo
	oracle      process.Oracle
	logger      *logger.Logger
	readTimeout time.Duration

	totalAllocations    atomic.Uint64
	deniedAllocations   atomic.Uint64
	clientRequestErrors atomic.Uint64
}

// New creates a request handler
func New(cfg Config) *Handler {
	return &Handler{
		allocator:   cfg.Allocator,
		pool:        cfg.Pool,
		oracle:      cfg.Oracle,
		logger:      cfg.Logger.WithComponent("handler"),
		readTimeout: cfg.ReadTimeout,
	}
}

// HandleConn serves one request and closes conn
func (h *Handler) HandleConn(conn net.Conn) {
	defer conn.Close()

	if err := h.serve(conn); err != nil {
		h.logger.Debug("request dropped", "reason", err.Error())
	}
}

// serve runs the protocol and reports why nothing was written, if so
func (h *Handler) serve(conn net.Conn) error {
	if h.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}

	buf := make([]byte, maxReadSize)
	n, err := conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		h.clientRequestErrors.Add(1)
		h.logger.Error("failed to read request", err)
		return fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}

	pid, err := DecodePID(buf[:n])
	switch {
	case errors.Is(err, errPIDOutOfRange):
		// Numeric but too large to be any process.
		h.deniedAllocations.Add(1)
		h.logger.Denied(0, err.Error())
		return fmt.Errorf("%w: %w", ErrDenied, err)
	case err != nil:
		h.clientRequestErrors.Add(1)
		h.logger.Error("could not parse pid", err)
		return err
	}

	reqLog := h.logger.WithPID(pid)
	reqLog.Info("request on behalf of pid")
	if d, ok := h.oracle.(Describer); ok {
		reqLog.Debug("requesting process", "cmdline", d.Cmdline(pid))
	}

	if !process.ShouldAdmit(h.oracle, pid) {
		h.deniedAllocations.Add(1)
		h.logger.Denied(pid, "pid not admissible")
		return ErrDenied
	}

	port, err := h.allocator.Allocate(pid)
	if err != nil {
		h.deniedAllocations.Add(1)
		h.logger.Denied(pid, err.Error())
		return fmt.Errorf("%w: %w", ErrDenied, err)
	}

	h.totalAllocations.Add(1)
	if _, err := fmt.Fprintf(conn, "%d\n", port); err != nil {
		reqLog.Error("failed to write response", err, "port", port)
		return err
	}
	h.logger.Allocation(pid, port, h.pool.LastScanDepth())
	return nil
}

// errPIDOutOfRange marks a well-formed number that no pid can have
var errPIDOutOfRange = errors.New("pid out of range")

// DecodePID parses a request payload. Surrounding whitespace is ignored, so
// clients that terminate the pid with a newline are accepted.
func DecodePID(payload []byte) (int64, error) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return 0, fmt.Errorf("%w: empty request", ErrMalformedRequest)
	}
	if len(s) > maxPIDLength {
		return 0, fmt.Errorf("%w: more than %d characters in pid request", ErrMalformedRequest, maxPIDLength)
	}

	pid, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("%w: %q", errPIDOutOfRange, s)
		}
		return 0, fmt.Errorf("%w: %q is not a pid", ErrMalformedRequest, s)
	}
	return pid, nil
}

// Snapshot returns the current counters. Safe to call at any time.
func (h *Handler) Snapshot() Stats {
	return Stats{
		TotalAllocations:    h.totalAllocations.Load(),
		DeniedAllocations:   h.deniedAllocations.Load(),
		ClientRequestErrors: h.clientRequestErrors.Load(),
		PoolSize:            h.pool.Size(),
		LastScanDepth:       h.pool.LastScanDepth(),
	}
}

// DumpStats writes the counters to the log
func (h *Handler) DumpStats() {
	s := h.Snapshot()
	h.logger.Stats(s.TotalAllocations, s.DeniedAllocations, s.ClientRequestErrors, s.PoolSize, s.LastScanDepth)
}

var _ PoolInfo = (*pool.Pool)(nil)
