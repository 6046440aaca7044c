// Package pool owns the managed ports and decides which one a client gets.
//
// Leases sit in a ring. Every allocation walks the ring from the cursor,
// rotating each examined lease to the back, so successive scans start at
// different ports and the probe cost is spread over the whole pool. A lease
// is reclaimed only when its holder is gone: either never leased, or the
// holder pid now reports a different start time (pid reuse).
//
// A Pool is not safe for concurrent use. The server confines it to a single
// goroutine; only LastScanDepth and Size may be read from elsewhere.
package pool

import (
	"container/ring"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nebari-dev/portserver/pkg/logger"
	"github.com/nebari-dev/portserver/pkg/port"
	"github.com/nebari-dev/portserver/pkg/process"
)

var (
	// ErrExhausted is returned by Allocate when one full scan found no port
	// that is both reclaimable and free
	ErrExhausted = errors.New("port pool exhausted")

	// ErrInvalidPort is returned by AddPort for ports outside 1-65535
	ErrInvalidPort = errors.New("invalid port")
)

// Lease ties a port to the process that holds it. A zero Fingerprint means
// the port is unleased.
type Lease struct {
	Port        uint16  `json:"port"`
	HolderPID   uint32  `json:"holder_pid"`
	Fingerprint float64 `json:"fingerprint"`
}

// Leased reports whether the lease was ever assigned
func (l Lease) Leased() bool {
	return l.Fingerprint != 0
}

// Pool is the ring of leases plus the bookkeeping of the last scan
type Pool struct {
	cursor        *ring.Ring // front of the ring; Value is *Lease
	size          int
	lastScanDepth atomic.Int64

	probe  port.Checker
	oracle process.Oracle
	logger *logger.Logger
}

// New creates an empty pool. Ports are added with AddPort during startup.
func New(probe port.Checker, oracle process.Oracle, log *logger.Logger) *Pool {
	return &Pool{
		probe:  probe,
		oracle: oracle,
		logger: log.WithComponent("pool"),
	}
}

// AddPort appends an unleased port at the back of the ring
func (p *Pool) AddPort(portNum int) error {
	if portNum < port.MinPort || portNum > port.MaxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, portNum)
	}

	r := ring.New(1)
	r.Value = &Lease{Port: uint16(portNum)}
	if p.cursor == nil {
		p.cursor = r
	} else {
		// Linking after the last element puts r just before the front.
		p.cursor.Prev().Link(r)
	}
	p.size++
	return nil
}

// AddRange appends every port from start to end inclusive. An empty range
// (start > end) adds nothing.
func (p *Pool) AddRange(start, end int) error {
	if start < port.MinPort || end > port.MaxPort {
		return fmt.Errorf("%w: range %d-%d", ErrInvalidPort, start, end)
	}
	for n := start; n <= end; n++ {
		if err := p.AddPort(n); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the number of managed ports
func (p *Pool) Size() int {
	return p.size
}

// LastScanDepth returns how many ports the most recent Allocate examined
func (p *Pool) LastScanDepth() int {
	return int(p.lastScanDepth.Load())
}

// Allocate leases a port to pid. It scans at most one full turn of the ring
// and returns ErrExhausted if nothing could be reclaimed. Calling Allocate on
// an empty pool is a programming error and panics.
func (p *Pool) Allocate(pid int64) (uint16, error) {
	if p.size == 0 {
		panic("pool: Allocate called on an empty pool")
	}

	for i := 1; i <= p.size; i++ {
		lease := p.cursor.Value.(*Lease)
		p.cursor = p.cursor.Next()

		if !p.isStale(lease) {
			continue
		}

		if !p.probe.IsPortFree(lease.Port) {
			p.logger.Info("port unexpectedly in use",
				"port", lease.Port,
				"last_owner_pid", lease.HolderPID)
			continue
		}

		lease.HolderPID = uint32(pid)
		lease.Fingerprint = p.oracle.StartTime(pid)
		p.lastScanDepth.Store(int64(i))
		return lease.Port, nil
	}

	p.lastScanDepth.Store(int64(p.size))
	return 0, ErrExhausted
}

// Leases returns a copy of every lease in ring order, starting at the front
func (p *Pool) Leases() []Lease {
	out := make([]Lease, 0, p.size)
	if p.cursor == nil {
		return out
	}
	p.cursor.Do(func(v any) {
		out = append(out, *v.(*Lease))
	})
	return out
}

// isStale reports whether the lease can be handed out again
func (p *Pool) isStale(l *Lease) bool {
	if l.Fingerprint == 0 {
		return true
	}
	return p.oracle.StartTime(int64(l.HolderPID)) != l.Fingerprint
}
