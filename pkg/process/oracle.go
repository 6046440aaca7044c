// Package process inspects client processes so a lease can be tied to the
// exact process that asked for it, not just to its pid.
package process

import (
	"context"
	"math"

	"github.com/shirou/gopsutil/v4/process"
)

// initPID is the pid orphans are reparented to. A request that appears to
// come from it means the real requester exited before asking.
const initPID = 1

// Oracle reports process existence and a start-time fingerprint
type Oracle interface {
	// Exists reports whether a process with this pid is running
	Exists(pid int64) bool
	// StartTime returns the process creation time in seconds since the
	// epoch, or 0 if the pid does not exist or cannot be inspected
	StartTime(pid int64) float64
}

// ShouldAdmit decides whether pid may be given a port at all, independent of
// whether any port is available
func ShouldAdmit(o Oracle, pid int64) bool {
	if pid <= 0 {
		return false
	}
	if pid == initPID {
		return false
	}
	return o.Exists(pid)
}

// System is the Oracle backed by the host process table
type System struct{}

// NewSystemOracle creates an oracle for processes on this host.
//
// Start times are derived from the host boot time, which container guests
// compute from the wall clock and /proc/uptime. The boot time is read once
// and cached so a clock step cannot shift the start time of a live process.
func NewSystemOracle() *System {
	process.EnableBootTimeCache(true)
	return &System{}
}

// Exists implements Oracle
func (s *System) Exists(pid int64) bool {
	if pid <= 0 || pid > math.MaxInt32 {
		return false
	}
	ok, err := process.PidExistsWithContext(context.Background(), int32(pid))
	return err == nil && ok
}

// StartTime implements Oracle
func (s *System) StartTime(pid int64) float64 {
	if pid <= 0 || pid > math.MaxInt32 {
		return 0
	}
	ctx := context.Background()
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTimeWithContext(ctx)
	if err != nil || ms <= 0 {
		return 0
	}
	return float64(ms) / 1000
}

// Cmdline returns the command line of pid for logging, or "" if unknown
func (s *System) Cmdline(pid int64) string {
	if pid <= 0 || pid > math.MaxInt32 {
		return ""
	}
	ctx := context.Background()
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return ""
	}
	cmdline, err := p.CmdlineWithContext(ctx)
	if err != nil {
		return ""
	}
	return cmdline
}
