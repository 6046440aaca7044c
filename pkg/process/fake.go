package process

import "sync"

// Fake is a scriptable Oracle for tests. Pids are alive once Spawn'ed and
// stay alive until Kill'ed; Recycle simulates the OS handing a dead pid to
// an unrelated process.
type Fake struct {
	mu    sync.Mutex
	start map[int64]float64
	clock float64
}

// NewFake creates an empty fake process table
func NewFake() *Fake {
	return &Fake{start: make(map[int64]float64)}
}

// Spawn marks pid alive with a fresh start time and returns that time
func (f *Fake) Spawn(pid int64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock++
	f.start[pid] = f.clock
	return f.clock
}

// Kill marks pid as gone
func (f *Fake) Kill(pid int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.start, pid)
}

// Recycle keeps pid alive but gives it a new start time
func (f *Fake) Recycle(pid int64) float64 {
	return f.Spawn(pid)
}

// Exists implements Oracle
func (f *Fake) Exists(pid int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.start[pid]
	return ok
}

// StartTime implements Oracle
func (f *Fake) StartTime(pid int64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.start[pid]
}
