// Package server runs the port server: the listener, the event loop that
// owns the pool and the optional admin HTTP API
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/nebari-dev/portserver/pkg/activity"
	"github.com/nebari-dev/portserver/pkg/api"
	"github.com/nebari-dev/portserver/pkg/config"
	"github.com/nebari-dev/portserver/pkg/handler"
	"github.com/nebari-dev/portserver/pkg/logger"
	"github.com/nebari-dev/portserver/pkg/pool"
	"github.com/nebari-dev/portserver/pkg/port"
	"github.com/nebari-dev/portserver/pkg/process"
	"github.com/nebari-dev/portserver/pkg/transport"
)

var (
	// ErrStopped is returned by requests that reach the event loop after it exited
	ErrStopped = errors.New("server stopped")

	// ErrAlreadyStarted is returned by Run on a server that has already run
	ErrAlreadyStarted = errors.New("server already started")
)

// adminShutdownTimeout bounds how long open admin requests may delay shutdown
const adminShutdownTimeout = 5 * time.Second

// Config contains all dependencies needed to create a server
type Config struct {
	Address     string
	Ports       []uint16
	ReadTimeout time.Duration

	// AdminAddress enables the admin HTTP API when non-empty
	AdminAddress  string
	StatsInterval time.Duration

	Transport transport.Transport
	Probe     port.Checker
	Oracle    process.Oracle
	Logger    *logger.Logger
}

type allocation struct {
	pid   int64
	reply chan allocResult
}

type allocResult struct {
	port uint16
	err  error
}

// Server accepts connections and serializes every pool operation through a
// single event loop goroutine
type Server struct {
	address       string
	adminAddress  string
	statsInterval time.Duration

	transport transport.Transport
	pool      *pool.Pool
	handler   *handler.Handler
	activity  *activity.Tracker
	logger    *logger.Logger

	allocations chan allocation
	control     chan func(*pool.Pool)
	loopDone    chan struct{}
	ready       chan struct{}
	started     atomic.Bool
	conns       sync.WaitGroup

	mu            sync.Mutex
	adminListener net.Listener
}

// New builds the pool from cfg.Ports. It fails with config.ErrNoUsablePorts
// if no port could be added.
func New(cfg Config) (*Server, error) {
	log := cfg.Logger.WithComponent("server")

	tr := cfg.Transport
	if tr == nil {
		tr = transport.New()
	}
	probe := cfg.Probe
	if probe == nil {
		probe = port.NewProbe(cfg.Logger)
	}
	oracle := cfg.Oracle
	if oracle == nil {
		oracle = process.NewSystemOracle()
	}

	p := pool.New(probe, oracle, cfg.Logger)
	for _, pt := range cfg.Ports {
		if err := p.AddPort(int(pt)); err != nil {
			log.Warn("ignoring port", "port", pt, "error", err.Error())
		}
	}
	if p.Size() == 0 {
		return nil, fmt.Errorf("%w: pool is empty", config.ErrNoUsablePorts)
	}

	s := &Server{
		address:       cfg.Address,
		adminAddress:  cfg.AdminAddress,
		statsInterval: cfg.StatsInterval,
		transport:     tr,
		pool:          p,
		activity:      activity.NewTracker(),
		logger:        log,
		allocations:   make(chan allocation),
		control:       make(chan func(*pool.Pool)),
		loopDone:      make(chan struct{}),
		ready:         make(chan struct{}),
	}
	s.handler = handler.New(handler.Config{
		Allocator:   loopAllocator{s},
		Pool:        p,
		Oracle:      oracle,
		Logger:      cfg.Logger,
		ReadTimeout: cfg.ReadTimeout,
	})
	return s, nil
}

// Run listens on the configured address and serves until ctx is cancelled.
// On the way out it stops accepting, waits for in-flight requests and logs
// the final stats. A Server runs at most once; later calls return
// ErrAlreadyStarted.
func (s *Server) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	l, err := s.transport.Listen(ctx, s.address)
	if err != nil {
		return err
	}

	var adminL net.Listener
	if s.adminAddress != "" {
		adminL, err = net.Listen("tcp", s.adminAddress)
		if err != nil {
			_ = l.Close()
			return fmt.Errorf("failed to listen on admin address %s: %w", s.adminAddress, err)
		}
		s.mu.Lock()
		s.adminListener = adminL
		s.mu.Unlock()
	}

	s.logger.Info("serving ports",
		"address", s.address,
		"transport", s.transport.Name(),
		"pool_size", s.pool.Size())

	loopCtx, stopLoop := context.WithCancel(context.Background())
	statsSignals := make(chan os.Signal, 1)
	notifyStatsSignal(statsSignals)
	go func() {
		defer close(s.loopDone)
		s.loop(loopCtx, statsSignals)
	}()
	close(s.ready)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptLoop(gctx, l) })
	g.Go(func() error {
		<-gctx.Done()
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("failed to close listener: %w", err)
		}
		return nil
	})
	if adminL != nil {
		s.serveAdmin(gctx, g, adminL)
	}

	err = g.Wait()

	// In-flight requests still need the loop to allocate.
	s.conns.Wait()
	stopNotify(statsSignals)
	stopLoop()
	<-s.loopDone

	s.handler.DumpStats()
	return err
}

// acceptLoop hands every connection to its own goroutine. Temporary accept
// failures such as running out of file descriptors are retried with backoff.
func (s *Server) acceptLoop(ctx context.Context, l net.Listener) error {
	retry := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(5*time.Millisecond),
		backoff.WithMaxInterval(time.Second),
		backoff.WithMaxElapsedTime(0),
	)

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("listener closed unexpectedly: %w", err)
			}
			wait := retry.NextBackOff()
			s.logger.Error("accept failed, retrying", err, "retry_in", wait)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		retry.Reset()

		s.activity.RecordActivity()
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handler.HandleConn(conn)
		}()
	}
}

// loop owns the pool. Allocations, control messages and stats signals are
// processed one at a time.
func (s *Server) loop(ctx context.Context, statsSignals <-chan os.Signal) {
	var tick <-chan time.Time
	if d := s.transport.TickInterval(); d > 0 {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case a := <-s.allocations:
			got, err := s.pool.Allocate(a.pid)
			a.reply <- allocResult{port: got, err: err}
		case fn := <-s.control:
			fn(s.pool)
		case <-statsSignals:
			s.handler.DumpStats()
		case <-tick:
		}
	}
}

func (s *Server) serveAdmin(ctx context.Context, g *errgroup.Group, l net.Listener) {
	mux := http.NewServeMux()
	api.NewStatsHandler(s, s.statsInterval, s.logger).RegisterRoutes(mux)

	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end when the server shuts down.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("admin API listening", "address", l.Addr().String())
	g.Go(func() error {
		if err := httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("admin server shutdown error", err)
		}
		return nil
	})
}

// submit runs fn on the event loop and waits for it to finish
func (s *Server) submit(ctx context.Context, fn func(*pool.Pool)) error {
	done := make(chan struct{})
	wrapped := func(p *pool.Pool) {
		defer close(done)
		fn(p)
	}

	select {
	case s.control <- wrapped:
	case <-s.loopDone:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Ready is closed once the server is listening
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// AdminAddr returns the address the admin API is bound to, or "" if it is
// disabled or not started yet
func (s *Server) AdminAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adminListener == nil {
		return ""
	}
	return s.adminListener.Addr().String()
}

// Stats returns the current counters
func (s *Server) Stats() handler.Stats {
	return s.handler.Snapshot()
}

// Leases returns the lease table, read on the event loop
func (s *Server) Leases(ctx context.Context) ([]pool.Lease, error) {
	var leases []pool.Lease
	err := s.submit(ctx, func(p *pool.Pool) {
		leases = p.Leases()
	})
	return leases, err
}

// DumpStats logs the counters from the event loop, as the stats signal does
func (s *Server) DumpStats(ctx context.Context) error {
	return s.submit(ctx, func(*pool.Pool) {
		s.handler.DumpStats()
	})
}

// LastActivity returns when the last connection was accepted
func (s *Server) LastActivity() *time.Time {
	return s.activity.GetLastActivity()
}

// IdleFor returns how long ago the last connection was accepted, or zero if
// none has been
func (s *Server) IdleFor() time.Duration {
	return s.activity.IdleFor()
}

// loopAllocator forwards allocations to the event loop
type loopAllocator struct {
	s *Server
}

func (a loopAllocator) Allocate(pid int64) (uint16, error) {
	reply := make(chan allocResult, 1)
	select {
	case a.s.allocations <- allocation{pid: pid, reply: reply}:
	case <-a.s.loopDone:
		return 0, ErrStopped
	}
	r := <-reply
	return r.port, r.err
}

var _ api.Source = (*Server)(nil)
