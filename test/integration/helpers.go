//go:build integration

// helpers.go - Common test helpers for integration tests

package integration

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nebari-dev/portserver/pkg/health"
	"github.com/nebari-dev/portserver/pkg/logger"
)

// getFreePort returns an available port on localhost
func getFreePort(t *testing.T) int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	return port
}

// buildBinary builds the portserver binary and returns its path
func buildBinary(t *testing.T) string {
	projectRoot, err := filepath.Abs(filepath.Join("..", ".."))
	if err != nil {
		t.Fatalf("Failed to get project root: %v", err)
	}

	binaryPath := filepath.Join(t.TempDir(), "portserver-test")

	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/portserver")
	cmd.Dir = projectRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		t.Fatalf("Failed to build binary: %v", err)
	}
	return binaryPath
}

// lockedBuffer collects process output while the test reads it
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// portserverProcess is a running portserver binary
type portserverProcess struct {
	cmd       *exec.Cmd
	logs      *lockedBuffer
	address   string
	adminAddr string
	done      chan error
}

// startPortserver runs the binary with a private address, the given static
// pool and an admin API, and waits until the admin API answers
func startPortserver(t *testing.T, binaryPath, pool string) *portserverProcess {
	t.Helper()

	p := &portserverProcess{
		logs:      &lockedBuffer{},
		address:   fmt.Sprintf("@portserver-it-%d-%d", os.Getpid(), time.Now().UnixNano()),
		adminAddr: fmt.Sprintf("127.0.0.1:%d", getFreePort(t)),
		done:      make(chan error, 1),
	}

	p.cmd = exec.Command(binaryPath,
		"--portserver-address", p.address,
		"--portserver-static-pool", pool,
		"--admin-address", p.adminAddr,
		"--log-format", "json",
		"--log-level", "debug",
	)
	p.cmd.Stdout = p.logs
	p.cmd.Stderr = p.logs

	if err := p.cmd.Start(); err != nil {
		t.Fatalf("Failed to start portserver: %v", err)
	}
	go func() { p.done <- p.cmd.Wait() }()
	t.Cleanup(func() {
		_ = p.cmd.Process.Kill()
		<-p.done
	})

	cfg := health.DefaultCheckConfig(p.adminAddr)
	cfg.Timeout = 30 * time.Second
	cfg.Interval = 100 * time.Millisecond
	if err := health.NewChecker(cfg, logger.Discard()).WaitUntilReady(context.Background()); err != nil {
		t.Fatalf("portserver did not become ready: %v\nlogs:\n%s", err, p.logs.String())
	}
	return p
}

// wait returns the exit error of the process, failing the test on timeout
func (p *portserverProcess) wait(t *testing.T, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-p.done:
		p.done <- err
		return err
	case <-time.After(timeout):
		t.Fatalf("portserver did not exit within %v\nlogs:\n%s", timeout, p.logs.String())
		return nil
	}
}

// waitForLog polls the process output for substr
func waitForLog(t *testing.T, logs *lockedBuffer, substr string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if bytes.Contains([]byte(logs.String()), []byte(substr)) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("log line %q not seen within %v\nlogs:\n%s", substr, timeout, logs.String())
}
