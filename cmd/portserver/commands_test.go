//go:build linux

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebari-dev/portserver/pkg/logger"
	"github.com/nebari-dev/portserver/pkg/port"
	"github.com/nebari-dev/portserver/pkg/server"
)

// startServer runs an in-process server on a private abstract address and
// returns the address and its pool
func startServer(t *testing.T, n int) (string, []uint16) {
	t.Helper()
	var ports []uint16
	for len(ports) < n {
		p, err := port.FreePort()
		require.NoError(t, err)
		ports = append(ports, p)
	}
	address := fmt.Sprintf("@portserver-cmd-test-%d-%d", os.Getpid(), time.Now().UnixNano())

	srv, err := server.New(server.Config{Address: address, Ports: ports, Logger: logger.Discard()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("server exited: %v", err)
	}
	return address, ports
}

func execute(t *testing.T, newCmd func() *cobra.Command, args ...string) (string, error) {
	t.Helper()
	cmd := newCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRequestCmd(t *testing.T) {
	address, ports := startServer(t, 1)

	out, err := execute(t, newRequestCmd, "--portserver-address", address, "--pid", fmt.Sprint(os.Getpid()))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d\n", ports[0]), out)
}

func TestRequestCmd_Refused(t *testing.T) {
	address, _ := startServer(t, 1)

	_, err := execute(t, newRequestCmd, "--portserver-address", address, "--pid", "1", "--timeout", "300ms")
	assert.Error(t, err)
}

func TestExecCmd_SubstitutesPorts(t *testing.T) {
	address, ports := startServer(t, 2)

	out, err := execute(t, newExecCmd, "--portserver-address", address, "--count", "2", "--",
		"sh", "-c", `echo "{port0} {port1} $PORTSERVER_PORT $PORTSERVER_PORTS"`)
	require.NoError(t, err)

	fields := strings.Fields(out)
	require.Len(t, fields, 4)
	assert.NotEqual(t, fields[0], fields[1], "each lease must be a distinct port")
	assert.ElementsMatch(t, []string{fmt.Sprint(ports[0]), fmt.Sprint(ports[1])}, fields[:2])
	assert.Equal(t, fields[0], fields[2])
	assert.Equal(t, fields[0]+","+fields[1], fields[3])
}

func TestExecCmd_PropagatesExitCode(t *testing.T) {
	address, _ := startServer(t, 1)

	_, err := execute(t, newExecCmd, "--portserver-address", address, "--", "sh", "-c", "exit 3")
	var ee *exitError
	require.True(t, errors.As(err, &ee), "got %v", err)
	assert.Equal(t, 3, ee.code)
}

func TestExecCmd_NoPorts(t *testing.T) {
	address, _ := startServer(t, 1)

	_, err := execute(t, newExecCmd, "--portserver-address", address, "--count", "2", "--timeout", "300ms", "--", "true")
	assert.Error(t, err)
}
