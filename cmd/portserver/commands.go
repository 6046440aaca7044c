package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/nebari-dev/portserver/pkg/client"
	"github.com/nebari-dev/portserver/pkg/command"
	"github.com/nebari-dev/portserver/pkg/health"
	"github.com/nebari-dev/portserver/pkg/logger"
)

// newRequestCmd asks a running server for a port and prints it, so shell
// scripts can use the broker without a client library
func newRequestCmd() *cobra.Command {
	var (
		address string
		pid     int64
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:          "request",
		Short:        "Request a port from a running portserver and print it",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pid == 0 {
				// The shell that ran us is the process that will use the port.
				pid = int64(os.Getppid())
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			port, err := client.RequestWithRetry(ctx, address, pid, nil)
			if err != nil {
				return fmt.Errorf("no port for pid %d: %w", pid, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), port)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "portserver-address", client.Address(),
		"Address of the running portserver (env "+client.EnvAddress+")")
	cmd.Flags().Int64Var(&pid, "pid", 0,
		"Pid that will own the port (default: the parent process)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second,
		"Give up after this long")
	return cmd
}

// newHealthCheckCmd exits non-zero unless the admin API answers
func newHealthCheckCmd() *cobra.Command {
	var (
		adminAddress string
		wait         time.Duration
	)

	cmd := &cobra.Command{
		Use:          "healthcheck",
		Short:        "Check that a portserver admin API is up",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New(logger.DefaultConfig())
			cfg := health.DefaultCheckConfig(adminAddress)
			if wait > 0 {
				cfg.Timeout = wait
			}
			checker := health.NewChecker(cfg, log)

			if wait <= 0 {
				return checker.CheckOnce(cmd.Context())
			}
			return checker.WaitUntilReady(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&adminAddress, "admin-address", "127.0.0.1:9100",
		"host:port of the admin API")
	cmd.Flags().DurationVar(&wait, "wait", 0,
		"Keep polling for up to this long instead of checking once")
	return cmd
}

// newStatsCmd prints the counters of a running server as JSON
func newStatsCmd() *cobra.Command {
	var adminAddress string

	cmd := &cobra.Command{
		Use:          "stats",
		Short:        "Print the counters of a running portserver",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			checker := health.NewChecker(health.DefaultCheckConfig(adminAddress), logger.Discard())
			stats, err := checker.FetchStats(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}

	cmd.Flags().StringVar(&adminAddress, "admin-address", "127.0.0.1:9100",
		"host:port of the admin API")
	return cmd
}

// exitError carries a child's exit status out of RunE
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("command exited with status %d", e.code) }

// newExecCmd leases ports for this process and runs a command with them.
// The leases last exactly as long as the command, since this process waits
// for it.
func newExecCmd() *cobra.Command {
	var (
		address string
		count   int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "exec [flags] -- command [args...]",
		Short: "Run a command with ports leased from a running portserver",
		Long: `Leases ports on behalf of this process and runs command with them.
{port} in any argument is replaced by the first port, {port0}, {port1}, ...
by the individual ports. PORTSERVER_PORT and PORTSERVER_PORTS are set in the
command's environment.`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			log := logger.New(logger.DefaultConfig())

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			c := client.New(address)
			ports := make([]uint16, 0, count)
			for len(ports) < count {
				p, err := c.RequestWithRetry(ctx, int64(os.Getpid()), nil)
				if err != nil {
					cancel()
					return fmt.Errorf("failed to lease port %d of %d: %w", len(ports)+1, count, err)
				}
				ports = append(ports, p)
			}
			cancel()

			argv, env, err := command.NewBuilder(log).Build(args, ports)
			if err != nil {
				return err
			}

			child := exec.CommandContext(cmd.Context(), argv[0], argv[1:]...)
			child.Env = env
			child.Stdin = os.Stdin
			child.Stdout = cmd.OutOrStdout()
			child.Stderr = cmd.ErrOrStderr()

			err = child.Run()
			var ee *exec.ExitError
			if errors.As(err, &ee) {
				// The child already reported its failure.
				cmd.SilenceErrors = true
				return &exitError{code: ee.ExitCode()}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&address, "portserver-address", client.Address(),
		"Address of the running portserver (env "+client.EnvAddress+")")
	cmd.Flags().IntVar(&count, "count", 1,
		"Number of ports to lease")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second,
		"Give up leasing after this long")
	return cmd
}
