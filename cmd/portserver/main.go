// portserver hands out free ports to concurrently running test processes
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nebari-dev/portserver/pkg/api"
	"github.com/nebari-dev/portserver/pkg/config"
	"github.com/nebari-dev/portserver/pkg/logger"
	"github.com/nebari-dev/portserver/pkg/server"
)

var (
	// Version information (set during build)
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	rootCmd, cfg, err := config.NewFromFlags(Version, BuildTime)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := cfg.Load(cmd.Flags()); err != nil {
			return err
		}
		return run(cfg)
	}
	rootCmd.AddCommand(newRequestCmd(), newExecCmd(), newHealthCheckCmd(), newStatsCmd())

	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := logger.New(cfg.LoggerConfig())
	api.Version = Version

	log.StartupBanner(Version, map[string]interface{}{
		"portserver_address":     cfg.Address,
		"portserver_static_pool": cfg.StaticPool,
		"read_timeout":           cfg.ReadTimeout.String(),
		"admin_address":          cfg.AdminAddress,
		"log_level":              cfg.LogLevel,
		"log_format":             cfg.LogFormat,
	})

	ports, skipped, err := cfg.Ports()
	for _, e := range skipped {
		log.Warn("ignoring port range", "error", e.Error())
	}
	if err != nil {
		log.Error("cannot start without ports", err)
		return err
	}

	srv, err := server.New(server.Config{
		Address:       cfg.Address,
		Ports:         ports,
		ReadTimeout:   cfg.ReadTimeout,
		AdminAddress:  cfg.AdminAddress,
		StatsInterval: cfg.StatsInterval,
		Logger:        log,
	})
	if err != nil {
		log.Error("failed to create server", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.SetupSignalHandling(cancel, log)

	err = srv.Run(ctx)
	if err != nil {
		log.Error("server failed", err)
		log.ShutdownBanner("error")
		return err
	}
	log.ShutdownBanner("signal received")
	return nil
}
