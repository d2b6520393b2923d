package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tgerrity/ironloop/config"
	"github.com/tgerrity/ironloop/driver"
	"github.com/tgerrity/ironloop/logger"
	"github.com/tgerrity/ironloop/preflight"
	"github.com/tgerrity/ironloop/shutdown"
)

func newRunCommand() *cobra.Command {
	var (
		configPath    string
		maxIterations int
		once          bool
		debug         bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the control loop until the iteration limit or a shutdown request",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.SetDebug(debug || os.Getenv("IRONLOOP_DEBUG") != "")
			return runLoop(configPath, maxIterations, once)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the harness configuration file (default: ./ironloop.yaml, falling back to the XDG config directory)")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "override session.max_productive_iterations (0 keeps the config value)")
	cmd.Flags().BoolVar(&once, "once", false, "run a single productive iteration and exit")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	return cmd
}

func runLoop(configPath string, maxIterations int, once bool) error {
	resolvedPath, err := resolveConfigPath(configPath)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}

	cfg, err := config.Load(resolvedPath)
	if err != nil {
		return err
	}

	if maxIterations > 0 {
		cfg.Session.MaxProductiveIterations = maxIterations
	}

	if err := preflight.Validate(cfg.Agent.Command); err != nil {
		return err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	coordinator := shutdown.New()
	listener := shutdown.NewListener(coordinator)
	listener.Start()
	defer listener.Stop()

	d, err := driver.New(cfg, workDir, coordinator)
	if err != nil {
		return err
	}
	d.Version = version

	if once {
		cfg.Session.MaxProductiveIterations = int(d.ProductiveIteration()) + 1
	}

	return d.Run(context.Background())
}
