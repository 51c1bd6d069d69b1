// Package main is the CLI entry point for torrer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"torrer/internal/app"
	"torrer/internal/shared/config"
	"torrer/internal/shared/logger"
)

const defaultConfigPath = "/etc/torrer/torrer.ini"

var cfgFile string

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "torrer",
		Short:         "Tor control client with automatic bridge fallback",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", defaultConfigPath, "path to torrer.ini")

	root.AddGroup(
		&cobra.Group{ID: "daemon", Title: "Daemon:"},
		&cobra.Group{ID: "tor", Title: "Tor:"},
		&cobra.Group{ID: "bridges", Title: "Bridges:"},
	)

	root.AddCommand(runCmd())
	root.AddCommand(fallbackCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(circuitsCmd())
	root.AddCommand(newnymCmd())
	root.AddCommand(exitCountryCmd())
	root.AddCommand(relayCmd())
	root.AddCommand(bridgesCmd())
	return root
}

// loadApp reads the config, initializes logging and wires the application.
func loadApp() (*app.AppServer, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file '%s': %w", cfgFile, err)
	}
	if err := logger.Init(cfg.LogConf); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return app.New(cfg)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, unix.SIGTERM)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "run",
		Short:   "Monitor Tor and fall back to bridges when the primary path fails",
		GroupID: "daemon",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadApp()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return s.Run(ctx)
		},
	}
}

func fallbackCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "fallback",
		Short:   "Run one health check and bridge fallback cycle",
		GroupID: "daemon",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadApp()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			engine := s.Engine()
			if force {
				ok, err := engine.AttemptFallbackWithRetry(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no reachable bridge after %d attempts", engine.RetryCount())
				}
			} else {
				fmt.Printf("Primary path: %s\n", engine.CheckOnce(ctx))
			}

			snap := engine.Snapshot()
			fmt.Printf("State: %s\n", snap.State)
			fmt.Printf("Fallback active: %t\n", snap.FallbackActive)
			if snap.ActiveBridge != "" {
				fmt.Printf("Active bridge: %s\n", snap.ActiveBridge)
			}
			fmt.Printf("Retry count: %d\n", snap.RetryCount)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "skip the health check and test bridges right away")
	return cmd
}
