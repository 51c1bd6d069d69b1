package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"torrer/bridgepool/model"
)

func bridgesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "bridges",
		Short:   "Manage the bridge store",
		GroupID: "bridges",
	}
	cmd.AddCommand(bridgesListCmd())
	cmd.AddCommand(bridgesAddCmd())
	cmd.AddCommand(bridgesRemoveCmd())
	cmd.AddCommand(bridgesCollectCmd())
	cmd.AddCommand(bridgesImportCmd())
	cmd.AddCommand(bridgesPriorityCmd())
	return cmd
}

func bridgesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored bridges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadApp()
			if err != nil {
				return err
			}
			bridges, err := s.ListBridges()
			if err != nil {
				return err
			}
			if len(bridges) == 0 {
				fmt.Println("No bridges configured.")
				return nil
			}
			for i, b := range bridges {
				fmt.Printf("%d. %s\n", i+1, b)
			}
			return nil
		},
	}
}

func bridgesAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "add <address:port> [fingerprint] [transport]",
		Short:   "Add a bridge",
		Example: "  torrer bridges add 192.0.2.10:443 0123456789ABCDEF0123456789ABCDEF01234567 obfs4",
		Args:    cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := model.ParseBridge(strings.Join(args, " "))
			if err != nil {
				return err
			}
			s, err := loadApp()
			if err != nil {
				return err
			}
			if err := s.AddBridge(b); err != nil {
				return err
			}
			fmt.Printf("Added %s\n", b)
			return nil
		},
	}
}

func bridgesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <address:port>",
		Short: "Remove a bridge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, portStr, err := net.SplitHostPort(args[0])
			if err != nil {
				return fmt.Errorf("invalid bridge address %q: %w", args[0], err)
			}
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return fmt.Errorf("invalid port %q", portStr)
			}
			s, err := loadApp()
			if err != nil {
				return err
			}
			if err := s.RemoveBridge(host, port); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", args[0])
			return nil
		},
	}
}

func bridgesCollectCmd() *cobra.Command {
	var noTest bool
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Fetch bridges from the configured sources and store the reachable ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadApp()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			m := s.BridgeManager()
			candidates := m.CollectBridges(ctx)
			fmt.Printf("Collected %d bridges.\n", len(candidates))

			var added int
			if noTest {
				added, err = m.CacheBridges(candidates)
			} else {
				added, err = m.TestAndCacheBridges(ctx, candidates)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Stored %d new bridges.\n", added)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noTest, "no-test", false, "store collected bridges without probing them")
	return cmd
}

func bridgesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <torrc>",
		Short: "Import Bridge lines from a torrc file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadApp()
			if err != nil {
				return err
			}
			added, err := s.ImportTorrc(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d new bridges from %s\n", added, args[0])
			return nil
		},
	}
}

func bridgesPriorityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "priority",
		Short: "Probe stored bridges and print them ranked by score",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadApp()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			bridges, err := s.ListBridges()
			if err != nil {
				return err
			}
			// 排名依赖测试历史，一次性进程需要先探测一遍
			if _, err := s.BridgeManager().TestAndCacheBridges(ctx, bridges); err != nil {
				return err
			}
			ranked := s.PrioritizedBridges()
			if len(ranked) == 0 {
				fmt.Println("No bridges configured.")
				return nil
			}
			for i, p := range ranked {
				fmt.Printf("%d. %s  score=%.2f\n", i+1, p.Key, p.Score)
			}
			return nil
		},
	}
}
