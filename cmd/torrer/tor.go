package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"torrer/internal/tor/circuit"
	"torrer/internal/tor/control"
	"torrer/internal/tor/country"
	"torrer/internal/tor/relay"
)

// withSession opens an authenticated control session for the duration of fn.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, session *control.Session) error) error {
	s, err := loadApp()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	session, err := s.OpenSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(ctx, session)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show whether Tor has established a circuit",
		GroupID: "tor",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, session *control.Session) error {
				st, err := session.Status(ctx)
				if err != nil {
					return err
				}
				fmt.Println(st)
				fmt.Printf("Circuits: %d\n", len(circuit.ParseCircuitStatus(st.CircuitStatus)))
				return nil
			})
		},
	}
}

func circuitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "circuits",
		Short:   "List the daemon's circuits",
		GroupID: "tor",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, session *control.Session) error {
				circuits, err := circuit.GetCircuits(ctx, session)
				if err != nil {
					return err
				}
				if len(circuits) == 0 {
					fmt.Println("No circuits.")
					return nil
				}
				for _, c := range circuits {
					fmt.Println(c)
				}
				return nil
			})
		},
	}
}

func newnymCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "newnym",
		Short:   "Request clean circuits",
		GroupID: "tor",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, session *control.Session) error {
				if err := circuit.NewCircuit(ctx, session); err != nil {
					return err
				}
				fmt.Println("New circuit requested.")
				return nil
			})
		},
	}
}

func exitCountryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "exit-country",
		Short:   "Show or restrict exit relay countries",
		GroupID: "tor",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show the configured exit countries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, session *control.Session) error {
				codes, err := country.GetExitCountry(ctx, session)
				if err != nil {
					return err
				}
				if len(codes) == 0 {
					fmt.Println("Exit country: any")
					return nil
				}
				fmt.Printf("Exit country: %s\n", strings.Join(codes, ","))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "set <codes>",
		Short:   "Restrict exits to comma-separated country codes, e.g. US,CA",
		Example: "  torrer exit-country set de,nl",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// 先校验，避免无效输入也去连接守护进程
			if _, err := country.ValidateCodes(args[0]); err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, session *control.Session) error {
				if err := country.SetExitCountry(ctx, session, args[0]); err != nil {
					return err
				}
				fmt.Println("Exit country set.")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the exit country restriction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, session *control.Session) error {
				if err := country.ClearExitCountry(ctx, session); err != nil {
					return err
				}
				fmt.Println("Exit country cleared.")
				return nil
			})
		},
	})
	return cmd
}

func relayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "relay",
		Short:   "Inspect relays",
		GroupID: "tor",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "exit",
		Short: "Show the exit relay of the first extended circuit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, session *control.Session) error {
				info, err := relay.GetExitRelay(ctx, session)
				if err != nil {
					return err
				}
				if info == nil {
					fmt.Println("No exit relay found.")
					return nil
				}
				printRelay(info)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "info <fingerprint>",
		Short: "Look up a relay by fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := relay.NormalizeFingerprint(args[0]); err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, session *control.Session) error {
				info, err := relay.GetRelayInfo(ctx, session, args[0])
				if err != nil {
					return err
				}
				printRelay(info)
				return nil
			})
		},
	})
	return cmd
}

func printRelay(info *relay.Info) {
	fmt.Println(info)
	fmt.Printf("  exit: %t, guard: %t\n", info.IsExit, info.IsGuard)
}
