// Package cmd implements the command-line surface of the failure detector
// (spec §6), built on cobra/pflag.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	phifd "github.com/mcastellin/golang-mastery/phifd/pkg"
)

var (
	flagAddr       string
	flagIntros     []string
	flagPingSecs   int
	flagJitterSecs int
)

var rootCmd = &cobra.Command{
	Use:   "phifd",
	Short: "A phi-accrual gossip failure detector for a peer-to-peer cluster",
	Long: `phifd runs a single cluster node. It gossips membership and heartbeat
information with a random subset of peers over UDP, and maintains a
continuous suspicion level (phi) for every peer it has learned about.`,
	RunE: runServe,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&flagAddr, "addr", "a", "0.0.0.0:12345", "address to listen on")
	flags.StringArrayVarP(&flagIntros, "intro", "i", nil, "address of an introducer node (repeatable)")
	flags.IntVarP(&flagPingSecs, "ping_interval", "t", 1, "how often, in integral seconds, to ping peers")
	flags.IntVarP(&flagJitterSecs, "ticker_delay_secs", "d", 0, "upper limit of a random delay to apply to periodic ping-outs")
}

// Execute runs the root command. It is the only entry point main calls.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := zap.Must(zap.NewProduction())
	defer logger.Sync()

	if len(flagIntros) == 0 {
		logger.Info("no introducer specified, starting own cluster")
	} else {
		logger.Info("introducers specified, resolving each", zap.Int("count", len(flagIntros)))
	}

	var introMembers []phifd.Member
	var resolveErrs error
	for _, addr := range flagIntros {
		sock, err := phifd.ResolveFirstIPv4(addr)
		if err != nil {
			resolveErrs = multierr.Append(resolveErrs, fmt.Errorf("resolving introducer %q: %w", addr, err))
			continue
		}
		if sock == nil {
			resolveErrs = multierr.Append(resolveErrs, fmt.Errorf("introducer %q resolved no IPv4 address", addr))
			continue
		}
		m, err := phifd.MemberFromUDPAddr(sock)
		if err != nil {
			resolveErrs = multierr.Append(resolveErrs, err)
			continue
		}
		introMembers = append(introMembers, m)
	}

	if len(flagIntros) > 0 && len(introMembers) == 0 {
		logger.Fatal("cannot resolve even one introducer, quitting", zap.Error(resolveErrs))
	}
	if resolveErrs != nil {
		logger.Warn("some introducers failed to resolve", zap.Error(resolveErrs))
	}

	bindAddr, err := phifd.ResolveFirstIPv4(flagAddr)
	if err != nil {
		return fmt.Errorf("resolving listen address %q: %w", flagAddr, err)
	}
	if bindAddr == nil {
		return fmt.Errorf("listen address %q resolved no IPv4 address", flagAddr)
	}

	config := phifd.NewConfig().
		WithAddr(bindAddr).
		WithPingInterval(time.Duration(flagPingSecs) * time.Second).
		WithTickerDelay(time.Duration(flagJitterSecs) * time.Second)

	var state *phifd.FDState
	if len(introMembers) > 0 {
		state, err = phifd.NewFDStateWithMembers(introMembers, config, logger)
	} else {
		state, err = phifd.NewFDState(config, logger)
	}
	if err != nil {
		return fmt.Errorf("initializing failure detector state: %w", err)
	}

	conn, err := phifd.Listen(bindAddr, logger)
	if err != nil {
		return fmt.Errorf("binding %s: %w", bindAddr, err)
	}
	defer conn.Close()

	logger.Info("starting failure detector", zap.Stringer("addr", conn.LocalAddr()))

	loop := phifd.NewEventLoop(state, conn, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return loop.Run(ctx)
}
