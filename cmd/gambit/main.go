// Command gambit is a terminal client for a gambit game server.
//
// It authenticates, negotiates a session key, and joins the game,
// then reads inputs from standard input and logs the authoritative state.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gambit",
		Short: "Terminal client for a gambit game server",
		Long: `gambit connects to a game server over QUIC.

Settings are read from GAMBIT_* environment variables
and may be overridden with flags on each command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		connectCmd(),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
