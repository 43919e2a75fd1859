// Command relaytalk is an end-to-end encrypted client for the relay server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	serverFlag  string
	dataDirFlag string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "relaytalk",
	Short: "End-to-end encrypted messaging through a relay server",
	Long: `relaytalk registers with a relay server, exchanges keys with peers and
sends and pulls encrypted text messages. The relay only ever sees ciphertext.

Run without a subcommand for the interactive menu.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return shellCmd.RunE(cmd, args)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file (default: ./relaytalk.yaml, $RELAYTALK_CONFIG)")
	flags.StringVarP(&serverFlag, "server", "s", "", "relay address, host:port or multiaddr (overrides config)")
	flags.StringVar(&dataDirFlag, "data-dir", "", "directory for the identity file and message database")
	flags.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(registerCmd, identityCmd, usersCmd, keyCmd, sendCmd, pullCmd, historyCmd, conversationsCmd, searchCmd, shellCmd, bridgeCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
