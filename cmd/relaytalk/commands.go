package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZentaChain/relaytalk/pkg/api"
)

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Register a username with the relay and save the identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return a.console().register(cmd.Context(), args[0])
		})
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users registered with the relay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return a.console().users(cmd.Context())
		})
	},
}

var keyCmd = &cobra.Command{
	Use:   "key <username|id>",
	Short: "Fetch a peer's public key and send it a fresh symmetric key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(a *app) error {
			return a.console().requestKey(cmd.Context(), args[0])
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <username|id> <text...>",
	Short: "Send an encrypted text message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(a *app) error {
			return a.console().send(cmd.Context(), args[0], strings.Join(args[1:], " "))
		})
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull and decrypt waiting messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(a *app) error {
			return a.console().pull(cmd.Context())
		})
	},
}

var historyLimit int

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show the local identity and optionally export its keys as PEM",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		publicPath, _ := cmd.Flags().GetString("export-public")
		privatePath, _ := cmd.Flags().GetString("export-private")
		return withApp(cmd.Context(), func(a *app) error {
			return a.console().identity(publicPath, privatePath)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <username|id>",
	Short: "Show stored messages exchanged with a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return a.console().history(args[0], historyLimit)
		})
	},
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List stored conversations, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return a.console().conversations()
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <text...>",
	Short: "Search stored message text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return a.console().search(strings.Join(args, " "), historyLimit)
		})
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive numbered menu",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return a.console().run(cmd.Context())
		})
	},
}

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Serve the session over a local HTTP and websocket API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			bc := a.cfg.Bridge
			if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
				bc.Listen = listen
			}

			config := api.DefaultConfig()
			config.Listen = bc.Listen
			config.EnableCORS = bc.EnableCORS
			config.RateLimit = bc.RateLimit
			config.PollInterval = bc.PollInterval

			server := api.NewServer(a.session, a.db, config, a.logger)
			defer server.Close()
			return server.Start(cmd.Context())
		})
	},
}

func init() {
	identityCmd.Flags().String("export-public", "", "write the public key as PEM to this path")
	identityCmd.Flags().String("export-private", "", "write the private key as PEM to this path (mode 0600)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "number of most recent messages")
	searchCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "maximum number of matches")
	bridgeCmd.Flags().String("listen", "", "listen address (overrides bridge.listen)")
}
