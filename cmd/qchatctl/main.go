package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qlabs-dev/qchat/internal/account"
)

var (
	accountFlag string
	jsonFlag    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "qchatctl",
		Short: "Control a running qchat daemon",
		Long: `qchatctl talks to the qchatd daemon over its Unix domain socket.

The daemon keeps the realtime connection and the local cache; qchatctl
is a thin client for inspecting and driving it: session login, friend
list, friend requests, chats, and the live event stream.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			name := account.Resolve(accountFlag)
			if err := account.ValidateName(name); err != nil {
				return err
			}
			accountFlag = name
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&accountFlag, "account", "", "account name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")

	rootCmd.AddCommand(
		statusCmd(),
		loginCmd(),
		logoutCmd(),
		friendsCmd(),
		requestsCmd(),
		chatCmd(),
		eventsCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
