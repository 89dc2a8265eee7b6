package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type statusOut struct {
	Account         string `json:"account"`
	ConnState       string `json:"conn_state"`
	LocalPeer       string `json:"local_peer,omitempty"`
	PendingRequests int    `json:"pending_requests"`
	FriendListStale bool   `json:"friend_list_stale"`
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and connection status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := clientContext()
			defer cancel()

			var out statusOut
			if err := newAPIClient(accountFlag).get(ctx, "/v1/status", &out); err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(out)
			}

			fmt.Printf("Account:          %s\n", out.Account)
			fmt.Printf("Connection:       %s\n", out.ConnState)
			if out.LocalPeer != "" {
				fmt.Printf("Signed in as:     %s\n", out.LocalPeer)
			} else {
				fmt.Printf("Signed in as:     (not signed in)\n")
			}
			fmt.Printf("Pending requests: %d\n", out.PendingRequests)
			if out.FriendListStale {
				fmt.Printf("Friend list:      stale\n")
			} else {
				fmt.Printf("Friend list:      fresh\n")
			}
			return nil
		},
	}
}
