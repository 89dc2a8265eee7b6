package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func loginCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login <peer-id>",
		Short: "Store a session and connect to the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := clientContext()
			defer cancel()

			body := map[string]string{"peer_id": args[0], "token": token}
			if err := newAPIClient(accountFlag).post(ctx, "/v1/session", body, nil); err != nil {
				return err
			}
			fmt.Printf("signed in as %s, connecting\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "auth token issued by the platform")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Disconnect and clear the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := clientContext()
			defer cancel()

			if err := newAPIClient(accountFlag).delete(ctx, "/v1/session"); err != nil {
				return err
			}
			fmt.Println("signed out")
			return nil
		},
	}
}
