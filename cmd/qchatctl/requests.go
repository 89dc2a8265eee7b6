package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

type requestOut struct {
	PeerID      string `json:"peer_id"`
	DisplayName string `json:"display_name,omitempty"`
	Note        string `json:"note,omitempty"`
	ReceivedAt  int64  `json:"received_at"`
	Status      string `json:"status"`
}

func requestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Manage friend requests",
	}
	cmd.AddCommand(requestsListCmd(), requestsSendCmd(), requestsAcceptCmd(), requestsRejectCmd())
	return cmd
}

func requestsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show stored friend requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := clientContext()
			defer cancel()

			var out []requestOut
			if err := newAPIClient(accountFlag).get(ctx, "/v1/requests", &out); err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(out)
			}

			if len(out) == 0 {
				fmt.Println("no friend requests")
				return nil
			}
			for _, q := range out {
				name := q.DisplayName
				if name == "" {
					name = q.PeerID
				}
				at := time.UnixMilli(q.ReceivedAt).Format("2006-01-02 15:04")
				fmt.Printf("%s  %s  [%s]\n", at, name, q.Status)
				if q.Note != "" {
					fmt.Printf("    %s\n", q.Note)
				}
			}
			return nil
		},
	}
}

func requestsSendCmd() *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "send <peer-id>",
		Short: "Send a friend request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := clientContext()
			defer cancel()

			body := map[string]string{"peer_id": args[0], "note": note}
			if err := newAPIClient(accountFlag).post(ctx, "/v1/requests", body, nil); err != nil {
				return err
			}
			fmt.Printf("request sent to %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "message shown with the request")
	return cmd
}

func requestsAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <peer-id>",
		Short: "Accept a pending friend request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := clientContext()
			defer cancel()

			peer := url.PathEscape(args[0])
			if err := newAPIClient(accountFlag).post(ctx, "/v1/requests/"+peer+"/accept", nil, nil); err != nil {
				return err
			}
			fmt.Printf("accepted %s\n", args[0])
			return nil
		},
	}
}

func requestsRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <peer-id>",
		Short: "Reject a pending friend request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := clientContext()
			defer cancel()

			peer := url.PathEscape(args[0])
			if err := newAPIClient(accountFlag).post(ctx, "/v1/requests/"+peer+"/reject", nil, nil); err != nil {
				return err
			}
			fmt.Printf("rejected %s\n", args[0])
			return nil
		},
	}
}
