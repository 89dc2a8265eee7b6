package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

type friendOut struct {
	PeerID        string `json:"peer_id"`
	DisplayName   string `json:"display_name,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	LastMessage   string `json:"last_message,omitempty"`
	LastMessageAt int64  `json:"last_message_at,omitempty"`
	Unread        int    `json:"unread"`
}

type friendListOut struct {
	Friends []friendOut `json:"friends"`
	Stale   bool        `json:"stale"`
}

func friendsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "friends",
		Short: "Manage the cached friend list",
	}
	cmd.AddCommand(friendsListCmd(), friendsDeleteCmd())
	return cmd
}

func friendsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the cached friend list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := clientContext()
			defer cancel()

			var out friendListOut
			if err := newAPIClient(accountFlag).get(ctx, "/v1/friends", &out); err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(out)
			}

			if len(out.Friends) == 0 {
				fmt.Println("no friends cached")
				return nil
			}
			for _, f := range out.Friends {
				name := f.DisplayName
				if name == "" {
					name = f.PeerID
				}
				line := name
				if f.Unread > 0 {
					line = fmt.Sprintf("%s (%d unread)", line, f.Unread)
				}
				fmt.Println(line)
				if f.LastMessage != "" {
					at := time.UnixMilli(f.LastMessageAt).Format("2006-01-02 15:04")
					fmt.Printf("    %s  %s\n", at, f.LastMessage)
				}
			}
			if out.Stale {
				fmt.Println("\n(list is stale, refresh from the server)")
			}
			return nil
		},
	}
}

func friendsDeleteCmd() *cobra.Command {
	var noNotify bool

	cmd := &cobra.Command{
		Use:   "delete <peer-id>",
		Short: "Delete a friend and purge all local data about them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := clientContext()
			defer cancel()

			path := "/v1/friends/" + url.PathEscape(args[0])
			if noNotify {
				path += "?notify=false"
			}
			if err := newAPIClient(accountFlag).delete(ctx, path); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "purge locally without telling the peer")
	return cmd
}
