package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

type messageOut struct {
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send messages and read cached history",
	}
	cmd.AddCommand(chatSendCmd(), chatHistoryCmd(), chatOpenCmd(), chatCloseCmd())
	return cmd
}

func chatSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <peer-id> <message>",
		Short: "Send a chat message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := clientContext()
			defer cancel()

			peer := url.PathEscape(args[0])
			body := map[string]string{"body": args[1]}
			if err := newAPIClient(accountFlag).post(ctx, "/v1/chats/"+peer, body, nil); err != nil {
				return err
			}
			fmt.Printf("sent to %s\n", args[0])
			return nil
		},
	}
}

func chatHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <peer-id>",
		Short: "Show cached chat history with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := clientContext()
			defer cancel()

			peer := url.PathEscape(args[0])
			var out []messageOut
			if err := newAPIClient(accountFlag).get(ctx, "/v1/chats/"+peer, &out); err != nil {
				return err
			}
			if jsonFlag {
				return printJSON(out)
			}

			if len(out) == 0 {
				fmt.Println("no messages cached")
				return nil
			}
			for _, m := range out {
				at := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04")
				fmt.Printf("%s  %s: %s\n", at, m.Sender, m.Content)
			}
			return nil
		},
	}
}

func chatOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <peer-id>",
		Short: "Mark a conversation open (clears its unread counter)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := clientContext()
			defer cancel()

			peer := url.PathEscape(args[0])
			return newAPIClient(accountFlag).post(ctx, "/v1/chats/"+peer+"/open", nil, nil)
		},
	}
}

func chatCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <peer-id>",
		Short: "Mark a conversation closed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := clientContext()
			defer cancel()

			peer := url.PathEscape(args[0])
			return newAPIClient(accountFlag).post(ctx, "/v1/chats/"+peer+"/close", nil, nil)
		},
	}
}
