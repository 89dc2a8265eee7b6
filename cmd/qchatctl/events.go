package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func eventsCmd() *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the daemon's event stream",
		Long: `Stream daemon events as newline-delimited JSON until interrupted.

Use --prefix to filter by namespace, e.g. "notify." for user-facing
notices or "conn." for connection lifecycle events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			path := "/v1/events"
			if prefix != "" {
				path += "?prefix=" + prefix
			}
			body, err := newAPIClient(accountFlag).stream(ctx, path)
			if err != nil {
				return err
			}
			defer body.Close()

			scanner := bufio.NewScanner(body)
			for scanner.Scan() {
				fmt.Println(scanner.Text())
			}
			if ctx.Err() != nil {
				return nil
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "event namespace filter")
	return cmd
}
