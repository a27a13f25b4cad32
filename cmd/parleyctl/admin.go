package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/parley/internal/api"
	"github.com/matheus3301/parley/internal/client"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status.",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Admin.Status(ctx)
			if err != nil {
				return err
			}
			return show(resp, func() {
				fmt.Printf("Profile:     %s\n", resp.Profile)
				fmt.Printf("State:       %s\n", resp.State)
				if resp.Error != "" {
					fmt.Printf("Error:       %s\n", resp.Error)
				}
				fmt.Printf("Uptime:      %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
				fmt.Printf("Users:       %d\n", resp.Users)
				fmt.Printf("Channels:    %d\n", resp.Channels)
				fmt.Printf("In flight:   %d\n", resp.InFlight)
				fmt.Printf("Subscribers: %d\n", resp.Subscribers)
			})
		})
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Run the janitor now.",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			return c.Admin.Prune(ctx)
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [prefix]",
	Short: "Stream events until interrupted.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		var prefix string
		if len(args) == 1 {
			prefix = args[0]
		}
		c, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stream, err := c.Admin.Watch(ctx, prefix)
		if err != nil {
			return err
		}
		for {
			evt, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
					return nil
				}
				return err
			}
			if err := printEvent(evt); err != nil {
				return err
			}
		}
	},
}

func printEvent(evt *api.Event) error {
	if jsonFlag {
		return outputJSON(evt)
	}
	fmt.Printf("%s %-32s %s\n", time.UnixMilli(evt.OccurredAtUnixMs).Format(time.TimeOnly), evt.Kind, evt.Payload)
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd, pruneCmd, watchCmd)
}
