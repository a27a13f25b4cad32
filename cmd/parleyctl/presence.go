package main

import (
	"context"
	"fmt"

	"github.com/matheus3301/parley/internal/api"
	"github.com/matheus3301/parley/internal/client"
	"github.com/spf13/cobra"
)

var displayName, avatarURL string

func printProfile(p *api.Profile) error {
	return show(p, func() {
		fmt.Printf("User:     %s (%s)\n", p.User.ID, p.User.DisplayName)
		fmt.Printf("Status:   %s", p.Presence.Status)
		if p.Presence.Stale {
			fmt.Print(" (stale)")
		}
		fmt.Println()
		if p.Presence.Activity != "" {
			fmt.Printf("Activity: %s\n", p.Presence.Activity)
		}
		fmt.Printf("Level:    %d (%d xp)\n", p.User.Level, p.User.XP)
		fmt.Printf("Seen:     %s\n", formatMs(p.Presence.LastSeenUnixMs))
	})
}

func profileCmd(use, short string, argsFn cobra.PositionalArgs, call func(ctx context.Context, c *client.Client, args []string) (*api.Profile, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  argsFn,
		RunE: func(_ *cobra.Command, args []string) error {
			return run(func(ctx context.Context, c *client.Client) error {
				p, err := call(ctx, c, args)
				if err != nil {
					return err
				}
				return printProfile(p)
			})
		},
	}
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users and presence.",
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users with their presence.",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Presence.List(ctx)
			if err != nil {
				return err
			}
			return show(resp, func() {
				for _, p := range resp.Users {
					removed := ""
					if p.User.Removed {
						removed = " [removed]"
					}
					fmt.Printf("%-20s %-12s L%-3d %s%s\n", p.User.ID, p.Presence.Status, p.User.Level, p.Presence.Activity, removed)
				}
			})
		})
	},
}

var userRemoveCmd = &cobra.Command{
	Use:   "remove <user>",
	Short: "Soft-remove a user.",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			return c.Presence.Remove(ctx, args[0])
		})
	},
}

func init() {
	register := profileCmd("register <user>", "Register a user.", cobra.ExactArgs(1),
		func(ctx context.Context, c *client.Client, args []string) (*api.Profile, error) {
			return c.Presence.Register(ctx, &api.RegisterRequest{UserID: args[0], DisplayName: displayName, AvatarURL: avatarURL})
		})
	register.Flags().StringVar(&displayName, "name", "", "display name")
	register.Flags().StringVar(&avatarURL, "avatar", "", "avatar URL")

	userCmd.AddCommand(
		userListCmd,
		register,
		userRemoveCmd,
		profileCmd("show <user>", "Show a user's presence.", cobra.ExactArgs(1),
			func(ctx context.Context, c *client.Client, args []string) (*api.Profile, error) {
				return c.Presence.Get(ctx, args[0])
			}),
		profileCmd("status <user> <online|idle|dnd|offline>", "Set a user's explicit status.", cobra.ExactArgs(2),
			func(ctx context.Context, c *client.Client, args []string) (*api.Profile, error) {
				return c.Presence.SetStatus(ctx, args[0], args[1])
			}),
		profileCmd("activity <user> [label]", "Set or clear a user's activity.", cobra.RangeArgs(1, 2),
			func(ctx context.Context, c *client.Client, args []string) (*api.Profile, error) {
				label := ""
				if len(args) == 2 {
					label = args[1]
				}
				return c.Presence.SetActivity(ctx, args[0], label)
			}),
		profileCmd("heartbeat <user>", "Refresh a user's liveness.", cobra.ExactArgs(1),
			func(ctx context.Context, c *client.Client, args []string) (*api.Profile, error) {
				return c.Presence.Heartbeat(ctx, args[0])
			}),
		profileCmd("disconnect <user>", "Signal that a user disconnected.", cobra.ExactArgs(1),
			func(ctx context.Context, c *client.Client, args []string) (*api.Profile, error) {
				return c.Presence.Disconnect(ctx, args[0])
			}),
	)
	rootCmd.AddCommand(userCmd)
}
