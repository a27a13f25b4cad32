package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/matheus3301/parley/internal/api"
	"github.com/matheus3301/parley/internal/client"
	"github.com/spf13/cobra"
)

func printVoiceMembers(resp *api.VoiceMembersResponse) error {
	return show(resp, func() {
		if len(resp.Members) == 0 {
			fmt.Println("Nobody here.")
			return
		}
		for _, m := range resp.Members {
			var flags string
			if m.Muted {
				flags += " muted"
			}
			if m.Deafened {
				flags += " deafened"
			}
			if m.Video {
				flags += " video"
			}
			fmt.Printf("%-20s since %s%s\n", m.UserID, formatMs(m.JoinedAtUnixMs), flags)
		}
	})
}

var voiceCmd = &cobra.Command{
	Use:   "voice",
	Short: "Manage voice channel membership.",
}

var voiceJoinCmd = &cobra.Command{
	Use:   "join <user> <channel>",
	Short: "Join a voice channel, leaving any other.",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Voice.Join(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printVoiceMembers(resp)
		})
	},
}

var voiceLeaveCmd = &cobra.Command{
	Use:   "leave <user> <channel>",
	Short: "Leave a voice channel.",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			return c.Voice.Leave(ctx, args[0], args[1])
		})
	},
}

var voiceFlagCmd = &cobra.Command{
	Use:   "flag <user> <channel> <muted|deafened|video> <true|false>",
	Short: "Set a voice flag.",
	Args:  cobra.ExactArgs(4),
	RunE: func(_ *cobra.Command, args []string) error {
		value, err := strconv.ParseBool(args[3])
		if err != nil {
			return fmt.Errorf("invalid flag value %q", args[3])
		}
		req := &api.SetFlagRequest{UserID: args[0], ChannelID: args[1], Flag: args[2], Value: value}
		return run(func(ctx context.Context, c *client.Client) error {
			m, err := c.Voice.SetFlag(ctx, req)
			if err != nil {
				return err
			}
			return printVoiceMembers(&api.VoiceMembersResponse{Members: []api.VoiceMember{*m}})
		})
	},
}

var voiceMembersCmd = &cobra.Command{
	Use:   "members <channel>",
	Short: "List voice channel members.",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Voice.Members(ctx, args[0])
			if err != nil {
				return err
			}
			return printVoiceMembers(resp)
		})
	},
}

var voiceWhereCmd = &cobra.Command{
	Use:   "where <user>",
	Short: "Show which voice channel a user is in.",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Voice.Where(ctx, args[0])
			if err != nil {
				return err
			}
			return show(resp, func() {
				if !resp.InVoice {
					fmt.Println("Not in voice.")
					return
				}
				fmt.Println(resp.ChannelID)
			})
		})
	},
}

func init() {
	voiceCmd.AddCommand(voiceJoinCmd, voiceLeaveCmd, voiceFlagCmd, voiceMembersCmd, voiceWhereCmd)
	rootCmd.AddCommand(voiceCmd)
}
