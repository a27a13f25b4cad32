package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/matheus3301/parley/internal/api"
	"github.com/matheus3301/parley/internal/client"
	"github.com/spf13/cobra"
)

// Flag variables.
var (
	channelName   string
	channelServer string
	sendKind      string
	sendURL       string
	replyTo       string
	readSender    string
	readKeyword   string
	readKind      string
	readAfter     string
	readLimit     int
	readDeleted   bool
	reactRemove   bool
)

func printMessage(m *api.Message) {
	text := m.Body.Text
	if m.Deleted {
		text = "[deleted]"
	}
	if m.Body.Kind != "" && m.Body.Kind != "text" {
		text = fmt.Sprintf("[%s] %s", m.Body.Kind, strings.TrimSpace(text+" "+m.Body.URL))
	}
	edited := ""
	if m.EditedAtUnixMs != 0 {
		edited = " (edited)"
	}
	fmt.Printf("%s  %-12s %s%s\n", formatMs(m.CreatedAtUnixMs), m.SenderID, text, edited)
	if m.Reply != nil {
		if m.Reply.Available {
			fmt.Printf("    > %s: %s\n", m.Reply.SenderID, m.Reply.Text)
		} else {
			fmt.Printf("    > original message unavailable\n")
		}
	}
	if len(m.Reactions) > 0 {
		parts := make([]string, 0, len(m.Reactions))
		for e, n := range m.Reactions {
			parts = append(parts, fmt.Sprintf("%s %d", e, n))
		}
		fmt.Printf("    %s\n", strings.Join(parts, "  "))
	}
	fmt.Printf("    id=%s status=%s\n", m.ID, m.Status)
}

func messageResult(m *api.Message) error {
	return show(m, func() { printMessage(m) })
}

var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Manage channels and text membership.",
}

var channelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List channels.",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Chat.ListChannels(ctx)
			if err != nil {
				return err
			}
			return show(resp, func() {
				if len(resp.Channels) == 0 {
					fmt.Println("No channels.")
					return
				}
				for _, ch := range resp.Channels {
					fmt.Printf("%-20s %-6s %s\n", ch.ID, ch.Kind, ch.Name)
				}
			})
		})
	},
}

var channelCreateCmd = &cobra.Command{
	Use:   "create <text|voice> [id]",
	Short: "Create a channel.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(_ *cobra.Command, args []string) error {
		req := &api.CreateChannelRequest{Kind: args[0], Name: channelName, ServerID: channelServer}
		if len(args) == 2 {
			req.ID = args[1]
		}
		return run(func(ctx context.Context, c *client.Client) error {
			ch, err := c.Chat.CreateChannel(ctx, req)
			if err != nil {
				return err
			}
			return show(ch, func() { fmt.Printf("Created %s channel %s\n", ch.Kind, ch.ID) })
		})
	},
}

var channelJoinCmd = &cobra.Command{
	Use:   "join <user> <channel>",
	Short: "Join a text channel.",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			return c.Chat.JoinText(ctx, args[0], args[1])
		})
	},
}

var channelLeaveCmd = &cobra.Command{
	Use:   "leave <user> <channel>",
	Short: "Leave a text channel.",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			return c.Chat.LeaveText(ctx, args[0], args[1])
		})
	},
}

var channelMembersCmd = &cobra.Command{
	Use:   "members <channel>",
	Short: "List text channel members.",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Chat.TextMembers(ctx, args[0])
			if err != nil {
				return err
			}
			return show(resp, func() {
				for _, id := range resp.UserIDs {
					fmt.Println(id)
				}
			})
		})
	},
}

var channelClearCmd = &cobra.Command{
	Use:   "clear <channel>",
	Short: "Delete every message in a channel.",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			n, err := c.Chat.Clear(ctx, args[0])
			if err != nil {
				return err
			}
			return show(api.ClearResponse{Cleared: n}, func() { fmt.Printf("Cleared %d messages\n", n) })
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <user> <channel> <text...>",
	Short: "Send a message.",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(_ *cobra.Command, args []string) error {
		req := &api.SendRequest{
			SenderID:  args[0],
			ChannelID: args[1],
			Body:      api.Body{Kind: sendKind, Text: strings.Join(args[2:], " "), URL: sendURL},
			ReplyTo:   replyTo,
		}
		return run(func(ctx context.Context, c *client.Client) error {
			m, err := c.Chat.Send(ctx, req)
			if err != nil {
				return err
			}
			return messageResult(m)
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <channel>",
	Short: "Read channel history in order.",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		req := &api.ReadRequest{
			ChannelID:      args[0],
			Sender:         readSender,
			Keyword:        readKeyword,
			Kind:           readKind,
			AfterID:        readAfter,
			IncludeDeleted: readDeleted,
			Limit:          readLimit,
		}
		return run(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Chat.Read(ctx, req)
			if err != nil {
				return err
			}
			return show(resp, func() {
				if len(resp.Messages) == 0 {
					fmt.Println("No messages.")
					return
				}
				for i := range resp.Messages {
					printMessage(&resp.Messages[i])
				}
				if resp.HasMore {
					fmt.Println("(more)")
				}
			})
		})
	},
}

func messageCmd(use, short string, call func(ctx context.Context, c *client.Client, id string) (*api.Message, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return run(func(ctx context.Context, c *client.Client) error {
				m, err := call(ctx, c, args[0])
				if err != nil {
					return err
				}
				return messageResult(m)
			})
		},
	}
}

func idCmd(use, short string, call func(ctx context.Context, c *client.Client, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return run(func(ctx context.Context, c *client.Client) error {
				return call(ctx, c, args[0])
			})
		},
	}
}

var editCmd = &cobra.Command{
	Use:   "edit <user> <message> <text...>",
	Short: "Edit the text of your own message.",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(_ *cobra.Command, args []string) error {
		req := &api.EditRequest{EditorID: args[0], MessageID: args[1], Text: strings.Join(args[2:], " ")}
		return run(func(ctx context.Context, c *client.Client) error {
			m, err := c.Chat.Edit(ctx, req)
			if err != nil {
				return err
			}
			return messageResult(m)
		})
	},
}

var reactCmd = &cobra.Command{
	Use:   "react <message> <emoji>",
	Short: "Add or remove a reaction.",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		req := &api.ReactRequest{MessageID: args[0], Emoji: args[1], Remove: reactRemove}
		return run(func(ctx context.Context, c *client.Client) error {
			counts, err := c.Chat.React(ctx, req)
			if err != nil {
				return err
			}
			return show(api.ReactionsResponse{Reactions: counts}, func() {
				for e, n := range counts {
					fmt.Printf("%s %d\n", e, n)
				}
			})
		})
	},
}

var markReadCmd = &cobra.Command{
	Use:   "mark-read <user> <channel> <message>",
	Short: "Advance a user's read pointer.",
	Args:  cobra.ExactArgs(3),
	RunE: func(_ *cobra.Command, args []string) error {
		req := &api.MarkReadRequest{UserID: args[0], ChannelID: args[1], MessageID: args[2]}
		return run(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Chat.MarkRead(ctx, req)
			if err != nil {
				return err
			}
			return show(resp, func() {
				if resp.Advanced {
					fmt.Printf("Read pointer at %s\n", resp.Pointer.MessageID)
				} else {
					fmt.Printf("Read pointer unchanged at %s\n", resp.Pointer.MessageID)
				}
			})
		})
	},
}

var unreadCmd = &cobra.Command{
	Use:   "unread <user> <channel>",
	Short: "Count unread messages.",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			n, err := c.Chat.Unread(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return show(api.UnreadResponse{Count: n}, func() { fmt.Println(n) })
		})
	},
}

var receiptCmd = &cobra.Command{
	Use:   "receipt <message>",
	Short: "Show who has seen a message.",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			r, err := c.Chat.Receipt(ctx, args[0])
			if err != nil {
				return err
			}
			return show(r, func() {
				if r.Direct {
					fmt.Printf("Seen: %t\n", r.Seen)
					return
				}
				fmt.Printf("Seen by %d of %d\n", r.SeenBy, r.Audience)
			})
		})
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <channel> <question...>",
	Short: "Ask the companion bot a question.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		req := &api.AskRequest{ChannelID: args[0], Question: strings.Join(args[1:], " "), ReplyTo: replyTo}
		return run(func(ctx context.Context, c *client.Client) error {
			m, err := c.Chat.Ask(ctx, req)
			if err != nil {
				return err
			}
			return messageResult(m)
		})
	},
}

func init() {
	channelCreateCmd.Flags().StringVar(&channelName, "name", "", "display name")
	channelCreateCmd.Flags().StringVar(&channelServer, "server", "", "owning server id")
	channelCmd.AddCommand(channelListCmd, channelCreateCmd, channelJoinCmd, channelLeaveCmd, channelMembersCmd, channelClearCmd)

	sendCmd.Flags().StringVar(&sendKind, "kind", "text", "text, image, gift, poll or system")
	sendCmd.Flags().StringVar(&sendURL, "url", "", "attachment URL")
	sendCmd.Flags().StringVar(&replyTo, "reply-to", "", "message id to reply to")
	askCmd.Flags().StringVar(&replyTo, "reply-to", "", "message id to reply to")

	readCmd.Flags().StringVar(&readSender, "sender", "", "only messages from this user")
	readCmd.Flags().StringVar(&readKeyword, "keyword", "", "case-insensitive text match")
	readCmd.Flags().StringVar(&readKind, "kind", "", "only messages of this kind")
	readCmd.Flags().StringVar(&readAfter, "after", "", "only messages after this id")
	readCmd.Flags().IntVar(&readLimit, "limit", 50, "max messages")
	readCmd.Flags().BoolVar(&readDeleted, "deleted", false, "include deleted messages")

	reactCmd.Flags().BoolVar(&reactRemove, "remove", false, "remove the reaction")

	rootCmd.AddCommand(
		channelCmd,
		sendCmd,
		readCmd,
		editCmd,
		reactCmd,
		markReadCmd,
		unreadCmd,
		receiptCmd,
		askCmd,
		messageCmd("get <message>", "Show a message.",
			func(ctx context.Context, c *client.Client, id string) (*api.Message, error) {
				return c.Chat.Get(ctx, id)
			}),
		messageCmd("retry <message>", "Retry a failed send.",
			func(ctx context.Context, c *client.Client, id string) (*api.Message, error) {
				return c.Chat.Retry(ctx, id)
			}),
		idCmd("cancel <message>", "Cancel a pending send.",
			func(ctx context.Context, c *client.Client, id string) error {
				return c.Chat.Cancel(ctx, id)
			}),
		idCmd("discard <message>", "Discard a failed send.",
			func(ctx context.Context, c *client.Client, id string) error {
				return c.Chat.Discard(ctx, id)
			}),
		idCmd("delete <message>", "Delete a message.",
			func(ctx context.Context, c *client.Client, id string) error {
				return c.Chat.Delete(ctx, id)
			}),
	)
}
