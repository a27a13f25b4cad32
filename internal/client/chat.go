package client

import (
	"context"

	"github.com/matheus3301/parley/internal/api"
	"google.golang.org/grpc"
)

type ChatClient struct{ cc grpc.ClientConnInterface }

func (c *ChatClient) message(ctx context.Context, method string, req any) (*api.Message, error) {
	resp, err := invoke[api.MessageResponse](ctx, c.cc, api.ChatServiceName, method, req)
	if err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

func (c *ChatClient) empty(ctx context.Context, method string, req any) error {
	_, err := invoke[api.Empty](ctx, c.cc, api.ChatServiceName, method, req)
	return err
}

func (c *ChatClient) CreateChannel(ctx context.Context, req *api.CreateChannelRequest) (*api.Channel, error) {
	return invoke[api.Channel](ctx, c.cc, api.ChatServiceName, "CreateChannel", req)
}

func (c *ChatClient) ListChannels(ctx context.Context) (*api.ListChannelsResponse, error) {
	return invoke[api.ListChannelsResponse](ctx, c.cc, api.ChatServiceName, "ListChannels", &api.Empty{})
}

func (c *ChatClient) JoinText(ctx context.Context, userID, channelID string) error {
	return c.empty(ctx, "JoinText", &api.MembershipRequest{UserID: userID, ChannelID: channelID})
}

func (c *ChatClient) LeaveText(ctx context.Context, userID, channelID string) error {
	return c.empty(ctx, "LeaveText", &api.MembershipRequest{UserID: userID, ChannelID: channelID})
}

func (c *ChatClient) TextMembers(ctx context.Context, channelID string) (*api.MembersResponse, error) {
	return invoke[api.MembersResponse](ctx, c.cc, api.ChatServiceName, "TextMembers", &api.ChannelRequest{ChannelID: channelID})
}

func (c *ChatClient) Send(ctx context.Context, req *api.SendRequest) (*api.Message, error) {
	return c.message(ctx, "Send", req)
}

func (c *ChatClient) Cancel(ctx context.Context, messageID string) error {
	return c.empty(ctx, "Cancel", &api.MessageRequest{MessageID: messageID})
}

func (c *ChatClient) Retry(ctx context.Context, messageID string) (*api.Message, error) {
	return c.message(ctx, "Retry", &api.MessageRequest{MessageID: messageID})
}

func (c *ChatClient) Discard(ctx context.Context, messageID string) error {
	return c.empty(ctx, "Discard", &api.MessageRequest{MessageID: messageID})
}

func (c *ChatClient) Receive(ctx context.Context, req *api.ReceiveRequest) (*api.ReceiveResponse, error) {
	return invoke[api.ReceiveResponse](ctx, c.cc, api.ChatServiceName, "Receive", req)
}

func (c *ChatClient) Get(ctx context.Context, messageID string) (*api.Message, error) {
	return c.message(ctx, "Get", &api.MessageRequest{MessageID: messageID})
}

func (c *ChatClient) Read(ctx context.Context, req *api.ReadRequest) (*api.ReadResponse, error) {
	return invoke[api.ReadResponse](ctx, c.cc, api.ChatServiceName, "Read", req)
}

func (c *ChatClient) Edit(ctx context.Context, req *api.EditRequest) (*api.Message, error) {
	return c.message(ctx, "Edit", req)
}

func (c *ChatClient) Delete(ctx context.Context, messageID string) error {
	return c.empty(ctx, "Delete", &api.MessageRequest{MessageID: messageID})
}

func (c *ChatClient) React(ctx context.Context, req *api.ReactRequest) (map[string]int, error) {
	resp, err := invoke[api.ReactionsResponse](ctx, c.cc, api.ChatServiceName, "React", req)
	if err != nil {
		return nil, err
	}
	return resp.Reactions, nil
}

func (c *ChatClient) Clear(ctx context.Context, channelID string) (int, error) {
	resp, err := invoke[api.ClearResponse](ctx, c.cc, api.ChatServiceName, "Clear", &api.ChannelRequest{ChannelID: channelID})
	if err != nil {
		return 0, err
	}
	return resp.Cleared, nil
}

func (c *ChatClient) MarkRead(ctx context.Context, req *api.MarkReadRequest) (*api.MarkReadResponse, error) {
	return invoke[api.MarkReadResponse](ctx, c.cc, api.ChatServiceName, "MarkRead", req)
}

func (c *ChatClient) Unread(ctx context.Context, userID, channelID string) (int, error) {
	resp, err := invoke[api.UnreadResponse](ctx, c.cc, api.ChatServiceName, "Unread", &api.MembershipRequest{UserID: userID, ChannelID: channelID})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *ChatClient) Receipt(ctx context.Context, messageID string) (*api.Receipt, error) {
	return invoke[api.Receipt](ctx, c.cc, api.ChatServiceName, "Receipt", &api.MessageRequest{MessageID: messageID})
}

func (c *ChatClient) Ask(ctx context.Context, req *api.AskRequest) (*api.Message, error) {
	return c.message(ctx, "Ask", req)
}
