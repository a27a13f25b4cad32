package client

import (
	"context"
	"fmt"

	"github.com/matheus3301/parley/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps a gRPC connection to the daemon.
type Client struct {
	conn     *grpc.ClientConn
	Presence *PresenceClient
	Chat     *ChatClient
	Voice    *VoiceClient
	Admin    *AdminClient
}

// New dials the daemon's Unix domain socket and returns typed service clients.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	c := FromConn(conn)
	c.conn = conn
	return c, nil
}

// FromConn builds typed clients over an existing connection. The connection
// must request the JSON codec, as New does.
func FromConn(cc grpc.ClientConnInterface) *Client {
	return &Client{
		Presence: &PresenceClient{cc: cc},
		Chat:     &ChatClient{cc: cc},
		Voice:    &VoiceClient{cc: cc},
		Admin:    &AdminClient{cc: cc},
	}
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, service, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, api.Method(service, method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

type PresenceClient struct{ cc grpc.ClientConnInterface }

func (c *PresenceClient) call(ctx context.Context, method string, req any) (*api.Profile, error) {
	return invoke[api.Profile](ctx, c.cc, api.PresenceServiceName, method, req)
}

func (c *PresenceClient) Register(ctx context.Context, req *api.RegisterRequest) (*api.Profile, error) {
	return c.call(ctx, "Register", req)
}

func (c *PresenceClient) Remove(ctx context.Context, userID string) error {
	_, err := invoke[api.Empty](ctx, c.cc, api.PresenceServiceName, "Remove", &api.UserRequest{UserID: userID})
	return err
}

func (c *PresenceClient) SetStatus(ctx context.Context, userID, status string) (*api.Profile, error) {
	return c.call(ctx, "SetStatus", &api.SetStatusRequest{UserID: userID, Status: status})
}

func (c *PresenceClient) SetActivity(ctx context.Context, userID, activity string) (*api.Profile, error) {
	return c.call(ctx, "SetActivity", &api.SetActivityRequest{UserID: userID, Activity: activity})
}

func (c *PresenceClient) Heartbeat(ctx context.Context, userID string) (*api.Profile, error) {
	return c.call(ctx, "Heartbeat", &api.UserRequest{UserID: userID})
}

func (c *PresenceClient) Disconnect(ctx context.Context, userID string) (*api.Profile, error) {
	return c.call(ctx, "Disconnect", &api.UserRequest{UserID: userID})
}

func (c *PresenceClient) Get(ctx context.Context, userID string) (*api.Profile, error) {
	return c.call(ctx, "GetPresence", &api.UserRequest{UserID: userID})
}

func (c *PresenceClient) List(ctx context.Context) (*api.ListUsersResponse, error) {
	return invoke[api.ListUsersResponse](ctx, c.cc, api.PresenceServiceName, "ListUsers", &api.Empty{})
}

type VoiceClient struct{ cc grpc.ClientConnInterface }

func (c *VoiceClient) Join(ctx context.Context, userID, channelID string) (*api.VoiceMembersResponse, error) {
	return invoke[api.VoiceMembersResponse](ctx, c.cc, api.VoiceServiceName, "Join", &api.MembershipRequest{UserID: userID, ChannelID: channelID})
}

func (c *VoiceClient) Leave(ctx context.Context, userID, channelID string) error {
	_, err := invoke[api.Empty](ctx, c.cc, api.VoiceServiceName, "Leave", &api.MembershipRequest{UserID: userID, ChannelID: channelID})
	return err
}

func (c *VoiceClient) SetFlag(ctx context.Context, req *api.SetFlagRequest) (*api.VoiceMember, error) {
	return invoke[api.VoiceMember](ctx, c.cc, api.VoiceServiceName, "SetFlag", req)
}

func (c *VoiceClient) Members(ctx context.Context, channelID string) (*api.VoiceMembersResponse, error) {
	return invoke[api.VoiceMembersResponse](ctx, c.cc, api.VoiceServiceName, "Members", &api.ChannelRequest{ChannelID: channelID})
}

func (c *VoiceClient) Where(ctx context.Context, userID string) (*api.WhereResponse, error) {
	return invoke[api.WhereResponse](ctx, c.cc, api.VoiceServiceName, "Where", &api.UserRequest{UserID: userID})
}

type AdminClient struct{ cc grpc.ClientConnInterface }

func (c *AdminClient) Status(ctx context.Context) (*api.StatusResponse, error) {
	return invoke[api.StatusResponse](ctx, c.cc, api.AdminServiceName, "Status", &api.Empty{})
}

func (c *AdminClient) Prune(ctx context.Context) error {
	_, err := invoke[api.Empty](ctx, c.cc, api.AdminServiceName, "Prune", &api.Empty{})
	return err
}

// Watch streams events whose kind starts with prefix until ctx ends.
func (c *AdminClient) Watch(ctx context.Context, prefix string) (grpc.ServerStreamingClient[api.Event], error) {
	stream, err := c.cc.NewStream(ctx, &api.AdminServiceDesc.Streams[0], api.Method(api.AdminServiceName, "Watch"))
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[api.WatchRequest, api.Event]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(&api.WatchRequest{Prefix: prefix}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
