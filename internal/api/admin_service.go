package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/delivery"
	"github.com/matheus3301/parley/internal/directory"
	"github.com/matheus3301/parley/internal/membership"
	"github.com/matheus3301/parley/internal/msglog"
	"github.com/matheus3301/parley/internal/presence"
	"github.com/matheus3301/parley/internal/readstate"
	"github.com/matheus3301/parley/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const watchBuffer = 256

type StatusResponse struct {
	Profile     string `json:"profile"`
	State       string `json:"state,omitempty"`
	Error       string `json:"error,omitempty"`
	UptimeMs    int64  `json:"uptime_ms"`
	Users       int    `json:"users"`
	Channels    int    `json:"channels"`
	InFlight    int    `json:"in_flight"`
	Subscribers int    `json:"subscribers"`
}

// WatchRequest selects events by kind prefix ("message.", "presence.", ...).
// An empty prefix selects everything.
type WatchRequest struct {
	Prefix string `json:"prefix,omitempty"`
}

// Pruner runs one cleanup pass.
type Pruner interface {
	RunOnce(ctx context.Context) error
}

// Lifecycle reports the daemon's lifecycle state.
type Lifecycle interface {
	Current() status.State
	Reason() string
}

// AdminServer is the server API of the Admin service.
type AdminServer interface {
	Status(context.Context, *Empty) (*StatusResponse, error)
	Prune(context.Context, *Empty) (*Empty, error)
	Watch(*WatchRequest, grpc.ServerStreamingServer[Event]) error
}

// AdminService reports daemon health and relays bus events.
type AdminService struct {
	profile   string
	startedAt time.Time
	registry  *presence.Registry
	channels  *directory.Directory
	coord     *delivery.Coordinator
	bus       *bus.Bus
	pruner    Pruner
	lifecycle Lifecycle
	logger    *zap.Logger
}

// NewAdminService creates the service. pruner and lifecycle may be nil.
func NewAdminService(profile string, registry *presence.Registry, channels *directory.Directory, coord *delivery.Coordinator, b *bus.Bus, pruner Pruner, lifecycle Lifecycle, logger *zap.Logger) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{
		profile:   profile,
		startedAt: time.Now(),
		registry:  registry,
		channels:  channels,
		coord:     coord,
		bus:       b,
		pruner:    pruner,
		lifecycle: lifecycle,
		logger:    logger,
	}
}

func (s *AdminService) Status(_ context.Context, _ *Empty) (*StatusResponse, error) {
	resp := &StatusResponse{
		Profile:     s.profile,
		UptimeMs:    time.Since(s.startedAt).Milliseconds(),
		Users:       len(s.registry.Users()),
		Channels:    len(s.channels.List()),
		InFlight:    s.coord.InFlight(),
		Subscribers: s.bus.Subscribers(),
	}
	if s.lifecycle != nil {
		resp.State = string(s.lifecycle.Current())
		resp.Error = s.lifecycle.Reason()
	}
	return resp, nil
}

func (s *AdminService) Prune(ctx context.Context, _ *Empty) (*Empty, error) {
	if s.pruner == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "janitor not configured")
	}
	if err := s.pruner.RunOnce(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *AdminService) Watch(req *WatchRequest, stream grpc.ServerStreamingServer[Event]) error {
	ch, unsub := s.bus.Subscribe(req.Prefix, watchBuffer)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			payload, err := json.Marshal(payloadToWire(evt.Payload))
			if err != nil {
				s.logger.Warn("unencodable event payload", zap.String("kind", evt.Kind), zap.Error(err))
				payload = nil
			}
			if err := stream.Send(&Event{
				ID:               uuid.NewString(),
				Kind:             evt.Kind,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Payload:          payload,
			}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

type confirmationPayload struct {
	ProvisionalID string  `json:"provisional_id"`
	Message       Message `json:"message"`
}

type removalPayload struct {
	Message  Message `json:"message"`
	Physical bool    `json:"physical"`
}

type failurePayload struct {
	Message Message `json:"message"`
	Reason  string  `json:"reason"`
	Timeout bool    `json:"timeout"`
}

type changePayload struct {
	UserID string `json:"user_id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

type expiryPayload struct {
	UserID         string `json:"user_id"`
	Reason         string `json:"reason"`
	LastSeenUnixMs int64  `json:"last_seen_unix_ms,omitempty"`
}

type stateChangePayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

type voicePayload struct {
	UserID    string      `json:"user_id"`
	ChannelID string      `json:"channel_id"`
	Member    VoiceMember `json:"member"`
}

func payloadToWire(p any) any {
	switch p := p.(type) {
	case msglog.Message:
		return messageToWire(p)
	case msglog.Confirmation:
		return confirmationPayload{ProvisionalID: p.ProvisionalID, Message: messageToWire(p.Message)}
	case msglog.Removal:
		return removalPayload{Message: messageToWire(p.Message), Physical: p.Physical}
	case delivery.Delivered:
		return confirmationPayload{ProvisionalID: p.ProvisionalID, Message: messageToWire(p.Message)}
	case delivery.Failure:
		return failurePayload{Message: messageToWire(p.Message), Reason: p.Reason, Timeout: p.Timeout}
	case presence.Change:
		return changePayload{UserID: p.UserID, From: string(p.From), To: string(p.To), Reason: p.Reason}
	case presence.Expiry:
		return expiryPayload{UserID: p.UserID, Reason: p.Reason, LastSeenUnixMs: unixMs(p.LastSeen)}
	case presence.User:
		return userToWire(p)
	case directory.Channel:
		return channelToWire(p)
	case membership.VoiceChange:
		return voicePayload{UserID: p.UserID, ChannelID: p.ChannelID, Member: memberToWire(p.Member)}
	case readstate.Pointer:
		return pointerToWire(p)
	case status.Change:
		return stateChangePayload{From: string(p.From), To: string(p.To), Reason: p.Reason}
	default:
		return p
	}
}

// AdminServiceDesc describes the Admin service for grpc.Server.RegisterService.
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(AdminServiceName, "Status", AdminServer.Status),
		unary(AdminServiceName, "Prune", AdminServer.Prune),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Watch",
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(WatchRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(AdminServer).Watch(in, &grpc.GenericServerStream[WatchRequest, Event]{ServerStream: stream})
			},
			ServerStreams: true,
		},
	},
	Metadata: "parley/v1/admin",
}

// Register adds every parley service to srv.
func Register(srv *grpc.Server, presenceSvc *PresenceService, chatSvc *ChatService, voiceSvc *VoiceService, adminSvc *AdminService) {
	srv.RegisterService(&PresenceServiceDesc, presenceSvc)
	srv.RegisterService(&ChatServiceDesc, chatSvc)
	srv.RegisterService(&VoiceServiceDesc, voiceSvc)
	srv.RegisterService(&AdminServiceDesc, adminSvc)
}
