package api

import (
	"context"
	"strings"

	"github.com/matheus3301/parley/internal/presence"
	"google.golang.org/grpc"
)

type RegisterRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type UserRequest struct {
	UserID string `json:"user_id"`
}

type SetStatusRequest struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type SetActivityRequest struct {
	UserID   string `json:"user_id"`
	Activity string `json:"activity"`
}

type ListUsersResponse struct {
	Users []Profile `json:"users"`
}

// VoiceDisconnecter drops a user's voice membership.
type VoiceDisconnecter interface {
	Disconnect(userID string)
}

// PresenceServer is the server API of the Presence service.
type PresenceServer interface {
	Register(context.Context, *RegisterRequest) (*Profile, error)
	Remove(context.Context, *UserRequest) (*Empty, error)
	SetStatus(context.Context, *SetStatusRequest) (*Profile, error)
	SetActivity(context.Context, *SetActivityRequest) (*Profile, error)
	Heartbeat(context.Context, *UserRequest) (*Profile, error)
	Disconnect(context.Context, *UserRequest) (*Profile, error)
	GetPresence(context.Context, *UserRequest) (*Profile, error)
	ListUsers(context.Context, *Empty) (*ListUsersResponse, error)
}

// PresenceService exposes the presence registry.
type PresenceService struct {
	registry *presence.Registry
	voice    VoiceDisconnecter
}

// NewPresenceService creates the service. voice may be nil.
func NewPresenceService(registry *presence.Registry, voice VoiceDisconnecter) *PresenceService {
	return &PresenceService{registry: registry, voice: voice}
}

func (s *PresenceService) Register(_ context.Context, req *RegisterRequest) (*Profile, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, invalid("user_id is required")
	}
	if _, err := s.registry.Register(presence.User{ID: req.UserID, DisplayName: req.DisplayName, AvatarURL: req.AvatarURL}); err != nil {
		return nil, toStatus(err)
	}
	return s.profile(req.UserID)
}

func (s *PresenceService) Remove(_ context.Context, req *UserRequest) (*Empty, error) {
	if err := s.registry.Remove(req.UserID); err != nil {
		return nil, toStatus(err)
	}
	if s.voice != nil {
		s.voice.Disconnect(req.UserID)
	}
	return &Empty{}, nil
}

func (s *PresenceService) SetStatus(_ context.Context, req *SetStatusRequest) (*Profile, error) {
	st, err := presence.ParseStatus(req.Status)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.registry.SetStatus(req.UserID, st); err != nil {
		return nil, toStatus(err)
	}
	return s.profile(req.UserID)
}

func (s *PresenceService) SetActivity(_ context.Context, req *SetActivityRequest) (*Profile, error) {
	if err := s.registry.SetActivity(req.UserID, req.Activity); err != nil {
		return nil, toStatus(err)
	}
	return s.profile(req.UserID)
}

func (s *PresenceService) Heartbeat(_ context.Context, req *UserRequest) (*Profile, error) {
	if err := s.registry.Heartbeat(req.UserID); err != nil {
		return nil, toStatus(err)
	}
	return s.profile(req.UserID)
}

func (s *PresenceService) Disconnect(_ context.Context, req *UserRequest) (*Profile, error) {
	if err := s.registry.Disconnect(req.UserID); err != nil {
		return nil, toStatus(err)
	}
	if s.voice != nil {
		s.voice.Disconnect(req.UserID)
	}
	return s.profile(req.UserID)
}

func (s *PresenceService) GetPresence(_ context.Context, req *UserRequest) (*Profile, error) {
	return s.profile(req.UserID)
}

func (s *PresenceService) ListUsers(_ context.Context, _ *Empty) (*ListUsersResponse, error) {
	users := s.registry.Users()
	resp := &ListUsersResponse{Users: make([]Profile, 0, len(users))}
	for _, u := range users {
		p, err := s.registry.Presence(u.ID)
		if err != nil {
			continue
		}
		resp.Users = append(resp.Users, Profile{User: userToWire(u), Presence: presenceToWire(p)})
	}
	return resp, nil
}

func (s *PresenceService) profile(userID string) (*Profile, error) {
	u, err := s.registry.User(userID)
	if err != nil {
		return nil, toStatus(err)
	}
	p, err := s.registry.Presence(userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &Profile{User: userToWire(u), Presence: presenceToWire(p)}, nil
}

// PresenceServiceDesc describes the Presence service for grpc.Server.RegisterService.
var PresenceServiceDesc = grpc.ServiceDesc{
	ServiceName: PresenceServiceName,
	HandlerType: (*PresenceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(PresenceServiceName, "Register", PresenceServer.Register),
		unary(PresenceServiceName, "Remove", PresenceServer.Remove),
		unary(PresenceServiceName, "SetStatus", PresenceServer.SetStatus),
		unary(PresenceServiceName, "SetActivity", PresenceServer.SetActivity),
		unary(PresenceServiceName, "Heartbeat", PresenceServer.Heartbeat),
		unary(PresenceServiceName, "Disconnect", PresenceServer.Disconnect),
		unary(PresenceServiceName, "GetPresence", PresenceServer.GetPresence),
		unary(PresenceServiceName, "ListUsers", PresenceServer.ListUsers),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "parley/v1/presence",
}
