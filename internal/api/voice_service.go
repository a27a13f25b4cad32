package api

import (
	"context"

	"github.com/matheus3301/parley/internal/directory"
	"github.com/matheus3301/parley/internal/membership"
	"google.golang.org/grpc"
)

type VoiceMembersResponse struct {
	Members []VoiceMember `json:"members"`
}

type SetFlagRequest struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	Flag      string `json:"flag"`
	Value     bool   `json:"value"`
}

type WhereResponse struct {
	ChannelID string `json:"channel_id,omitempty"`
	InVoice   bool   `json:"in_voice"`
}

// VoiceServer is the server API of the Voice service.
type VoiceServer interface {
	Join(context.Context, *MembershipRequest) (*VoiceMembersResponse, error)
	Leave(context.Context, *MembershipRequest) (*Empty, error)
	SetFlag(context.Context, *SetFlagRequest) (*VoiceMember, error)
	Members(context.Context, *ChannelRequest) (*VoiceMembersResponse, error)
	Where(context.Context, *UserRequest) (*WhereResponse, error)
}

// VoiceService exposes voice-channel membership.
type VoiceService struct {
	members  *membership.Manager
	channels *directory.Directory
}

func NewVoiceService(members *membership.Manager, channels *directory.Directory) *VoiceService {
	return &VoiceService{members: members, channels: channels}
}

func (s *VoiceService) Join(_ context.Context, req *MembershipRequest) (*VoiceMembersResponse, error) {
	ms, err := s.members.JoinVoice(req.UserID, req.ChannelID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &VoiceMembersResponse{Members: membersToWire(ms)}, nil
}

func (s *VoiceService) Leave(_ context.Context, req *MembershipRequest) (*Empty, error) {
	if err := s.members.LeaveVoice(req.UserID, req.ChannelID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *VoiceService) SetFlag(_ context.Context, req *SetFlagRequest) (*VoiceMember, error) {
	flag, err := membership.ParseFlag(req.Flag)
	if err != nil {
		return nil, toStatus(err)
	}
	m, err := s.members.SetMemberFlag(req.UserID, req.ChannelID, flag, req.Value)
	if err != nil {
		return nil, toStatus(err)
	}
	out := memberToWire(m)
	return &out, nil
}

func (s *VoiceService) Members(_ context.Context, req *ChannelRequest) (*VoiceMembersResponse, error) {
	c, err := s.channels.Get(req.ChannelID)
	if err != nil {
		return nil, toStatus(err)
	}
	if c.Kind != directory.Voice {
		return nil, toStatus(membership.ErrChannelNotVoice)
	}
	return &VoiceMembersResponse{Members: membersToWire(s.members.VoiceMembers(req.ChannelID))}, nil
}

func (s *VoiceService) Where(_ context.Context, req *UserRequest) (*WhereResponse, error) {
	ch, ok := s.members.VoiceChannelOf(req.UserID)
	return &WhereResponse{ChannelID: ch, InVoice: ok}, nil
}

// VoiceServiceDesc describes the Voice service for grpc.Server.RegisterService.
var VoiceServiceDesc = grpc.ServiceDesc{
	ServiceName: VoiceServiceName,
	HandlerType: (*VoiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(VoiceServiceName, "Join", VoiceServer.Join),
		unary(VoiceServiceName, "Leave", VoiceServer.Leave),
		unary(VoiceServiceName, "SetFlag", VoiceServer.SetFlag),
		unary(VoiceServiceName, "Members", VoiceServer.Members),
		unary(VoiceServiceName, "Where", VoiceServer.Where),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "parley/v1/voice",
}
