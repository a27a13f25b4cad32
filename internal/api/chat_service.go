package api

import (
	"context"
	"strings"

	"github.com/matheus3301/parley/internal/companion"
	"github.com/matheus3301/parley/internal/delivery"
	"github.com/matheus3301/parley/internal/directory"
	"github.com/matheus3301/parley/internal/membership"
	"github.com/matheus3301/parley/internal/msglog"
	"github.com/matheus3301/parley/internal/readstate"
	"google.golang.org/grpc"
)

const (
	defaultReadLimit = 50
	maxReadLimit     = 500
)

type CreateChannelRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	ServerID string `json:"server_id,omitempty"`
}

type ListChannelsResponse struct {
	Channels []Channel `json:"channels"`
}

type ChannelRequest struct {
	ChannelID string `json:"channel_id"`
}

type MembershipRequest struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
}

type MembersResponse struct {
	UserIDs []string `json:"user_ids"`
}

type SendRequest struct {
	ChannelID string `json:"channel_id"`
	SenderID  string `json:"sender_id"`
	Body      Body   `json:"body"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

type MessageRequest struct {
	MessageID string `json:"message_id"`
}

type MessageResponse struct {
	Message Message `json:"message"`
}

type ReadRequest struct {
	ChannelID      string `json:"channel_id"`
	Sender         string `json:"sender,omitempty"`
	Keyword        string `json:"keyword,omitempty"`
	Kind           string `json:"kind,omitempty"`
	AfterID        string `json:"after_id,omitempty"`
	IncludeDeleted bool   `json:"include_deleted,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type ReadResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

type EditRequest struct {
	MessageID string `json:"message_id"`
	EditorID  string `json:"editor_id"`
	Text      string `json:"text"`
}

type ReactRequest struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	Remove    bool   `json:"remove,omitempty"`
}

type ReactionsResponse struct {
	Reactions map[string]int `json:"reactions"`
}

type ClearResponse struct {
	Cleared int `json:"cleared"`
}

type MarkReadRequest struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

type MarkReadResponse struct {
	Pointer  ReadPointer `json:"pointer"`
	Advanced bool        `json:"advanced"`
}

type UnreadResponse struct {
	Count int `json:"count"`
}

type AskRequest struct {
	ChannelID string `json:"channel_id"`
	Question  string `json:"question"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

type ReceiveRequest struct {
	Message Message `json:"message"`
	Nonce   string  `json:"nonce,omitempty"`
}

type ReceiveResponse struct {
	Applied bool `json:"applied"`
}

// ChatServer is the server API of the Chat service.
type ChatServer interface {
	CreateChannel(context.Context, *CreateChannelRequest) (*Channel, error)
	ListChannels(context.Context, *Empty) (*ListChannelsResponse, error)
	JoinText(context.Context, *MembershipRequest) (*Empty, error)
	LeaveText(context.Context, *MembershipRequest) (*Empty, error)
	TextMembers(context.Context, *ChannelRequest) (*MembersResponse, error)
	Send(context.Context, *SendRequest) (*MessageResponse, error)
	Cancel(context.Context, *MessageRequest) (*Empty, error)
	Retry(context.Context, *MessageRequest) (*MessageResponse, error)
	Discard(context.Context, *MessageRequest) (*Empty, error)
	Receive(context.Context, *ReceiveRequest) (*ReceiveResponse, error)
	Get(context.Context, *MessageRequest) (*MessageResponse, error)
	Read(context.Context, *ReadRequest) (*ReadResponse, error)
	Edit(context.Context, *EditRequest) (*MessageResponse, error)
	Delete(context.Context, *MessageRequest) (*Empty, error)
	React(context.Context, *ReactRequest) (*ReactionsResponse, error)
	Clear(context.Context, *ChannelRequest) (*ClearResponse, error)
	MarkRead(context.Context, *MarkReadRequest) (*MarkReadResponse, error)
	Unread(context.Context, *MembershipRequest) (*UnreadResponse, error)
	Receipt(context.Context, *MessageRequest) (*Receipt, error)
	Ask(context.Context, *AskRequest) (*MessageResponse, error)
}

// ChatService exposes channels, the message log, delivery and read state.
type ChatService struct {
	log       *msglog.Log
	coord     *delivery.Coordinator
	channels  *directory.Directory
	members   *membership.Manager
	reads     *readstate.Tracker
	companion *companion.Service
}

// NewChatService creates the service. comp may be nil.
func NewChatService(log *msglog.Log, coord *delivery.Coordinator, channels *directory.Directory, members *membership.Manager, reads *readstate.Tracker, comp *companion.Service) *ChatService {
	return &ChatService{
		log:       log,
		coord:     coord,
		channels:  channels,
		members:   members,
		reads:     reads,
		companion: comp,
	}
}

func (s *ChatService) CreateChannel(_ context.Context, req *CreateChannelRequest) (*Channel, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, invalid("name is required")
	}
	kind, err := directory.ParseKind(req.Kind)
	if err != nil {
		return nil, toStatus(err)
	}
	c, err := s.channels.Create(directory.Channel{ID: req.ID, Name: req.Name, Kind: kind, ServerID: req.ServerID})
	if err != nil {
		return nil, toStatus(err)
	}
	out := channelToWire(c)
	return &out, nil
}

func (s *ChatService) ListChannels(_ context.Context, _ *Empty) (*ListChannelsResponse, error) {
	channels := s.channels.List()
	resp := &ListChannelsResponse{Channels: make([]Channel, 0, len(channels))}
	for _, c := range channels {
		resp.Channels = append(resp.Channels, channelToWire(c))
	}
	return resp, nil
}

func (s *ChatService) JoinText(_ context.Context, req *MembershipRequest) (*Empty, error) {
	if err := s.members.JoinText(req.UserID, req.ChannelID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *ChatService) LeaveText(_ context.Context, req *MembershipRequest) (*Empty, error) {
	s.members.LeaveText(req.UserID, req.ChannelID)
	return &Empty{}, nil
}

func (s *ChatService) TextMembers(_ context.Context, req *ChannelRequest) (*MembersResponse, error) {
	if _, err := s.channels.Get(req.ChannelID); err != nil {
		return nil, toStatus(err)
	}
	return &MembersResponse{UserIDs: s.members.TextMembers(req.ChannelID)}, nil
}

func (s *ChatService) Send(_ context.Context, req *SendRequest) (*MessageResponse, error) {
	body, err := bodyFromWire(req.Body)
	if err != nil {
		return nil, toStatus(err)
	}
	m, err := s.coord.Send(delivery.SendRequest{
		ChannelID: req.ChannelID,
		SenderID:  req.SenderID,
		Body:      body,
		ReplyTo:   req.ReplyTo,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessageResponse{Message: messageToWire(m)}, nil
}

func (s *ChatService) Cancel(_ context.Context, req *MessageRequest) (*Empty, error) {
	if err := s.coord.Cancel(req.MessageID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *ChatService) Retry(_ context.Context, req *MessageRequest) (*MessageResponse, error) {
	m, err := s.coord.Retry(req.MessageID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessageResponse{Message: messageToWire(m)}, nil
}

func (s *ChatService) Discard(_ context.Context, req *MessageRequest) (*Empty, error) {
	if err := s.coord.Discard(req.MessageID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *ChatService) Receive(_ context.Context, req *ReceiveRequest) (*ReceiveResponse, error) {
	m, err := MessageFromWire(req.Message)
	if err != nil {
		return nil, toStatus(err)
	}
	if _, err := s.channels.Get(m.ChannelID); err != nil {
		return nil, toStatus(err)
	}
	applied, err := s.coord.Receive(m, req.Nonce)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ReceiveResponse{Applied: applied}, nil
}

func (s *ChatService) Get(_ context.Context, req *MessageRequest) (*MessageResponse, error) {
	m, err := s.log.Get(req.MessageID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessageResponse{Message: messageToWire(m)}, nil
}

func (s *ChatService) Read(_ context.Context, req *ReadRequest) (*ReadResponse, error) {
	if _, err := s.channels.Get(req.ChannelID); err != nil {
		return nil, toStatus(err)
	}
	f := msglog.Filter{
		Sender:         req.Sender,
		Keyword:        req.Keyword,
		AfterID:        req.AfterID,
		IncludeDeleted: req.IncludeDeleted,
	}
	if req.Kind != "" {
		kind, err := msglog.ParseKind(req.Kind)
		if err != nil {
			return nil, toStatus(err)
		}
		f.Kind = kind
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	limit = min(limit, maxReadLimit)

	seq, err := s.log.Read(req.ChannelID, f)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &ReadResponse{Messages: []Message{}}
	for v := range seq {
		if len(resp.Messages) == limit {
			resp.HasMore = true
			break
		}
		resp.Messages = append(resp.Messages, viewToWire(v))
	}
	return resp, nil
}

func (s *ChatService) Edit(_ context.Context, req *EditRequest) (*MessageResponse, error) {
	m, err := s.log.Edit(req.MessageID, msglog.Edit{EditorID: req.EditorID, Text: req.Text})
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessageResponse{Message: messageToWire(m)}, nil
}

func (s *ChatService) Delete(_ context.Context, req *MessageRequest) (*Empty, error) {
	if err := s.log.SoftDelete(req.MessageID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *ChatService) React(_ context.Context, req *ReactRequest) (*ReactionsResponse, error) {
	react := s.log.AddReaction
	if req.Remove {
		react = s.log.RemoveReaction
	}
	reactions, err := react(req.MessageID, req.Emoji)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ReactionsResponse{Reactions: reactions}, nil
}

func (s *ChatService) Clear(_ context.Context, req *ChannelRequest) (*ClearResponse, error) {
	if _, err := s.channels.Get(req.ChannelID); err != nil {
		return nil, toStatus(err)
	}
	return &ClearResponse{Cleared: s.log.ClearChannel(req.ChannelID)}, nil
}

func (s *ChatService) MarkRead(_ context.Context, req *MarkReadRequest) (*MarkReadResponse, error) {
	p, advanced, err := s.reads.MarkRead(req.UserID, req.ChannelID, req.MessageID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MarkReadResponse{Pointer: pointerToWire(p), Advanced: advanced}, nil
}

func (s *ChatService) Unread(_ context.Context, req *MembershipRequest) (*UnreadResponse, error) {
	n, err := s.reads.UnreadCount(req.UserID, req.ChannelID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &UnreadResponse{Count: n}, nil
}

func (s *ChatService) Receipt(_ context.Context, req *MessageRequest) (*Receipt, error) {
	r, err := s.reads.Receipt(req.MessageID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &Receipt{MessageID: r.MessageID, Direct: r.Direct, Seen: r.Seen, SeenBy: r.SeenBy, Audience: r.Audience}, nil
}

func (s *ChatService) Ask(_ context.Context, req *AskRequest) (*MessageResponse, error) {
	if s.companion == nil {
		return nil, toStatus(companion.ErrNoGenerator)
	}
	if strings.TrimSpace(req.Question) == "" {
		return nil, invalid("question is required")
	}
	m, err := s.companion.Ask(req.ChannelID, req.Question, req.ReplyTo)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessageResponse{Message: messageToWire(m)}, nil
}

// ChatServiceDesc describes the Chat service for grpc.Server.RegisterService.
var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: ChatServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ChatServiceName, "CreateChannel", ChatServer.CreateChannel),
		unary(ChatServiceName, "ListChannels", ChatServer.ListChannels),
		unary(ChatServiceName, "JoinText", ChatServer.JoinText),
		unary(ChatServiceName, "LeaveText", ChatServer.LeaveText),
		unary(ChatServiceName, "TextMembers", ChatServer.TextMembers),
		unary(ChatServiceName, "Send", ChatServer.Send),
		unary(ChatServiceName, "Cancel", ChatServer.Cancel),
		unary(ChatServiceName, "Retry", ChatServer.Retry),
		unary(ChatServiceName, "Discard", ChatServer.Discard),
		unary(ChatServiceName, "Receive", ChatServer.Receive),
		unary(ChatServiceName, "Get", ChatServer.Get),
		unary(ChatServiceName, "Read", ChatServer.Read),
		unary(ChatServiceName, "Edit", ChatServer.Edit),
		unary(ChatServiceName, "Delete", ChatServer.Delete),
		unary(ChatServiceName, "React", ChatServer.React),
		unary(ChatServiceName, "Clear", ChatServer.Clear),
		unary(ChatServiceName, "MarkRead", ChatServer.MarkRead),
		unary(ChatServiceName, "Unread", ChatServer.Unread),
		unary(ChatServiceName, "Receipt", ChatServer.Receipt),
		unary(ChatServiceName, "Ask", ChatServer.Ask),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "parley/v1/chat",
}
