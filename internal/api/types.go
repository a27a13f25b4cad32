package api

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/parley/internal/directory"
	"github.com/matheus3301/parley/internal/membership"
	"github.com/matheus3301/parley/internal/msglog"
	"github.com/matheus3301/parley/internal/presence"
	"github.com/matheus3301/parley/internal/readstate"
)

// Wire types. Timestamps travel as Unix milliseconds; zero means unset.

type User struct {
	ID             string `json:"id"`
	DisplayName    string `json:"display_name,omitempty"`
	AvatarURL      string `json:"avatar_url,omitempty"`
	Status         string `json:"status"`
	Activity       string `json:"activity,omitempty"`
	Level          int    `json:"level"`
	XP             int    `json:"xp"`
	Removed        bool   `json:"removed,omitempty"`
	LastSeenUnixMs int64  `json:"last_seen_unix_ms,omitempty"`
}

type Presence struct {
	UserID         string `json:"user_id"`
	Status         string `json:"status"`
	Explicit       string `json:"explicit"`
	Activity       string `json:"activity,omitempty"`
	Stale          bool   `json:"stale"`
	LastSeenUnixMs int64  `json:"last_seen_unix_ms,omitempty"`
}

// Profile pairs a user record with its effective presence.
type Profile struct {
	User     User     `json:"user"`
	Presence Presence `json:"presence"`
}

type Channel struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Kind            string `json:"kind"`
	ServerID        string `json:"server_id,omitempty"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms,omitempty"`
}

type OrderKey struct {
	Seq uint64 `json:"seq"`
	Tie string `json:"tie"`
}

type Body struct {
	Kind   string         `json:"kind,omitempty"`
	Text   string         `json:"text,omitempty"`
	URL    string         `json:"url,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

type Reply struct {
	ID        string `json:"id"`
	Available bool   `json:"available"`
	SenderID  string `json:"sender_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

type Completion struct {
	Text    string   `json:"text,omitempty"`
	Sources []string `json:"sources,omitempty"`
	Failed  bool     `json:"failed,omitempty"`
}

type Message struct {
	ID              string         `json:"id"`
	ChannelID       string         `json:"channel_id"`
	SenderID        string         `json:"sender_id"`
	Body            Body           `json:"body"`
	CreatedAtUnixMs int64          `json:"created_at_unix_ms"`
	ReplyTo         string         `json:"reply_to,omitempty"`
	Reply           *Reply         `json:"reply,omitempty"`
	Key             OrderKey       `json:"key"`
	Reactions       map[string]int `json:"reactions,omitempty"`
	Deleted         bool           `json:"deleted,omitempty"`
	Status          string         `json:"status"`
	EditedAtUnixMs  int64          `json:"edited_at_unix_ms,omitempty"`
	Completion      *Completion    `json:"completion,omitempty"`
}

type VoiceMember struct {
	UserID         string `json:"user_id"`
	ChannelID      string `json:"channel_id"`
	Muted          bool   `json:"muted"`
	Deafened       bool   `json:"deafened"`
	Video          bool   `json:"video"`
	JoinedAtUnixMs int64  `json:"joined_at_unix_ms"`
}

type ReadPointer struct {
	UserID    string   `json:"user_id"`
	ChannelID string   `json:"channel_id"`
	MessageID string   `json:"message_id"`
	Key       OrderKey `json:"key"`
}

type Receipt struct {
	MessageID string `json:"message_id"`
	Direct    bool   `json:"direct"`
	Seen      bool   `json:"seen"`
	SeenBy    int    `json:"seen_by"`
	Audience  int    `json:"audience"`
}

// Event is one bus event relayed by Admin.Watch.
type Event struct {
	ID               string          `json:"id"`
	Kind             string          `json:"kind"`
	OccurredAtUnixMs int64           `json:"occurred_at_unix_ms"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

func unixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func userToWire(u presence.User) User {
	return User{
		ID:             u.ID,
		DisplayName:    u.DisplayName,
		AvatarURL:      u.AvatarURL,
		Status:         string(u.Status),
		Activity:       u.Activity,
		Level:          u.Level,
		XP:             u.XP,
		Removed:        u.Removed,
		LastSeenUnixMs: unixMs(u.LastSeen),
	}
}

func presenceToWire(p presence.Presence) Presence {
	return Presence{
		UserID:         p.UserID,
		Status:         string(p.Status),
		Explicit:       string(p.Explicit),
		Activity:       p.Activity,
		Stale:          p.Stale,
		LastSeenUnixMs: unixMs(p.LastSeen),
	}
}

func channelToWire(c directory.Channel) Channel {
	return Channel{
		ID:              c.ID,
		Name:            c.Name,
		Kind:            string(c.Kind),
		ServerID:        c.ServerID,
		CreatedAtUnixMs: unixMs(c.CreatedAt),
	}
}

func keyToWire(k msglog.OrderKey) OrderKey {
	return OrderKey{Seq: k.Seq, Tie: k.Tie}
}

func bodyFromWire(b Body) (msglog.Body, error) {
	kind, err := msglog.ParseKind(b.Kind)
	if err != nil {
		return msglog.Body{}, err
	}
	return msglog.Body{Kind: kind, Text: b.Text, URL: b.URL, Fields: b.Fields}, nil
}

func messageToWire(m msglog.Message) Message {
	out := Message{
		ID:              m.ID,
		ChannelID:       m.ChannelID,
		SenderID:        m.SenderID,
		Body:            Body{Kind: string(m.Body.Kind), Text: m.Body.Text, URL: m.Body.URL, Fields: m.Body.Fields},
		CreatedAtUnixMs: unixMs(m.CreatedAt),
		ReplyTo:         m.ReplyTo,
		Key:             keyToWire(m.Key),
		Reactions:       m.Reactions,
		Deleted:         m.Deleted,
		Status:          string(m.Status),
		EditedAtUnixMs:  unixMs(m.EditedAt),
	}
	if c := m.Completion; c != nil {
		out.Completion = &Completion{Text: c.Text, Sources: c.Sources, Failed: c.Failed}
	}
	return out
}

func viewToWire(v msglog.View) Message {
	out := messageToWire(v.Message)
	if r := v.Reply; r != nil {
		out.Reply = &Reply{ID: r.ID, Available: r.Available, SenderID: r.SenderID, Text: r.Text}
	}
	return out
}

// MessageFromWire converts an inbound wire message into a log entry.
func MessageFromWire(m Message) (msglog.Message, error) {
	body, err := bodyFromWire(m.Body)
	if err != nil {
		return msglog.Message{}, err
	}
	out := msglog.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		SenderID:  m.SenderID,
		Body:      body,
		ReplyTo:   m.ReplyTo,
		Key:       msglog.OrderKey{Seq: m.Key.Seq, Tie: m.Key.Tie},
		Reactions: m.Reactions,
		Deleted:   m.Deleted,
	}
	if m.CreatedAtUnixMs != 0 {
		out.CreatedAt = time.UnixMilli(m.CreatedAtUnixMs)
	}
	return out, nil
}

func memberToWire(m membership.VoiceMember) VoiceMember {
	return VoiceMember{
		UserID:         m.UserID,
		ChannelID:      m.ChannelID,
		Muted:          m.Muted,
		Deafened:       m.Deafened,
		Video:          m.Video,
		JoinedAtUnixMs: unixMs(m.JoinedAt),
	}
}

func membersToWire(ms []membership.VoiceMember) []VoiceMember {
	out := make([]VoiceMember, 0, len(ms))
	for _, m := range ms {
		out = append(out, memberToWire(m))
	}
	return out
}

func pointerToWire(p readstate.Pointer) ReadPointer {
	return ReadPointer{UserID: p.UserID, ChannelID: p.ChannelID, MessageID: p.MessageID, Key: keyToWire(p.Key)}
}
