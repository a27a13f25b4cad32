package membership

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/directory"
	"github.com/matheus3301/parley/internal/presence"
	"go.uber.org/zap"
)

var (
	ErrNotAMember      = errors.New("not a member of channel")
	ErrChannelNotVoice = errors.New("channel is not a voice channel")
	ErrChannelNotText  = errors.New("channel is not a text channel")
	ErrInvalidFlag     = errors.New("invalid member flag")
)

// Flag is a per-member voice flag.
type Flag string

const (
	Muted    Flag = "muted"
	Deafened Flag = "deafened"
	Video    Flag = "video"
)

// ParseFlag validates a flag name.
func ParseFlag(s string) (Flag, error) {
	switch f := Flag(strings.ToLower(s)); f {
	case Muted, Deafened, Video:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFlag, s)
	}
}

// VoiceMember is one user's membership in a voice channel.
type VoiceMember struct {
	UserID    string
	ChannelID string
	Muted     bool
	Deafened  bool
	Video     bool
	JoinedAt  time.Time
}

// VoiceChange is the payload for voice.* events.
type VoiceChange struct {
	UserID    string
	ChannelID string
	Member    VoiceMember
}

// TextChange is the payload for text.* events.
type TextChange struct {
	UserID    string
	ChannelID string
}

// Users is the subset of the presence registry the manager needs.
type Users interface {
	Exists(userID string) bool
}

// Channels resolves channel records.
type Channels interface {
	Get(id string) (directory.Channel, error)
}

// Manager tracks which users are in which text and voice channel. A user is
// in at most one voice channel at a time.
type Manager struct {
	users    Users
	channels Channels
	bus      *bus.Bus
	logger   *zap.Logger
	seq      *sequencer

	mu    sync.RWMutex
	voice map[string]map[string]*VoiceMember // channel -> user -> member
	where map[string]string                  // user -> voice channel
	text  map[string]map[string]struct{}     // channel -> users
}

// NewManager creates an empty membership manager.
func NewManager(users Users, channels Channels, b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		users:    users,
		channels: channels,
		bus:      b,
		logger:   logger,
		seq:      newSequencer(),
		voice:    make(map[string]map[string]*VoiceMember),
		where:    make(map[string]string),
		text:     make(map[string]map[string]struct{}),
	}
}

// JoinVoice moves the user into channelID, leaving any previous voice channel
// in the same mutation. Rejoining the current channel keeps existing flags.
// Returns the resulting member set of channelID.
func (m *Manager) JoinVoice(userID, channelID string) ([]VoiceMember, error) {
	if err := m.checkUser(userID); err != nil {
		return nil, err
	}
	if _, err := m.channelOfKind(channelID, directory.Voice, ErrChannelNotVoice); err != nil {
		return nil, err
	}

	release := m.seq.lock(userID)
	defer release()

	m.mu.Lock()
	prev := m.where[userID]
	if prev == channelID {
		out := m.voiceMembersLocked(channelID)
		m.mu.Unlock()
		return out, nil
	}
	var left VoiceMember
	if prev != "" {
		left = *m.voice[prev][userID]
		m.removeVoiceLocked(prev, userID)
	}
	member := &VoiceMember{UserID: userID, ChannelID: channelID, JoinedAt: time.Now()}
	if m.voice[channelID] == nil {
		m.voice[channelID] = make(map[string]*VoiceMember)
	}
	m.voice[channelID][userID] = member
	m.where[userID] = channelID
	out := m.voiceMembersLocked(channelID)
	joined := *member
	m.mu.Unlock()

	if prev != "" {
		m.bus.Emit(bus.VoiceLeft, VoiceChange{UserID: userID, ChannelID: prev, Member: left})
	}
	m.bus.Emit(bus.VoiceJoined, VoiceChange{UserID: userID, ChannelID: channelID, Member: joined})
	m.logger.Debug("voice joined", zap.String("user", userID), zap.String("channel", channelID), zap.String("from", prev))
	return out, nil
}

// LeaveVoice removes the user from channelID. It is a no-op if the user is not a member.
func (m *Manager) LeaveVoice(userID, channelID string) error {
	if _, err := m.channelOfKind(channelID, directory.Voice, ErrChannelNotVoice); err != nil {
		return err
	}

	release := m.seq.lock(userID)
	defer release()

	m.mu.Lock()
	if m.where[userID] != channelID {
		m.mu.Unlock()
		return nil
	}
	left := *m.voice[channelID][userID]
	m.removeVoiceLocked(channelID, userID)
	m.mu.Unlock()

	m.bus.Emit(bus.VoiceLeft, VoiceChange{UserID: userID, ChannelID: channelID, Member: left})
	return nil
}

// Disconnect drops the user's voice membership, wherever it is.
func (m *Manager) Disconnect(userID string) {
	release := m.seq.lock(userID)
	defer release()

	m.mu.Lock()
	channelID, ok := m.where[userID]
	if !ok {
		m.mu.Unlock()
		return
	}
	left := *m.voice[channelID][userID]
	m.removeVoiceLocked(channelID, userID)
	m.mu.Unlock()

	m.logger.Info("voice member disconnected", zap.String("user", userID), zap.String("channel", channelID))
	m.bus.Emit(bus.VoiceLeft, VoiceChange{UserID: userID, ChannelID: channelID, Member: left})
}

// SetMemberFlag sets a voice flag. Deafening also mutes; undeafening leaves
// the mute flag as it is.
func (m *Manager) SetMemberFlag(userID, channelID string, flag Flag, value bool) (VoiceMember, error) {
	if _, err := ParseFlag(string(flag)); err != nil {
		return VoiceMember{}, err
	}

	release := m.seq.lock(userID)
	defer release()

	m.mu.Lock()
	member, ok := m.voice[channelID][userID]
	if !ok {
		m.mu.Unlock()
		return VoiceMember{}, fmt.Errorf("%w: user %s, channel %s", ErrNotAMember, userID, channelID)
	}
	switch flag {
	case Muted:
		member.Muted = value
	case Deafened:
		member.Deafened = value
		if value {
			member.Muted = true
		}
	case Video:
		member.Video = value
	}
	out := *member
	m.mu.Unlock()

	m.bus.Emit(bus.VoiceFlags, VoiceChange{UserID: userID, ChannelID: channelID, Member: out})
	return out, nil
}

// VoiceMembers returns the members of a voice channel ordered by user ID.
func (m *Manager) VoiceMembers(channelID string) []VoiceMember {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.voiceMembersLocked(channelID)
}

// VoiceChannelOf returns the voice channel the user is in, if any.
func (m *Manager) VoiceChannelOf(userID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.where[userID]
	return c, ok
}

// JoinText adds the user to a text channel's audience.
func (m *Manager) JoinText(userID, channelID string) error {
	if err := m.checkUser(userID); err != nil {
		return err
	}
	if _, err := m.channelOfKind(channelID, directory.Text, ErrChannelNotText); err != nil {
		return err
	}
	m.mu.Lock()
	if m.text[channelID] == nil {
		m.text[channelID] = make(map[string]struct{})
	}
	_, already := m.text[channelID][userID]
	m.text[channelID][userID] = struct{}{}
	m.mu.Unlock()

	if !already {
		m.bus.Emit(bus.TextJoined, TextChange{UserID: userID, ChannelID: channelID})
	}
	return nil
}

// LeaveText removes the user from a text channel's audience. No-op if absent.
func (m *Manager) LeaveText(userID, channelID string) {
	m.mu.Lock()
	_, ok := m.text[channelID][userID]
	delete(m.text[channelID], userID)
	m.mu.Unlock()

	if ok {
		m.bus.Emit(bus.TextLeft, TextChange{UserID: userID, ChannelID: channelID})
	}
}

// RestoreText loads persisted text audiences without emitting events.
func (m *Manager) RestoreText(members map[string][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for channelID, users := range members {
		if m.text[channelID] == nil {
			m.text[channelID] = make(map[string]struct{})
		}
		for _, u := range users {
			m.text[channelID][u] = struct{}{}
		}
	}
}

// TextMembers returns the audience of a text channel ordered by user ID.
func (m *Manager) TextMembers(channelID string) []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.text[channelID]))
	for id := range m.text[channelID] {
		out = append(out, id)
	}
	m.mu.RUnlock()
	slices.Sort(out)
	return out
}

// IsTextMember reports whether the user is in the channel's audience.
func (m *Manager) IsTextMember(userID, channelID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.text[channelID][userID]
	return ok
}

func (m *Manager) checkUser(userID string) error {
	if m.users != nil && !m.users.Exists(userID) {
		return fmt.Errorf("%w: %s", presence.ErrUnknownUser, userID)
	}
	return nil
}

func (m *Manager) channelOfKind(channelID string, kind directory.Kind, mismatch error) (directory.Channel, error) {
	c, err := m.channels.Get(channelID)
	if err != nil {
		return directory.Channel{}, err
	}
	if c.Kind != kind {
		return directory.Channel{}, fmt.Errorf("%w: %s", mismatch, channelID)
	}
	return c, nil
}

func (m *Manager) removeVoiceLocked(channelID, userID string) {
	delete(m.voice[channelID], userID)
	if len(m.voice[channelID]) == 0 {
		delete(m.voice, channelID)
	}
	delete(m.where, userID)
}

func (m *Manager) voiceMembersLocked(channelID string) []VoiceMember {
	out := make([]VoiceMember, 0, len(m.voice[channelID]))
	for _, vm := range m.voice[channelID] {
		out = append(out, *vm)
	}
	slices.SortFunc(out, func(a, b VoiceMember) int { return strings.Compare(a.UserID, b.UserID) })
	return out
}
