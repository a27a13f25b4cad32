package readstate

import (
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/directory"
	"github.com/matheus3301/parley/internal/msglog"
	"github.com/matheus3301/parley/internal/presence"
	"go.uber.org/zap"
)

// Pointer is the last message a user has seen in a channel.
type Pointer struct {
	UserID    string
	ChannelID string
	MessageID string
	Key       msglog.OrderKey
	UpdatedAt time.Time
}

// Receipt aggregates who has seen a message. Seen is set once every member
// other than the sender has read it; SeenBy counts those who have so far.
type Receipt struct {
	MessageID string
	Direct    bool
	Seen      bool
	SeenBy    int
	Audience  int
}

// Messages is the subset of the message log the tracker reads.
type Messages interface {
	Get(id string) (msglog.Message, error)
	CountAfter(channelID string, key msglog.OrderKey, excludeSender string) int
}

// Channels resolves channel records.
type Channels interface {
	Get(id string) (directory.Channel, error)
}

// Users checks that a user is registered.
type Users interface {
	Exists(userID string) bool
}

// Audience lists the members a receipt is computed over.
type Audience interface {
	TextMembers(channelID string) []string
}

type pointerKey struct {
	user    string
	channel string
}

// Tracker keeps per-(user, channel) read pointers. Pointers only move forward.
type Tracker struct {
	messages Messages
	channels Channels
	audience Audience
	users    Users
	bus      *bus.Bus
	logger   *zap.Logger

	mu       sync.RWMutex
	pointers map[pointerKey]Pointer
}

// New creates a tracker.
func New(messages Messages, channels Channels, audience Audience, users Users, b *bus.Bus, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		messages: messages,
		channels: channels,
		audience: audience,
		users:    users,
		bus:      b,
		logger:   logger,
		pointers: make(map[pointerKey]Pointer),
	}
}

// MarkRead advances the user's pointer to messageID. Marking an older
// message is ignored and reported as advanced=false.
func (t *Tracker) MarkRead(userID, channelID, messageID string) (Pointer, bool, error) {
	if err := t.checkUser(userID); err != nil {
		return Pointer{}, false, err
	}
	if _, err := t.channels.Get(channelID); err != nil {
		return Pointer{}, false, err
	}
	m, err := t.messages.Get(messageID)
	if err != nil {
		return Pointer{}, false, err
	}
	if m.ChannelID != channelID {
		return Pointer{}, false, fmt.Errorf("%w: %s not in channel %s", msglog.ErrNotFound, messageID, channelID)
	}

	k := pointerKey{userID, channelID}
	t.mu.Lock()
	cur, ok := t.pointers[k]
	if ok {
		cur = t.current(cur)
		t.pointers[k] = cur
	}
	if ok && !cur.Key.Less(m.Key) {
		t.mu.Unlock()
		t.logger.Debug("stale read state ignored", zap.String("user", userID), zap.String("channel", channelID), zap.String("message", messageID))
		return cur, false, nil
	}
	p := Pointer{UserID: userID, ChannelID: channelID, MessageID: m.ID, Key: m.Key, UpdatedAt: time.Now()}
	t.pointers[k] = p
	t.mu.Unlock()

	t.bus.Emit(bus.ReadStateAdvanced, p)
	return p, true, nil
}

// Pointer returns the user's pointer in a channel, if any. A pointer set on
// a pending message reports the message's confirmed ID and key.
func (t *Tracker) Pointer(userID, channelID string) (Pointer, bool) {
	t.mu.RLock()
	p, ok := t.pointers[pointerKey{userID, channelID}]
	t.mu.RUnlock()
	if !ok {
		return Pointer{}, false
	}
	return t.current(p), true
}

// current refreshes p from the message it points at. Confirmation may have
// replaced the message's ID and key since the pointer was set.
func (t *Tracker) current(p Pointer) Pointer {
	m, err := t.messages.Get(p.MessageID)
	if err != nil || m.ChannelID != p.ChannelID {
		return p
	}
	p.MessageID = m.ID
	p.Key = m.Key
	return p
}

func (t *Tracker) checkUser(userID string) error {
	if t.users != nil && !t.users.Exists(userID) {
		return fmt.Errorf("%w: %s", presence.ErrUnknownUser, userID)
	}
	return nil
}

// UnreadCount counts live messages after the user's pointer, excluding the
// user's own.
func (t *Tracker) UnreadCount(userID, channelID string) (int, error) {
	if err := t.checkUser(userID); err != nil {
		return 0, err
	}
	if _, err := t.channels.Get(channelID); err != nil {
		return 0, err
	}
	p, _ := t.Pointer(userID, channelID)
	return t.messages.CountAfter(channelID, p.Key, userID), nil
}

// Receipt reports who besides the sender has read up to messageID.
func (t *Tracker) Receipt(messageID string) (Receipt, error) {
	m, err := t.messages.Get(messageID)
	if err != nil {
		return Receipt{}, err
	}
	ch, err := t.channels.Get(m.ChannelID)
	if err != nil {
		return Receipt{}, err
	}

	r := Receipt{MessageID: m.ID, Direct: ch.Direct()}
	for _, member := range t.audience.TextMembers(m.ChannelID) {
		if member == m.SenderID {
			continue
		}
		r.Audience++
		if p, ok := t.Pointer(member, m.ChannelID); ok && !p.Key.Less(m.Key) {
			r.SeenBy++
		}
	}
	r.Seen = r.Audience > 0 && r.SeenBy == r.Audience
	return r, nil
}

// Restore loads persisted pointers without emitting events.
func (t *Tracker) Restore(pointers []Pointer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range pointers {
		k := pointerKey{p.UserID, p.ChannelID}
		if cur, ok := t.pointers[k]; ok && !cur.Key.Less(p.Key) {
			continue
		}
		t.pointers[k] = p
	}
}
