package msglog

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/parley/internal/bus"
	"go.uber.org/zap"
)

// Log is the ordered, per-channel message store. Each channel has its own
// lock; the channel map and ID index are only locked for lookups.
type Log struct {
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	channels map[string]*channelLog
	index    map[string]string // message ID (final or provisional) -> channel
}

type channelLog struct {
	mu      sync.RWMutex
	msgs    []*Message // ascending by Key
	byID    map[string]*Message
	aliases map[string]string // provisional ID -> final ID
	highest OrderKey
}

// New creates an empty log.
func New(b *bus.Bus, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		bus:      b,
		logger:   logger,
		now:      time.Now,
		channels: make(map[string]*channelLog),
		index:    make(map[string]string),
	}
}

// NewID returns a new time-ordered message identifier.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Append adds a durably accepted message with a key greater than every key
// already in the channel.
func (l *Log) Append(channelID, senderID string, body Body, replyTo string) (Message, error) {
	return l.appendNew(channelID, senderID, body, replyTo, NewID(), Sent)
}

// AppendPending adds an optimistic entry under a provisional ID. It stays
// Pending until Confirm, MarkFailed or Discard.
func (l *Log) AppendPending(channelID, senderID string, body Body, replyTo, provisionalID string) (Message, error) {
	if provisionalID == "" {
		provisionalID = NewID()
	}
	return l.appendNew(channelID, senderID, body, replyTo, provisionalID, Pending)
}

func (l *Log) appendNew(channelID, senderID string, body Body, replyTo, id string, status Status) (Message, error) {
	if body.Kind == "" {
		body.Kind = KindText
	}
	if err := body.validate(); err != nil {
		return Message{}, err
	}

	c := l.channel(channelID, true)
	c.mu.Lock()
	if _, dup := c.byID[id]; dup {
		c.mu.Unlock()
		return Message{}, fmt.Errorf("duplicate message id %s", id)
	}
	if replyTo != "" {
		target, ok := c.lookup(replyTo)
		if !ok || target.Deleted {
			c.mu.Unlock()
			return Message{}, fmt.Errorf("%w: %s", ErrReplyTarget, replyTo)
		}
		replyTo = target.ID
	}
	m := &Message{
		ID:        id,
		ChannelID: channelID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: l.now(),
		ReplyTo:   replyTo,
		Key:       OrderKey{Seq: c.highest.Seq + 1, Tie: id},
		Status:    status,
	}
	c.msgs = append(c.msgs, m)
	c.byID[id] = m
	c.highest = m.Key
	out := m.Clone()
	c.mu.Unlock()

	l.indexID(id, channelID)
	l.bus.Emit(bus.MessageAppended, out)
	return out, nil
}

// Confirm replaces a pending entry's provisional ID and key with the
// authoritative ones. The entry only moves if the final key orders it
// differently. Confirming an already confirmed entry is a no-op.
func (l *Log) Confirm(provisionalID, finalID string, finalKey OrderKey) (Message, error) {
	c, err := l.channelOf(provisionalID)
	if err != nil {
		return Message{}, err
	}

	c.mu.Lock()
	if alias, ok := c.aliases[provisionalID]; ok {
		m := c.byID[alias]
		c.mu.Unlock()
		if m == nil {
			return Message{}, fmt.Errorf("%w: %s", ErrNotFound, provisionalID)
		}
		return m.Clone(), nil
	}
	m, ok := c.byID[provisionalID]
	if !ok {
		c.mu.Unlock()
		return Message{}, fmt.Errorf("%w: %s", ErrNotFound, provisionalID)
	}
	if m.Status == Sent {
		out := m.Clone()
		c.mu.Unlock()
		return out, nil
	}
	if finalKey.IsZero() {
		finalKey = OrderKey{Seq: m.Key.Seq, Tie: finalID}
	}

	c.remove(m)
	delete(c.byID, provisionalID)
	m.ID = finalID
	m.Key = finalKey
	m.Status = Sent
	c.insert(m)
	c.byID[finalID] = m
	if provisionalID != finalID {
		c.aliases[provisionalID] = finalID
	}
	if c.highest.Less(finalKey) {
		c.highest = finalKey
	}
	for _, other := range c.msgs {
		if other.ReplyTo == provisionalID {
			other.ReplyTo = finalID
		}
	}
	out := m.Clone()
	c.mu.Unlock()

	l.indexID(finalID, out.ChannelID)
	l.bus.Emit(bus.MessageConfirmed, Confirmation{ProvisionalID: provisionalID, Message: out})
	return out, nil
}

// MarkFailed moves a pending entry to Failed.
func (l *Log) MarkFailed(id string) (Message, error) {
	return l.update(id, func(m *Message) error {
		if m.Status == Sent {
			return fmt.Errorf("%w: %s", ErrDurable, id)
		}
		m.Status = Failed
		return nil
	})
}

// Discard physically removes an entry that was never durably accepted.
func (l *Log) Discard(id string) error {
	c, err := l.channelOf(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	m, ok := c.lookup(id)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if m.Status == Sent {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDurable, id)
	}
	c.remove(m)
	delete(c.byID, id)
	out := m.Clone()
	c.mu.Unlock()

	l.mu.Lock()
	delete(l.index, id)
	l.mu.Unlock()

	l.bus.Emit(bus.MessageRemoved, Removal{Message: out, Physical: true})
	return nil
}

// Edit replaces a message's text. Only the original sender may edit.
func (l *Log) Edit(id string, e Edit) (Message, error) {
	return l.update(id, func(m *Message) error {
		if m.Deleted {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if e.EditorID != m.SenderID {
			return fmt.Errorf("%w: %s", ErrNotSender, id)
		}
		m.Body.Text = e.Text
		m.EditedAt = l.now()
		return nil
	})
}

// SoftDelete hides a message from default reads while retaining it.
// Deleting an already deleted message is a no-op.
func (l *Log) SoftDelete(id string) error {
	c, err := l.channelOf(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	m, ok := c.lookup(id)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if m.Deleted {
		c.mu.Unlock()
		return nil
	}
	m.Deleted = true
	out := m.Clone()
	c.mu.Unlock()

	l.bus.Emit(bus.MessageRemoved, Removal{Message: out})
	return nil
}

// ClearChannel soft-deletes every message in the channel and returns how
// many were affected.
func (l *Log) ClearChannel(channelID string) int {
	c := l.channel(channelID, false)
	if c == nil {
		return 0
	}
	c.mu.Lock()
	var removed []Message
	for _, m := range c.msgs {
		if !m.Deleted {
			m.Deleted = true
			removed = append(removed, m.Clone())
		}
	}
	c.mu.Unlock()

	for _, m := range removed {
		l.bus.Emit(bus.MessageRemoved, Removal{Message: m})
	}
	l.logger.Info("channel cleared", zap.String("channel", channelID), zap.Int("messages", len(removed)))
	return len(removed)
}

// Complete fills in the generated content of a bot message.
func (l *Log) Complete(id string, comp Completion) (Message, error) {
	return l.update(id, func(m *Message) error {
		if comp.CompletedAt.IsZero() {
			comp.CompletedAt = l.now()
		}
		if !comp.Failed {
			m.Body.Text = comp.Text
		}
		m.Completion = &comp
		return nil
	})
}

// Ingest inserts a message confirmed elsewhere. It returns false if a message
// with the same ID (or a provisional alias of it) is already present.
func (l *Log) Ingest(msg Message) (bool, error) {
	if msg.ID == "" || msg.ChannelID == "" {
		return false, fmt.Errorf("%w: ingest needs message id and channel", ErrMalformed)
	}
	if msg.Key.IsZero() {
		return false, fmt.Errorf("%w: ingest %s: missing order key", ErrMalformed, msg.ID)
	}
	if msg.Body.Kind == "" {
		msg.Body.Kind = KindText
	}
	msg.Status = Sent

	c := l.channel(msg.ChannelID, true)
	c.mu.Lock()
	if _, ok := c.lookup(msg.ID); ok {
		c.mu.Unlock()
		return false, nil
	}
	m := msg.Clone()
	c.insert(&m)
	c.byID[m.ID] = &m
	if c.highest.Less(m.Key) {
		c.highest = m.Key
	}
	out := m.Clone()
	c.mu.Unlock()

	l.indexID(out.ID, out.ChannelID)
	l.bus.Emit(bus.MessageAppended, out)
	return true, nil
}

// Restore loads persisted messages for a channel without emitting events.
func (l *Log) Restore(channelID string, msgs []Message) {
	c := l.channel(channelID, true)
	c.mu.Lock()
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if _, ok := c.byID[msg.ID]; ok {
			continue
		}
		m := msg.Clone()
		m.ChannelID = channelID
		c.insert(&m)
		c.byID[m.ID] = &m
		if c.highest.Less(m.Key) {
			c.highest = m.Key
		}
		ids = append(ids, m.ID)
	}
	c.mu.Unlock()

	l.mu.Lock()
	for _, id := range ids {
		l.index[id] = channelID
	}
	l.mu.Unlock()
}

// Get returns a message by final or provisional ID, including deleted ones.
func (l *Log) Get(id string) (Message, error) {
	c, err := l.channelOf(id)
	if err != nil {
		return Message{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.lookup(id)
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.Clone(), nil
}

// KeyOf returns the channel and current order key of a message.
func (l *Log) KeyOf(id string) (string, OrderKey, error) {
	m, err := l.Get(id)
	if err != nil {
		return "", OrderKey{}, err
	}
	return m.ChannelID, m.Key, nil
}

// HighestKey returns the greatest key in the channel, or the zero key.
func (l *Log) HighestKey(channelID string) OrderKey {
	c := l.channel(channelID, false)
	if c == nil {
		return OrderKey{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.highest
}

// CountAfter counts live messages ordered after key, skipping those sent by
// excludeSender.
func (l *Log) CountAfter(channelID string, key OrderKey, excludeSender string) int {
	c := l.channel(channelID, false)
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	start, _ := slices.BinarySearchFunc(c.msgs, key, func(m *Message, k OrderKey) int { return m.Key.Compare(k) })
	n := 0
	for _, m := range c.msgs[start:] {
		if m.Key.Compare(key) <= 0 || m.Deleted || m.Status == Failed || m.SenderID == excludeSender {
			continue
		}
		n++
	}
	return n
}

// Channels returns the IDs of channels that have a log.
func (l *Log) Channels() []string {
	l.mu.RLock()
	out := make([]string, 0, len(l.channels))
	for id := range l.channels {
		out = append(out, id)
	}
	l.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (l *Log) update(id string, fn func(m *Message) error) (Message, error) {
	c, err := l.channelOf(id)
	if err != nil {
		return Message{}, err
	}
	c.mu.Lock()
	m, ok := c.lookup(id)
	if !ok {
		c.mu.Unlock()
		return Message{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := fn(m); err != nil {
		c.mu.Unlock()
		return Message{}, err
	}
	out := m.Clone()
	c.mu.Unlock()

	l.bus.Emit(bus.MessageUpdated, out)
	return out, nil
}

func (l *Log) channel(id string, create bool) *channelLog {
	l.mu.RLock()
	c, ok := l.channels[id]
	l.mu.RUnlock()
	if ok || !create {
		return c
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok = l.channels[id]; ok {
		return c
	}
	c = &channelLog{byID: make(map[string]*Message), aliases: make(map[string]string)}
	l.channels[id] = c
	return c
}

func (l *Log) channelOf(id string) (*channelLog, error) {
	l.mu.RLock()
	channelID, ok := l.index[id]
	var c *channelLog
	if ok {
		c = l.channels[channelID]
	}
	l.mu.RUnlock()
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

func (l *Log) indexID(id, channelID string) {
	l.mu.Lock()
	l.index[id] = channelID
	l.mu.Unlock()
}

// lookup resolves an ID, following provisional aliases. Caller holds c.mu.
func (c *channelLog) lookup(id string) (*Message, bool) {
	if m, ok := c.byID[id]; ok {
		return m, true
	}
	if final, ok := c.aliases[id]; ok {
		m, ok := c.byID[final]
		return m, ok
	}
	return nil, false
}

func (c *channelLog) insert(m *Message) {
	i, _ := slices.BinarySearchFunc(c.msgs, m.Key, func(x *Message, k OrderKey) int { return x.Key.Compare(k) })
	c.msgs = slices.Insert(c.msgs, i, m)
}

func (c *channelLog) remove(m *Message) {
	i, found := slices.BinarySearchFunc(c.msgs, m.Key, func(x *Message, k OrderKey) int { return x.Key.Compare(k) })
	if found && c.msgs[i] == m {
		c.msgs = slices.Delete(c.msgs, i, i+1)
		return
	}
	if j := slices.Index(c.msgs, m); j >= 0 {
		c.msgs = slices.Delete(c.msgs, j, j+1)
	}
}
