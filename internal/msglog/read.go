package msglog

import (
	"fmt"
	"iter"
	"strings"
)

// Filter narrows a Read. Set fields combine conjunctively.
type Filter struct {
	Sender         string
	Keyword        string
	Kind           Kind
	AfterID        string
	IncludeDeleted bool
}

func (f Filter) match(m *Message, keyword string) bool {
	if m.Deleted && !f.IncludeDeleted {
		return false
	}
	if f.Sender != "" && m.SenderID != f.Sender {
		return false
	}
	if f.Kind != "" && m.Body.Kind != f.Kind {
		return false
	}
	if keyword != "" && !strings.Contains(strings.ToLower(m.Body.Text), keyword) {
		return false
	}
	return true
}

// Read returns the channel's messages in ascending key order. The sequence
// is lazy and restartable: every range takes a fresh snapshot of the channel,
// so writes made while iterating never corrupt it.
func (l *Log) Read(channelID string, f Filter) (iter.Seq[View], error) {
	var after *OrderKey
	if f.AfterID != "" {
		ch, key, err := l.KeyOf(f.AfterID)
		if err != nil {
			return nil, err
		}
		if ch != channelID {
			return nil, fmt.Errorf("%w: %s in channel %s", ErrNotFound, f.AfterID, channelID)
		}
		after = &key
	}
	keyword := strings.ToLower(f.Keyword)

	return func(yield func(View) bool) {
		snap := l.snapshot(channelID)
		for _, m := range snap.msgs {
			if after != nil && m.Key.Compare(*after) <= 0 {
				continue
			}
			if !f.match(m, keyword) {
				continue
			}
			if !yield(snap.view(m)) {
				return
			}
		}
	}, nil
}

// Recent returns up to n of the latest live messages in ascending order.
func (l *Log) Recent(channelID string, n int) []View {
	snap := l.snapshot(channelID)
	var out []View
	for i := len(snap.msgs) - 1; i >= 0 && len(out) < n; i-- {
		if m := snap.msgs[i]; !m.Deleted {
			out = append(out, snap.view(m))
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

type snapshot struct {
	msgs    []*Message
	byID    map[string]*Message
	aliases map[string]string
}

func (l *Log) snapshot(channelID string) snapshot {
	c := l.channel(channelID, false)
	if c == nil {
		return snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := snapshot{
		msgs:    make([]*Message, len(c.msgs)),
		byID:    make(map[string]*Message, len(c.msgs)),
		aliases: make(map[string]string, len(c.aliases)),
	}
	for i, m := range c.msgs {
		cp := m.Clone()
		s.msgs[i] = &cp
		s.byID[cp.ID] = &cp
	}
	for k, v := range c.aliases {
		s.aliases[k] = v
	}
	return s
}

func (s snapshot) view(m *Message) View {
	v := View{Message: *m}
	if m.ReplyTo == "" {
		return v
	}
	id := m.ReplyTo
	if final, ok := s.aliases[id]; ok {
		id = final
	}
	r := &Reply{ID: id}
	if target, ok := s.byID[id]; ok && !target.Deleted {
		r.Available = true
		r.SenderID = target.SenderID
		r.Text = target.Body.Text
	}
	v.Reply = r
	return v
}
