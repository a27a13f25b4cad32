package msglog

import (
	"fmt"

	"github.com/forPelevin/gomoji"
)

// ValidateReaction checks that the reaction is exactly one emoji.
func ValidateReaction(reaction string) error {
	found := gomoji.CollectAll(reaction)
	if len(found) != 1 || found[0].Character != reaction {
		return fmt.Errorf("%w: %q", ErrInvalidReaction, reaction)
	}
	return nil
}

// AddReaction increments the emoji's counter and returns the new totals.
func (l *Log) AddReaction(id, emoji string) (map[string]int, error) {
	if err := ValidateReaction(emoji); err != nil {
		return nil, err
	}
	m, err := l.update(id, func(m *Message) error {
		if m.Deleted {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if m.Reactions == nil {
			m.Reactions = make(map[string]int)
		}
		m.Reactions[emoji]++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.Reactions, nil
}

// RemoveReaction decrements the emoji's counter, never below zero. Removing
// a reaction that was never added changes nothing.
func (l *Log) RemoveReaction(id, emoji string) (map[string]int, error) {
	if err := ValidateReaction(emoji); err != nil {
		return nil, err
	}
	c, err := l.channelOf(id)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	m, ok := c.lookup(id)
	var present bool
	var current map[string]int
	if ok {
		present = m.Reactions[emoji] > 0
		current = m.Clone().Reactions
	}
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !present {
		return current, nil
	}

	out, err := l.update(id, func(m *Message) error {
		if m.Reactions[emoji] <= 1 {
			delete(m.Reactions, emoji)
			return nil
		}
		m.Reactions[emoji]--
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Reactions, nil
}
