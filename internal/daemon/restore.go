package daemon

import (
	"fmt"
	"time"

	"github.com/matheus3301/parley/internal/presence"
	"go.uber.org/zap"
)

// restore loads persisted state into the in-memory components. Nothing here
// emits events, so the persister does not write the same rows back.
func restore(p lifecycleParams) error {
	logger := p.Logger

	users, err := p.DB.ListUsers()
	if err != nil {
		return fmt.Errorf("restore users: %w", err)
	}
	p.Registry.Restore(users)

	channels, err := p.DB.ListChannels()
	if err != nil {
		return fmt.Errorf("restore channels: %w", err)
	}
	p.Directory.Restore(channels)

	chans, err := p.DB.MessageChannels()
	if err != nil {
		return fmt.Errorf("restore message channels: %w", err)
	}
	restored := 0
	for _, ch := range chans {
		msgs, err := p.DB.ListMessages(ch, p.Config.History.RestoreLimit)
		if err != nil {
			return fmt.Errorf("restore messages of %s: %w", ch, err)
		}
		p.Log.Restore(ch, msgs)
		p.Sequencer.Seed(ch, p.Log.HighestKey(ch).Seq)
		restored += len(msgs)
	}

	pointers, err := p.DB.ListReadPointers()
	if err != nil {
		return fmt.Errorf("restore read pointers: %w", err)
	}
	p.Tracker.Restore(pointers)

	members, err := p.DB.ListTextMembers()
	if err != nil {
		return fmt.Errorf("restore text members: %w", err)
	}
	p.Membership.RestoreText(members)

	mappings, err := p.DB.ListMappings(time.Now().Add(-p.Config.Delivery.MappingRetention))
	if err != nil {
		return fmt.Errorf("restore id mappings: %w", err)
	}
	p.Coordinator.Restore(mappings)

	if p.Config.Companion.Endpoint != "" && !p.Registry.Exists(p.Companion.BotID()) {
		if _, err := p.Registry.Register(presence.User{ID: p.Companion.BotID(), DisplayName: "Companion"}); err != nil {
			return fmt.Errorf("register companion: %w", err)
		}
	}

	logger.Info("restored",
		zap.Int("users", len(users)),
		zap.Int("channels", len(channels)),
		zap.Int("messages", restored),
		zap.Int("read_pointers", len(pointers)),
		zap.Int("mappings", len(mappings)))
	return nil
}
