package persist

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/delivery"
	"github.com/matheus3301/parley/internal/directory"
	"github.com/matheus3301/parley/internal/membership"
	"github.com/matheus3301/parley/internal/msglog"
	"github.com/matheus3301/parley/internal/presence"
	"github.com/matheus3301/parley/internal/readstate"
	"github.com/matheus3301/parley/internal/store"
	"go.uber.org/zap"
)

const (
	bufferSize    = 1024
	maxBatch      = 256
	flushInterval = 30 * time.Second
)

// Users supplies current user records for snapshots.
type Users interface {
	User(userID string) (presence.User, error)
	Users() []presence.User
}

// Persister writes domain events to the store behind the callers' backs.
// Callers never wait on disk: events are drained from the bus and applied
// in batches. Only durably accepted messages are written.
type Persister struct {
	db     *store.DB
	bus    *bus.Bus
	users  Users
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New creates a persister.
func New(db *store.DB, b *bus.Bus, users Users, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{db: db, bus: b, users: users, logger: logger}
}

// Start subscribes to the bus and begins writing.
func (p *Persister) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	ch, unsub := p.bus.Subscribe("", bufferSize)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		defer unsub()
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()
		for {
			select {
			case evt := <-ch:
				batch := []bus.Event{evt}
			drain:
				for len(batch) < maxBatch {
					select {
					case evt := <-ch:
						batch = append(batch, evt)
					default:
						break drain
					}
				}
				p.apply(batch)
			case <-ticker.C:
				p.snapshotUsers()
			case <-ctx.Done():
				p.apply(drainAll(ch))
				p.snapshotUsers()
				return
			}
		}
	}()
}

func drainAll(ch <-chan bus.Event) []bus.Event {
	var out []bus.Event
	for {
		select {
		case evt := <-ch:
			out = append(out, evt)
		default:
			return out
		}
	}
}

// Stop flushes queued events and stops the persister.
func (p *Persister) Stop() {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
			<-p.done
		}
	})
}

func (p *Persister) apply(events []bus.Event) {
	var msgs []msglog.Message
	var confirmed []msglog.Confirmation
	for _, evt := range events {
		if c, ok := evt.Payload.(msglog.Confirmation); ok && c.ProvisionalID != c.Message.ID {
			confirmed = append(confirmed, c)
		}
		if m, ok := durableMessage(evt); ok {
			msgs = append(msgs, m)
			continue
		}
		p.handleEvent(evt)
	}
	if len(msgs) > 0 {
		if err := p.db.UpsertMessages(msgs); err != nil {
			p.logger.Error("failed to persist messages", zap.Error(err), zap.Int("count", len(msgs)))
		} else {
			p.logger.Debug("messages persisted", zap.Int("count", len(msgs)))
		}
	}
	// Pointers set while a message was pending follow it to its final ID.
	for _, c := range confirmed {
		if _, err := p.db.RekeyReadPointers(c.ProvisionalID, c.Message); err != nil {
			p.logger.Error("failed to rekey read pointers", zap.Error(err), zap.String("provisional_id", c.ProvisionalID))
		}
	}
}

// durableMessage extracts a message that must be written from a message event.
func durableMessage(evt bus.Event) (msglog.Message, bool) {
	var m msglog.Message
	switch payload := evt.Payload.(type) {
	case msglog.Message:
		m = payload
	case msglog.Confirmation:
		m = payload.Message
	case msglog.Removal:
		if payload.Physical {
			return msglog.Message{}, false
		}
		m = payload.Message
	default:
		return msglog.Message{}, false
	}
	return m, m.Status == msglog.Sent
}

func (p *Persister) handleEvent(evt bus.Event) {
	var err error
	switch payload := evt.Payload.(type) {
	case presence.User:
		err = p.db.UpsertUser(payload)
	case presence.Change:
		err = p.saveUser(payload.UserID)
	case directory.Channel:
		err = p.db.InsertChannel(payload)
	case readstate.Pointer:
		err = p.db.UpsertReadPointer(payload)
	case delivery.Delivered:
		mp := delivery.Mapping{
			ProvisionalID: payload.ProvisionalID,
			FinalID:       payload.Message.ID,
			FinalKey:      payload.Message.Key,
			ConfirmedAt:   evt.Timestamp,
		}
		err = p.db.SaveMapping(payload.Message.ChannelID, mp)
	case membership.TextChange:
		if evt.Kind == bus.TextJoined {
			err = p.db.AddTextMember(payload.ChannelID, payload.UserID)
		} else {
			err = p.db.RemoveTextMember(payload.ChannelID, payload.UserID)
		}
	}
	if err != nil {
		p.logger.Error("failed to persist event", zap.Error(err), zap.String("kind", evt.Kind))
	}
}

func (p *Persister) saveUser(userID string) error {
	u, err := p.users.User(userID)
	if err != nil {
		return err
	}
	return p.db.UpsertUser(u)
}

// snapshotUsers writes every user so heartbeat times survive a restart.
func (p *Persister) snapshotUsers() {
	if p.users == nil {
		return
	}
	for _, u := range p.users.Users() {
		if err := p.db.UpsertUser(u); err != nil {
			p.logger.Error("failed to snapshot user", zap.Error(err), zap.String("user", u.ID))
			return
		}
	}
}
