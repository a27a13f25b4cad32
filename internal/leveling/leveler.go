package leveling

import (
	"context"
	"errors"
	"sync"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/delivery"
	"github.com/matheus3301/parley/internal/presence"
	"go.uber.org/zap"
)

const DefaultXPPerMessage = 10

// Awarder grants experience points.
type Awarder interface {
	AwardXP(userID string, amount int) (presence.User, error)
}

// Leveler awards XP to the sender of every acknowledged message.
type Leveler struct {
	awarder Awarder
	bus     *bus.Bus
	logger  *zap.Logger
	xp      int

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New creates a leveler. xpPerMessage <= 0 uses DefaultXPPerMessage.
func New(awarder Awarder, b *bus.Bus, logger *zap.Logger, xpPerMessage int) *Leveler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if xpPerMessage <= 0 {
		xpPerMessage = DefaultXPPerMessage
	}
	return &Leveler{awarder: awarder, bus: b, logger: logger, xp: xpPerMessage}
}

// Start subscribes to acknowledgments and processes them until ctx ends or Stop.
func (l *Leveler) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	events, unsub := l.bus.Subscribe(bus.MessageSendAck, 256)
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		defer unsub()
		for {
			select {
			case evt := <-events:
				l.handle(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the subscription and waits for the loop to exit.
func (l *Leveler) Stop() {
	l.once.Do(func() {
		if l.cancel != nil {
			l.cancel()
			<-l.done
		}
	})
}

func (l *Leveler) handle(evt bus.Event) {
	d, ok := evt.Payload.(delivery.Delivered)
	if !ok {
		return
	}
	u, err := l.awarder.AwardXP(d.Message.SenderID, l.xp)
	if err != nil {
		if errors.Is(err, presence.ErrUnknownUser) {
			return
		}
		l.logger.Error("failed to award xp", zap.Error(err), zap.String("user", d.Message.SenderID))
		return
	}
	l.logger.Debug("xp awarded", zap.String("user", u.ID), zap.Int("level", u.Level), zap.Int("xp", u.XP))
}
