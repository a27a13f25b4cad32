package membership

import (
	"context"
	"sync"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/presence"
	"go.uber.org/zap"
)

// Liveness reports a user's current presence.
type Liveness interface {
	Presence(userID string) (presence.Presence, error)
}

// Reaper removes users from voice channels when their presence expires or
// they disconnect.
type Reaper struct {
	mgr    *Manager
	users  Liveness
	bus    *bus.Bus
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewReaper creates a reaper for mgr. Expiry events are checked against
// users before any member is dropped.
func NewReaper(mgr *Manager, users Liveness, b *bus.Bus, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{mgr: mgr, users: users, bus: b, logger: logger}
}

// Start follows presence expiries until ctx ends or Stop.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	events, unsub := r.bus.Subscribe(bus.PresenceExpired, 256)
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		defer unsub()
		for {
			select {
			case evt := <-events:
				r.handle(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the subscription and waits for the loop to exit.
func (r *Reaper) Stop() {
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
			<-r.done
		}
	})
}

func (r *Reaper) handle(evt bus.Event) {
	x, ok := evt.Payload.(presence.Expiry)
	if !ok {
		return
	}
	if _, in := r.mgr.VoiceChannelOf(x.UserID); !in {
		return
	}
	// The event may be older than a heartbeat that revived the user.
	p, err := r.users.Presence(x.UserID)
	if err != nil || !p.Stale || !p.LastSeen.Equal(x.LastSeen) {
		r.logger.Debug("user live again, keeping voice", zap.String("user", x.UserID))
		return
	}
	r.logger.Debug("reaping voice member", zap.String("user", x.UserID), zap.String("reason", x.Reason))
	r.mgr.Disconnect(x.UserID)
}
