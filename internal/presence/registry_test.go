package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRegistry(t *testing.T, b *bus.Bus) (*Registry, *fakeClock) {
	t.Helper()
	clock := newClock()
	r := NewRegistry(b, nil, Options{Timeout: 45 * time.Second, Now: clock.Now})
	_, err := r.Register(User{ID: "u1", DisplayName: "Ada"})
	require.NoError(t, err)
	return r, clock
}

func TestSetStatusUnknownUser(t *testing.T) {
	r, _ := newRegistry(t, nil)
	require.ErrorIs(t, r.SetStatus("ghost", Online), ErrUnknownUser)
	require.ErrorIs(t, r.Heartbeat("ghost"), ErrUnknownUser)
	_, err := r.Presence("ghost")
	require.ErrorIs(t, err, ErrUnknownUser)
}

func TestSetStatusRejectsInActivity(t *testing.T) {
	r, _ := newRegistry(t, nil)
	require.ErrorIs(t, r.SetStatus("u1", InActivity), ErrInvalidStatus)
}

func TestRegisterDefaults(t *testing.T) {
	r, _ := newRegistry(t, nil)
	u, err := r.User("u1")
	require.NoError(t, err)
	require.Equal(t, Offline, u.Status)
	require.Equal(t, 1, u.Level)
	require.Equal(t, 0, u.XP)
}

func TestPresenceStaleness(t *testing.T) {
	r, clock := newRegistry(t, nil)

	require.NoError(t, r.SetStatus("u1", Online))
	p, err := r.Presence("u1")
	require.NoError(t, err)
	require.Equal(t, Online, p.Status)
	require.False(t, p.Stale)

	clock.Advance(46 * time.Second)

	p, err = r.Presence("u1")
	require.NoError(t, err)
	require.Equal(t, Offline, p.Status, "stale user must be reported offline")
	require.True(t, p.Stale)
	require.Equal(t, Online, p.Explicit, "explicit status is kept internally")

	require.NoError(t, r.Heartbeat("u1"))
	p, _ = r.Presence("u1")
	require.Equal(t, Online, p.Status)
	require.False(t, p.Stale)
}

func TestHeartbeatKeepsExplicitStatus(t *testing.T) {
	r, clock := newRegistry(t, nil)
	require.NoError(t, r.SetStatus("u1", DND))
	for range 5 {
		clock.Advance(30 * time.Second)
		require.NoError(t, r.Heartbeat("u1"))
	}
	p, _ := r.Presence("u1")
	require.Equal(t, DND, p.Status)
}

func TestActivityIsOrthogonal(t *testing.T) {
	r, _ := newRegistry(t, nil)
	require.NoError(t, r.SetStatus("u1", Idle))
	require.NoError(t, r.SetActivity("u1", "Ranked match"))

	p, _ := r.Presence("u1")
	require.Equal(t, InActivity, p.Status)
	require.Equal(t, Idle, p.Explicit)
	require.Equal(t, "Ranked match", p.Activity)

	require.NoError(t, r.SetActivity("u1", ""))
	p, _ = r.Presence("u1")
	require.Equal(t, Idle, p.Status)
}

func TestStatusChangeEvents(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("presence.", 16)
	defer unsub()
	r, _ := newRegistry(t, b)

	require.NoError(t, r.SetStatus("u1", Online))
	evt := <-ch
	require.Equal(t, bus.PresenceChanged, evt.Kind)
	change := evt.Payload.(Change)
	require.Equal(t, Change{UserID: "u1", From: Offline, To: Online, Reason: ReasonExplicit}, change)

	// Same status again: no event.
	require.NoError(t, r.SetStatus("u1", Online))
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSweepReportsStaleOnce(t *testing.T) {
	b := bus.New()
	r, clock := newRegistry(t, b)
	require.NoError(t, r.SetStatus("u1", Online))

	ch, unsub := b.Subscribe(bus.PresenceChanged, 16)
	defer unsub()

	require.Empty(t, r.Sweep())
	clock.Advance(time.Minute)
	require.Equal(t, []string{"u1"}, r.Sweep())
	require.Empty(t, r.Sweep(), "stale transition reported once")

	evt := <-ch
	require.Equal(t, ReasonStale, evt.Payload.(Change).Reason)
}

func TestExpiryPublishedWhateverTheReportedStatus(t *testing.T) {
	b := bus.New()
	r, clock := newRegistry(t, b)
	_, err := r.Register(User{ID: "u2"})
	require.NoError(t, err)

	require.NoError(t, r.SetStatus("u1", Offline))
	require.NoError(t, r.SetStatus("u2", Offline))

	ch, unsub := b.Subscribe(bus.PresenceExpired, 8)
	defer unsub()

	// u2 reports offline already; the disconnect still ends its liveness.
	require.NoError(t, r.Disconnect("u2"))
	evt := <-ch
	x := evt.Payload.(Expiry)
	require.Equal(t, "u2", x.UserID)
	require.Equal(t, ReasonDisconnect, x.Reason)
	require.Equal(t, clock.Now(), x.LastSeen)

	clock.Advance(time.Minute)
	require.Equal(t, []string{"u1"}, r.Sweep(), "disconnected users are not reported twice")
	evt = <-ch
	x = evt.Payload.(Expiry)
	require.Equal(t, "u1", x.UserID)
	require.Equal(t, ReasonStale, x.Reason)
}

func TestSetStatusStoresCanonicalValue(t *testing.T) {
	r, _ := newRegistry(t, nil)
	require.NoError(t, r.SetStatus("u1", "ONLINE"))
	u, err := r.User("u1")
	require.NoError(t, err)
	require.Equal(t, Online, u.Status)
	p, _ := r.Presence("u1")
	require.Equal(t, Online, p.Status)
}

func TestDisconnect(t *testing.T) {
	r, _ := newRegistry(t, nil)
	require.NoError(t, r.SetStatus("u1", Online))
	require.NoError(t, r.Disconnect("u1"))

	p, _ := r.Presence("u1")
	require.Equal(t, Offline, p.Status)
	require.True(t, p.Stale)

	require.NoError(t, r.SetStatus("u1", Idle))
	p, _ = r.Presence("u1")
	require.Equal(t, Idle, p.Status)
}

func TestAwardXP(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.PresenceLevelUp, 4)
	defer unsub()
	r, _ := newRegistry(t, b)

	u, err := r.AwardXP("u1", 90)
	require.NoError(t, err)
	require.Equal(t, 1, u.Level)
	require.Equal(t, 90, u.XP)

	// 90+320 = 410: level 1 needs 100 (-> 310, L2), level 2 needs 200 (-> 110, L3).
	u, err = r.AwardXP("u1", 320)
	require.NoError(t, err)
	require.Equal(t, 3, u.Level)
	require.Equal(t, 110, u.XP)
	require.Less(t, u.XP, Threshold(u.Level))

	require.Equal(t, 2, (<-ch).Payload.(LevelUp).Level)
	require.Equal(t, 3, (<-ch).Payload.(LevelUp).Level)

	_, err = r.AwardXP("u1", -1)
	require.Error(t, err)
}

func TestRemoveIsSoft(t *testing.T) {
	r, _ := newRegistry(t, nil)
	require.NoError(t, r.Remove("u1"))
	require.False(t, r.Exists("u1"))

	u, err := r.User("u1")
	require.NoError(t, err)
	require.True(t, u.Removed)

	_, err = r.Register(User{ID: "u1", DisplayName: "Ada L."})
	require.NoError(t, err)
	require.True(t, r.Exists("u1"))
}

func TestRestoredUsersStartStale(t *testing.T) {
	r := NewRegistry(nil, nil, Options{})
	r.Restore([]User{{ID: "u2", Status: Online, Level: 4, XP: 12}})
	p, err := r.Presence("u2")
	require.NoError(t, err)
	require.Equal(t, Offline, p.Status)
	require.NoError(t, r.Heartbeat("u2"))
	p, _ = r.Presence("u2")
	require.Equal(t, Online, p.Status)
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"online", Online, false},
		{"DND", DND, false},
		{"idle", Idle, false},
		{"offline", Offline, false},
		{"in-activity", "", true},
		{"away", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
