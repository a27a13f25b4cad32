package readstate

import (
	"testing"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/directory"
	"github.com/matheus3301/parley/internal/msglog"
	"github.com/matheus3301/parley/internal/presence"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticAudience map[string][]string

func (a staticAudience) TextMembers(channelID string) []string { return a[channelID] }

type fixture struct {
	log     *msglog.Log
	tracker *Tracker
	bus     *bus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := bus.New()
	dir := directory.New(b)
	_, err := dir.Create(directory.Channel{ID: "room", Name: "general", Kind: directory.Text, ServerID: "s1"})
	require.NoError(t, err)
	_, err = dir.Create(directory.Channel{ID: "dm", Name: "a-b", Kind: directory.Text})
	require.NoError(t, err)
	_, err = dir.Create(directory.Channel{ID: "group", Name: "a-b-c", Kind: directory.Text})
	require.NoError(t, err)

	users := presence.NewRegistry(b, zap.NewNop(), presence.Options{})
	for _, id := range []string{"u1", "u2", "u3", "u4"} {
		_, err := users.Register(presence.User{ID: id})
		require.NoError(t, err)
	}

	log := msglog.New(b, zap.NewNop())
	audience := staticAudience{
		"room": {"u1", "u2", "u3", "u4"},
		"dm":    {"u1", "u2"},
		"group": {"u1", "u2", "u3"},
	}
	return &fixture{log: log, tracker: New(log, dir, audience, users, b, zap.NewNop()), bus: b}
}

func (f *fixture) post(t *testing.T, channelID, sender, body string) msglog.Message {
	t.Helper()
	m, err := f.log.Append(channelID, sender, msglog.Body{Kind: msglog.KindText, Text: body}, "")
	require.NoError(t, err)
	return m
}

func TestUnreadCountScenario(t *testing.T) {
	f := newFixture(t)
	f.post(t, "room", "u2", "one")
	f.post(t, "room", "u2", "two")
	third := f.post(t, "room", "u2", "three")

	n, err := f.tracker.UnreadCount("u1", "room")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	_, advanced, err := f.tracker.MarkRead("u1", "room", third.ID)
	require.NoError(t, err)
	require.True(t, advanced)
	n, err = f.tracker.UnreadCount("u1", "room")
	require.NoError(t, err)
	require.Zero(t, n)

	f.post(t, "room", "u2", "four")
	n, err = f.tracker.UnreadCount("u1", "room")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestUnreadExcludesOwnAndDeleted(t *testing.T) {
	f := newFixture(t)
	f.post(t, "room", "u1", "mine")
	other := f.post(t, "room", "u2", "theirs")
	f.post(t, "room", "u2", "more")

	n, err := f.tracker.UnreadCount("u1", "room")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, f.log.SoftDelete(other.ID))
	n, err = f.tracker.UnreadCount("u1", "room")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestMarkReadIsMonotonic(t *testing.T) {
	f := newFixture(t)
	first := f.post(t, "room", "u2", "a")
	second := f.post(t, "room", "u2", "b")

	events, unsub := f.bus.Subscribe(bus.ReadStateAdvanced, 8)
	defer unsub()

	_, _, err := f.tracker.MarkRead("u1", "room", second.ID)
	require.NoError(t, err)
	p, advanced, err := f.tracker.MarkRead("u1", "room", first.ID)
	require.NoError(t, err)
	require.False(t, advanced)
	require.Equal(t, second.ID, p.MessageID)

	_, advanced, err = f.tracker.MarkRead("u1", "room", second.ID)
	require.NoError(t, err)
	require.False(t, advanced)

	require.Len(t, events, 1)
	got, ok := f.tracker.Pointer("u1", "room")
	require.True(t, ok)
	require.Equal(t, second.ID, got.MessageID)
}

func TestMarkReadErrors(t *testing.T) {
	f := newFixture(t)
	m := f.post(t, "room", "u2", "a")

	_, _, err := f.tracker.MarkRead("u1", "nope", m.ID)
	require.ErrorIs(t, err, directory.ErrUnknownChannel)
	_, _, err = f.tracker.MarkRead("u1", "room", "missing")
	require.ErrorIs(t, err, msglog.ErrNotFound)
	_, _, err = f.tracker.MarkRead("u1", "dm", m.ID)
	require.ErrorIs(t, err, msglog.ErrNotFound)
	_, err = f.tracker.UnreadCount("u1", "nope")
	require.ErrorIs(t, err, directory.ErrUnknownChannel)

	_, advanced, err := f.tracker.MarkRead("ghost", "room", m.ID)
	require.ErrorIs(t, err, presence.ErrUnknownUser)
	require.False(t, advanced)
	_, ok := f.tracker.Pointer("ghost", "room")
	require.False(t, ok, "no pointer is created for an unknown user")
	_, err = f.tracker.UnreadCount("ghost", "room")
	require.ErrorIs(t, err, presence.ErrUnknownUser)
}

func TestPointerFollowsConfirmation(t *testing.T) {
	f := newFixture(t)
	pending, err := f.log.AppendPending("room", "u2", msglog.Body{Kind: msglog.KindText, Text: "in flight"}, "", "prov-1")
	require.NoError(t, err)

	_, advanced, err := f.tracker.MarkRead("u1", "room", pending.ID)
	require.NoError(t, err)
	require.True(t, advanced)
	n, err := f.tracker.UnreadCount("u1", "room")
	require.NoError(t, err)
	require.Zero(t, n)

	confirmed, err := f.log.Confirm("prov-1", "final-1", msglog.OrderKey{Seq: pending.Key.Seq, Tie: "final-1"})
	require.NoError(t, err)

	n, err = f.tracker.UnreadCount("u1", "room")
	require.NoError(t, err)
	require.Zero(t, n, "a message read while pending stays read once confirmed")

	p, ok := f.tracker.Pointer("u1", "room")
	require.True(t, ok)
	require.Equal(t, "final-1", p.MessageID)
	require.Equal(t, confirmed.Key, p.Key)

	_, advanced, err = f.tracker.MarkRead("u1", "room", "final-1")
	require.NoError(t, err)
	require.False(t, advanced)

	r, err := f.tracker.Receipt("final-1")
	require.NoError(t, err)
	require.Equal(t, 1, r.SeenBy)
}

func TestReceipts(t *testing.T) {
	f := newFixture(t)

	dm := f.post(t, "dm", "u1", "hey")
	r, err := f.tracker.Receipt(dm.ID)
	require.NoError(t, err)
	require.True(t, r.Direct)
	require.False(t, r.Seen)

	_, _, err = f.tracker.MarkRead("u2", "dm", dm.ID)
	require.NoError(t, err)
	r, err = f.tracker.Receipt(dm.ID)
	require.NoError(t, err)
	require.True(t, r.Seen)

	a := f.post(t, "room", "u1", "a")
	b := f.post(t, "room", "u1", "b")
	_, _, err = f.tracker.MarkRead("u2", "room", b.ID)
	require.NoError(t, err)
	_, _, err = f.tracker.MarkRead("u3", "room", a.ID)
	require.NoError(t, err)

	r, err = f.tracker.Receipt(a.ID)
	require.NoError(t, err)
	require.False(t, r.Direct)
	require.Equal(t, 3, r.Audience)
	require.Equal(t, 2, r.SeenBy)

	r, err = f.tracker.Receipt(b.ID)
	require.NoError(t, err)
	require.Equal(t, 1, r.SeenBy)
	require.False(t, r.Seen)
}

func TestGroupDirectReceiptNeedsEveryMember(t *testing.T) {
	f := newFixture(t)
	m := f.post(t, "group", "u1", "hi both")

	_, _, err := f.tracker.MarkRead("u2", "group", m.ID)
	require.NoError(t, err)
	r, err := f.tracker.Receipt(m.ID)
	require.NoError(t, err)
	require.True(t, r.Direct)
	require.Equal(t, 2, r.Audience)
	require.Equal(t, 1, r.SeenBy)
	require.False(t, r.Seen, "one of two readers is not seen")

	_, _, err = f.tracker.MarkRead("u3", "group", m.ID)
	require.NoError(t, err)
	r, err = f.tracker.Receipt(m.ID)
	require.NoError(t, err)
	require.True(t, r.Seen)
}

func TestRestoreKeepsNewest(t *testing.T) {
	f := newFixture(t)
	f.tracker.Restore([]Pointer{
		{UserID: "u1", ChannelID: "room", MessageID: "b", Key: msglog.OrderKey{Seq: 2, Tie: "b"}},
		{UserID: "u1", ChannelID: "room", MessageID: "a", Key: msglog.OrderKey{Seq: 1, Tie: "a"}},
	})
	p, ok := f.tracker.Pointer("u1", "room")
	require.True(t, ok)
	require.Equal(t, "b", p.MessageID)
}
