package membership

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/directory"
	"github.com/matheus3301/parley/internal/presence"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	bus   *bus.Bus
	users *presence.Registry
	dir   *directory.Directory
	mgr   *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := bus.New()
	users := presence.NewRegistry(b, zap.NewNop(), presence.Options{})
	dir := directory.New(b)
	for _, id := range []string{"u1", "u2"} {
		_, err := users.Register(presence.User{ID: id, DisplayName: id})
		require.NoError(t, err)
	}
	for _, c := range []directory.Channel{
		{ID: "v1", Name: "lounge", Kind: directory.Voice, ServerID: "s1"},
		{ID: "v2", Name: "gaming", Kind: directory.Voice, ServerID: "s1"},
		{ID: "t1", Name: "general", Kind: directory.Text, ServerID: "s1"},
	} {
		_, err := dir.Create(c)
		require.NoError(t, err)
	}
	return &fixture{bus: b, users: users, dir: dir, mgr: NewManager(users, dir, b, zap.NewNop())}
}

func userIDs(members []VoiceMember) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.UserID
	}
	return out
}

func TestJoinVoiceMovesBetweenChannels(t *testing.T) {
	f := newFixture(t)

	members, err := f.mgr.JoinVoice("u1", "v1")
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, userIDs(members))

	members, err = f.mgr.JoinVoice("u1", "v2")
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, userIDs(members))
	require.Empty(t, f.mgr.VoiceMembers("v1"))

	ch, ok := f.mgr.VoiceChannelOf("u1")
	require.True(t, ok)
	require.Equal(t, "v2", ch)
}

func TestJoinVoiceSameChannelKeepsFlags(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.JoinVoice("u1", "v1")
	require.NoError(t, err)
	_, err = f.mgr.SetMemberFlag("u1", "v1", Muted, true)
	require.NoError(t, err)

	members, err := f.mgr.JoinVoice("u1", "v1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.True(t, members[0].Muted)
}

func TestJoinVoiceErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.JoinVoice("u1", "t1")
	require.ErrorIs(t, err, ErrChannelNotVoice)

	_, err = f.mgr.JoinVoice("u1", "nope")
	require.ErrorIs(t, err, directory.ErrUnknownChannel)

	_, err = f.mgr.JoinVoice("ghost", "v1")
	require.ErrorIs(t, err, presence.ErrUnknownUser)
}

func TestConcurrentJoinsLeaveExactlyOneChannel(t *testing.T) {
	f := newFixture(t)
	events, unsub := f.bus.Subscribe("voice.", 512)
	defer unsub()

	_, err := f.mgr.JoinVoice("u1", "v1")
	require.NoError(t, err)

	stop := make(chan struct{})
	violations := make(chan int, 1)
	go func() {
		for {
			select {
			case <-stop:
				close(violations)
				return
			default:
			}
			f.mgr.mu.RLock()
			n := 0
			for _, ch := range []string{"v1", "v2"} {
				if _, ok := f.mgr.voice[ch]["u1"]; ok {
					n++
				}
			}
			f.mgr.mu.RUnlock()
			if n != 1 {
				violations <- n
				close(violations)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := range 100 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := "v1"
			if i%2 == 1 {
				target = "v2"
			}
			if _, err := f.mgr.JoinVoice("u1", target); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(stop)
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	for n := range violations {
		t.Fatalf("observed u1 in %d voice channels", n)
	}

	in := 0
	for _, ch := range []string{"v1", "v2"} {
		for _, m := range f.mgr.VoiceMembers(ch) {
			if m.UserID == "u1" {
				in++
			}
		}
	}
	require.Equal(t, 1, in)

	// Per-user sequencing keeps join/leave events strictly alternating.
	joined := 0
	for {
		select {
		case evt := <-events:
			switch evt.Kind {
			case bus.VoiceJoined:
				joined++
			case bus.VoiceLeft:
				joined--
			}
			require.GreaterOrEqual(t, joined, 0)
			require.LessOrEqual(t, joined, 1)
		default:
			require.Equal(t, 1, joined)
			return
		}
	}
}

func TestLeaveVoiceNoopWhenAbsent(t *testing.T) {
	f := newFixture(t)
	events, unsub := f.bus.Subscribe("voice.", 8)
	defer unsub()

	require.NoError(t, f.mgr.LeaveVoice("u1", "v1"))
	select {
	case evt := <-events:
		t.Fatalf("unexpected event %s", evt.Kind)
	case <-time.After(20 * time.Millisecond):
	}

	_, err := f.mgr.JoinVoice("u1", "v1")
	require.NoError(t, err)
	require.NoError(t, f.mgr.LeaveVoice("u1", "v2"))
	require.Len(t, f.mgr.VoiceMembers("v1"), 1)

	require.NoError(t, f.mgr.LeaveVoice("u1", "v1"))
	require.Empty(t, f.mgr.VoiceMembers("v1"))
	_, ok := f.mgr.VoiceChannelOf("u1")
	require.False(t, ok)
}

func TestDeafenImpliesMute(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.JoinVoice("u1", "v1")
	require.NoError(t, err)

	m, err := f.mgr.SetMemberFlag("u1", "v1", Deafened, true)
	require.NoError(t, err)
	require.True(t, m.Deafened)
	require.True(t, m.Muted)

	m, err = f.mgr.SetMemberFlag("u1", "v1", Deafened, false)
	require.NoError(t, err)
	require.False(t, m.Deafened)
	require.True(t, m.Muted, "undeafen must not unmute")

	m, err = f.mgr.SetMemberFlag("u1", "v1", Video, true)
	require.NoError(t, err)
	require.True(t, m.Video)
}

func TestSetMemberFlagNotAMember(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.SetMemberFlag("u1", "v1", Muted, true)
	require.ErrorIs(t, err, ErrNotAMember)

	_, err = f.mgr.JoinVoice("u1", "v2")
	require.NoError(t, err)
	_, err = f.mgr.SetMemberFlag("u1", "v1", Muted, true)
	require.ErrorIs(t, err, ErrNotAMember)

	_, err = f.mgr.SetMemberFlag("u1", "v2", Flag("loud"), true)
	require.ErrorIs(t, err, ErrInvalidFlag)
}

func TestDisconnectDropsVoice(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.JoinVoice("u1", "v1")
	require.NoError(t, err)
	_, err = f.mgr.JoinVoice("u2", "v1")
	require.NoError(t, err)

	f.mgr.Disconnect("u1")
	f.mgr.Disconnect("u1")
	require.Equal(t, []string{"u2"}, userIDs(f.mgr.VoiceMembers("v1")))
}

func TestTextMembership(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.JoinText("u2", "t1"))
	require.NoError(t, f.mgr.JoinText("u1", "t1"))
	require.NoError(t, f.mgr.JoinText("u1", "t1"))
	require.Equal(t, []string{"u1", "u2"}, f.mgr.TextMembers("t1"))
	require.True(t, f.mgr.IsTextMember("u1", "t1"))

	f.mgr.LeaveText("u1", "t1")
	require.Equal(t, []string{"u2"}, f.mgr.TextMembers("t1"))

	require.ErrorIs(t, f.mgr.JoinText("u1", "v1"), ErrChannelNotText)
}

func TestParseFlag(t *testing.T) {
	for _, s := range []string{"muted", "DEAFENED", "video"} {
		_, err := ParseFlag(s)
		require.NoError(t, err, s)
	}
	_, err := ParseFlag("x")
	require.ErrorIs(t, err, ErrInvalidFlag)
	require.Contains(t, fmt.Sprint(err), `"x"`)
}

func TestRestoreTextIsSilent(t *testing.T) {
	f := newFixture(t)
	events, unsub := f.bus.Subscribe("text.", 4)
	defer unsub()

	f.mgr.RestoreText(map[string][]string{"t1": {"u2", "u1"}})
	require.Equal(t, []string{"u1", "u2"}, f.mgr.TextMembers("t1"))
	require.Empty(t, events)

	f.mgr.LeaveText("u1", "t1")
	f.mgr.LeaveText("u1", "t1")
	require.Len(t, events, 1)
}
