package daemon

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/matheus3301/parley/internal/api"
	"github.com/matheus3301/parley/internal/client"
	"github.com/matheus3301/parley/internal/config"
	"github.com/matheus3301/parley/internal/lock"
	"github.com/matheus3301/parley/internal/profile"
	"go.uber.org/fx"
)

func testHome(t *testing.T) {
	t.Helper()
	// Use a short path to avoid the 104-char Unix socket limit on macOS.
	dir, err := os.MkdirTemp("/tmp", "parley-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv("PARLEY_HOME", dir)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.LogLevel = "warn"
	cfg.Delivery.AckTimeout = time.Second
	cfg.Delivery.SendRate = 0
	return cfg
}

func startApp(t *testing.T, name string) *fx.App {
	t.Helper()
	app := fx.New(Module(Params{Profile: name, Config: testConfig()}), fx.NopLogger)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	return app
}

func stopApp(t *testing.T, app *fx.App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		t.Errorf("stop daemon: %v", err)
	}
}

func dial(t *testing.T, name string) *client.Client {
	t.Helper()
	c, err := client.New(profile.SocketPath(name))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitSent(t *testing.T, c *client.Client, channelID string, n int) []api.Message {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(3 * time.Second)
	for {
		r, err := c.Chat.Read(ctx, &api.ReadRequest{ChannelID: channelID})
		if err != nil {
			t.Fatal(err)
		}
		sent := 0
		for _, m := range r.Messages {
			if m.Status == "sent" {
				sent++
			}
		}
		if sent == n && len(r.Messages) == n {
			return r.Messages
		}
		if time.Now().After(deadline) {
			t.Fatalf("messages not confirmed: %+v", r.Messages)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	testHome(t)
	app := startApp(t, "test")
	c := dial(t, "test")
	ctx := context.Background()

	st, err := c.Admin.Status(ctx)
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if st.Profile != "test" {
		t.Errorf("profile = %q, want test", st.Profile)
	}
	if st.State != "READY" {
		t.Errorf("state = %q, want READY", st.State)
	}

	for _, id := range []string{"ana", "bo"} {
		if _, err := c.Presence.Register(ctx, &api.RegisterRequest{UserID: id, DisplayName: id}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.Chat.CreateChannel(ctx, &api.CreateChannelRequest{ID: "general", Name: "general", Kind: "text", ServerID: "s1"}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"ana", "bo"} {
		if err := c.Chat.JoinText(ctx, id, "general"); err != nil {
			t.Fatal(err)
		}
	}
	for _, text := range []string{"first", "second"} {
		if _, err := c.Chat.Send(ctx, &api.SendRequest{ChannelID: "general", SenderID: "ana", Body: api.Body{Text: text}}); err != nil {
			t.Fatal(err)
		}
	}
	msgs := waitSent(t, c, "general", 2)
	if _, err := c.Chat.MarkRead(ctx, &api.MarkReadRequest{UserID: "bo", ChannelID: "general", MessageID: msgs[0].ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Chat.React(ctx, &api.ReactRequest{MessageID: msgs[1].ID, Emoji: "🎉"}); err != nil {
		t.Fatal(err)
	}

	// Leveling runs off acknowledgments.
	deadline := time.Now().Add(2 * time.Second)
	for {
		p, err := c.Presence.Get(ctx, "ana")
		if err != nil {
			t.Fatal(err)
		}
		if p.User.XP == 20 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("xp = %d, want 20", p.User.XP)
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopApp(t, app)
	if _, err := os.Stat(profile.SocketPath("test")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket not removed: %v", err)
	}

	// Everything durable comes back after a restart.
	app = startApp(t, "test")
	defer stopApp(t, app)
	c2 := dial(t, "test")

	r, err := c2.Chat.Read(ctx, &api.ReadRequest{ChannelID: "general"})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Messages) != 2 || r.Messages[0].Body.Text != "first" || r.Messages[1].Body.Text != "second" {
		t.Fatalf("restored messages = %+v", r.Messages)
	}
	if got := r.Messages[1].Reactions["🎉"]; got != 1 {
		t.Errorf("restored reaction count = %d, want 1", got)
	}
	n, err := c2.Chat.Unread(ctx, "bo", "general")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("unread after restart = %d, want 1", n)
	}
	members, err := c2.Chat.TextMembers(ctx, "general")
	if err != nil {
		t.Fatal(err)
	}
	if len(members.UserIDs) != 2 {
		t.Errorf("restored text members = %v", members.UserIDs)
	}
	p, err := c2.Presence.Get(ctx, "ana")
	if err != nil {
		t.Fatal(err)
	}
	if p.User.XP != 20 {
		t.Errorf("restored xp = %d, want 20", p.User.XP)
	}
	if !p.Presence.Stale || p.Presence.Status != "offline" {
		t.Errorf("restored user should start stale, got %+v", p.Presence)
	}

	// New sends continue after the restored keys.
	if _, err := c2.Chat.Send(ctx, &api.SendRequest{ChannelID: "general", SenderID: "bo", Body: api.Body{Text: "third"}}); err != nil {
		t.Fatal(err)
	}
	msgs = waitSent(t, c2, "general", 3)
	if msgs[2].Body.Text != "third" || msgs[2].Key.Seq <= msgs[1].Key.Seq {
		t.Errorf("new message ordered before restored ones: %+v", msgs)
	}
}

func TestSecondDaemonRefusesHeldProfile(t *testing.T) {
	testHome(t)
	app := startApp(t, "solo")
	defer stopApp(t, app)

	second := fx.New(Module(Params{Profile: "solo", Config: testConfig()}), fx.NopLogger)
	err := second.Err()
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = second.Start(ctx)
	}
	var held *lock.HeldError
	if !errors.As(err, &held) {
		t.Fatalf("expected HeldError, got %v", err)
	}
}
