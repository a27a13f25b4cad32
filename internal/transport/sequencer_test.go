package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/parley/internal/msglog"
)

func TestSequencerIsIdempotent(t *testing.T) {
	s := NewSequencer()
	p := Provisional{ID: "p1", ChannelID: "c1", Key: msglog.OrderKey{Seq: 1, Tie: "p1"}}

	a1, err := s.Submit(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	a2, err := s.Submit(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if a1 != a2 {
		t.Errorf("resubmission ack = %+v, want %+v", a2, a1)
	}
	if a1.FinalKey.Seq != 1 || a1.FinalKey.Tie != a1.FinalID {
		t.Errorf("final key = %v", a1.FinalKey)
	}
}

func TestSequencerKeepsChannelsIndependent(t *testing.T) {
	s := NewSequencer()
	s.Seed("c1", 10)

	a, _ := s.Submit(context.Background(), Provisional{ID: "p1", ChannelID: "c1"})
	b, _ := s.Submit(context.Background(), Provisional{ID: "p2", ChannelID: "c2"})
	c, _ := s.Submit(context.Background(), Provisional{ID: "p3", ChannelID: "c1", Key: msglog.OrderKey{Seq: 20}})

	if a.FinalKey.Seq != 11 {
		t.Errorf("c1 first seq = %d, want 11", a.FinalKey.Seq)
	}
	if b.FinalKey.Seq != 1 {
		t.Errorf("c2 first seq = %d, want 1", b.FinalKey.Seq)
	}
	if c.FinalKey.Seq != 20 {
		t.Errorf("c1 seq with provisional floor = %d, want 20", c.FinalKey.Seq)
	}
}

func TestSequencerFailureInjection(t *testing.T) {
	s := NewSequencer()
	s.FailNext(1)

	if _, err := s.Submit(context.Background(), Provisional{ID: "p1", ChannelID: "c1"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if _, err := s.Submit(context.Background(), Provisional{ID: "p1", ChannelID: "c1"}); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if got := s.Submissions(); got != 2 {
		t.Errorf("submissions = %d, want 2", got)
	}
}

func TestSequencerLostAckStillAccepts(t *testing.T) {
	s := NewSequencer()
	s.LoseNext(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Submit(ctx, Provisional{ID: "p1", ChannelID: "c1"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	ack, err := s.Submit(context.Background(), Provisional{ID: "p1", ChannelID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	next, _ := s.Submit(context.Background(), Provisional{ID: "p2", ChannelID: "c1"})
	if ack.FinalKey.Seq != 1 || next.FinalKey.Seq != 2 {
		t.Errorf("seqs = %d, %d; want 1, 2", ack.FinalKey.Seq, next.FinalKey.Seq)
	}
}

func TestSequencerLatencyHonoursContext(t *testing.T) {
	s := NewSequencer()
	s.SetLatency(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := s.Submit(ctx, Provisional{ID: "p1", ChannelID: "c1"}); err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("submit did not return on context cancellation")
	}
}

func TestSequencerForget(t *testing.T) {
	s := NewSequencer()
	_, _ = s.Submit(context.Background(), Provisional{ID: "p1", ChannelID: "c1"})
	if n := s.Forget(time.Now().Add(time.Second)); n != 1 {
		t.Errorf("forgot %d, want 1", n)
	}
	if n := s.Forget(time.Now().Add(time.Second)); n != 0 {
		t.Errorf("forgot %d, want 0", n)
	}
}
