package transport

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/parley/internal/msglog"
)

// Sequencer is an in-process authoritative orderer for a single node. It
// hands out per-channel sequence numbers and remembers every ack so
// resubmissions are answered identically.
//
// Latency, failures and lost acks can be injected for tests.
type Sequencer struct {
	mu       sync.Mutex
	next     map[string]uint64
	acks     map[string]Ack
	latency  time.Duration
	failNext int
	loseNext int
	submits  int
	now      func() time.Time
}

// NewSequencer creates an empty sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{
		next: make(map[string]uint64),
		acks: make(map[string]Ack),
		now:  time.Now,
	}
}

// Seed makes the next sequence in channelID greater than seq.
func (s *Sequencer) Seed(channelID string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.next[channelID] {
		s.next[channelID] = seq
	}
}

// SetLatency delays every submission by d.
func (s *Sequencer) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

// FailNext rejects the next n submissions with ErrUnavailable.
func (s *Sequencer) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

// LoseNext accepts the next n submissions but never answers them, as if the
// ack was lost on the way back.
func (s *Sequencer) LoseNext(n int) {
	s.mu.Lock()
	s.loseNext = n
	s.mu.Unlock()
}

// Submissions returns how many times Submit was called.
func (s *Sequencer) Submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

// Submit orders p. The final sequence is never lower than the provisional
// one, so a message keeps its local position when nothing raced it.
func (s *Sequencer) Submit(ctx context.Context, p Provisional) (Ack, error) {
	s.mu.Lock()
	s.submits++
	latency := s.latency
	s.mu.Unlock()

	if latency > 0 {
		t := time.NewTimer(latency)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return Ack{}, ctx.Err()
		}
	}

	s.mu.Lock()
	if s.failNext > 0 {
		s.failNext--
		s.mu.Unlock()
		return Ack{}, ErrUnavailable
	}
	ack, ok := s.acks[p.ID]
	if !ok {
		seq := max(s.next[p.ChannelID]+1, p.Key.Seq)
		s.next[p.ChannelID] = seq
		finalID := msglog.NewID()
		ack = Ack{
			ProvisionalID: p.ID,
			FinalID:       finalID,
			FinalKey:      msglog.OrderKey{Seq: seq, Tie: finalID},
			AcceptedAt:    s.now(),
		}
		s.acks[p.ID] = ack
	}
	lose := s.loseNext > 0
	if lose {
		s.loseNext--
	}
	s.mu.Unlock()

	if lose {
		<-ctx.Done()
		return Ack{}, ctx.Err()
	}
	return ack, nil
}

// Forget drops acks accepted before cutoff. Resubmitting a forgotten
// provisional ID is treated as a new message.
func (s *Sequencer) Forget(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, ack := range s.acks {
		if ack.AcceptedAt.Before(cutoff) {
			delete(s.acks, id)
			n++
		}
	}
	return n
}
