package status

import (
	"errors"
	"testing"

	"github.com/matheus3301/parley/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestLifecycle(t *testing.T) {
	m := NewMachine(nil)
	for _, to := range []State{Restoring, Ready, Draining, Stopped} {
		if err := m.Transition(to); err != nil {
			t.Fatalf("Transition(%s) error = %v", to, err)
		}
		if m.Current() != to {
			t.Fatalf("state = %s, want %s", m.Current(), to)
		}
	}
}

func TestInvalidTransition(t *testing.T) {
	tests := []struct {
		walk []State
		to   State
	}{
		{nil, Ready},
		{nil, Stopped},
		{[]State{Restoring}, Draining},
		{[]State{Restoring, Ready}, Restoring},
		{[]State{Restoring, Ready, Draining, Stopped}, Ready},
	}
	for _, tt := range tests {
		t.Run(string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			for _, s := range tt.walk {
				if err := m.Transition(s); err != nil {
					t.Fatalf("walk to %s: %v", s, err)
				}
			}
			before := m.Current()
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", before, tt.to)
			}
			if m.Current() != before {
				t.Errorf("state changed to %s after rejected transition", m.Current())
			}
		})
	}
}

func TestFailRecordsReason(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Restoring); err != nil {
		t.Fatal(err)
	}
	if err := m.Fail(errors.New("database is locked")); err != nil {
		t.Fatal(err)
	}
	if m.Current() != Error || m.Reason() != "database is locked" {
		t.Errorf("got %s %q", m.Current(), m.Reason())
	}
	if err := m.Transition(Stopped); err != nil {
		t.Errorf("Error -> Stopped: %v", err)
	}
}

func TestTransitionPublishesEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("daemon.", 4)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Restoring); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.DaemonStateChanged {
		t.Fatalf("kind = %s", evt.Kind)
	}
	change, ok := evt.Payload.(Change)
	if !ok || change.From != Booting || change.To != Restoring {
		t.Errorf("payload = %+v", evt.Payload)
	}
}
