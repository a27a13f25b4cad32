package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/parley/internal/bus"
)

// State is the daemon lifecycle state reported to operators.
type State string

const (
	Booting   State = "BOOTING"
	Restoring State = "RESTORING"
	Ready     State = "READY"
	Draining  State = "DRAINING"
	Stopped   State = "STOPPED"
	Error     State = "ERROR"
)

var validTransitions = map[State][]State{
	Booting:   {Restoring, Error},
	Restoring: {Ready, Error},
	Ready:     {Draining, Error},
	Draining:  {Stopped, Error},
	Error:     {Draining, Stopped},
}

// Machine tracks and enforces daemon lifecycle transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	reason  string
	bus     *bus.Bus
}

// NewMachine creates a machine in the Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reason returns the error recorded by the last Fail, if any.
func (m *Machine) Reason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason
}

// Transition moves to a new state, rejecting transitions the lifecycle does not allow.
func (m *Machine) Transition(to State) error {
	return m.transition(to, "")
}

// Fail moves to Error and records why.
func (m *Machine) Fail(err error) error {
	return m.transition(Error, err.Error())
}

func (m *Machine) transition(to State, reason string) error {
	m.mu.Lock()
	if !slices.Contains(validTransitions[m.current], to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	change := Change{From: m.current, To: to, Reason: reason}
	m.current = to
	m.reason = reason
	m.mu.Unlock()

	m.bus.Emit(bus.DaemonStateChanged, change)
	return nil
}

// Change is the payload of daemon.state_changed events.
type Change struct {
	From   State
	To     State
	Reason string
}
