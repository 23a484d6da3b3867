package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/canteiro/internal/bus"
)

// State is the session status reported to clients.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Syncing      State = "SYNCING"
	Ready        State = "READY"
	Reconnecting State = "RECONNECTING"
	Degraded     State = "DEGRADED"
	Error        State = "ERROR"
)

// edges lists, per state, the states it may move to directly.
var edges = map[State][]State{
	Booting:      {AuthRequired, Connecting, Error},
	AuthRequired: {Connecting, Error},
	Connecting:   {Syncing, AuthRequired, Reconnecting, Error},
	Syncing:      {Ready, Reconnecting, Degraded, AuthRequired, Error},
	Ready:        {Syncing, Reconnecting, Degraded, AuthRequired, Error},
	Reconnecting: {Connecting, Degraded, AuthRequired, Error},
	Degraded:     {Connecting, Reconnecting, Ready, AuthRequired, Error},
	Error:        {Booting, AuthRequired},
}

// CanMove reports whether from may move to to in one step.
func CanMove(from, to State) bool {
	return slices.Contains(edges[from], to)
}

// StatusChange is published on the bus for every step the machine takes.
type StatusChange struct {
	From State
	To   State
	At   time.Time
}

func (StatusChange) Kind() string { return "session.status_changed" }

// Machine holds the session status. It is safe for concurrent use; every
// accepted step is published before the lock is released, so subscribers
// see steps in order.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMachine returns a machine in Booting. b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, since: time.Now(), bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Transition takes a single step to the given state.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stepLocked(to)
}

func (m *Machine) stepLocked(to State) error {
	if !CanMove(m.current, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	change := StatusChange{From: m.current, To: to, At: time.Now()}
	m.current, m.since = to, change.At
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(change))
	}
	return nil
}

// MoveTo reaches target through the fewest valid steps, publishing each one.
// Being in target already is a no-op. The walk holds the lock, so no other
// transition interleaves with it.
func (m *Machine) MoveTo(target State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == target {
		return nil
	}
	route := shortestRoute(m.current, target)
	if route == nil {
		return fmt.Errorf("no transition path from %s to %s", m.current, target)
	}
	for _, s := range route {
		if err := m.stepLocked(s); err != nil {
			return err
		}
	}
	return nil
}

// shortestRoute returns the states after from on a shortest path to to, or
// nil when to is unreachable.
func shortestRoute(from, to State) []State {
	parent := map[State]State{from: from}
	frontier := []State{from}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		if cur == to {
			var route []State
			for s := to; s != from; s = parent[s] {
				route = append(route, s)
			}
			slices.Reverse(route)
			return route
		}
		for _, next := range edges[cur] {
			if _, seen := parent[next]; !seen {
				parent[next] = cur
				frontier = append(frontier, next)
			}
		}
	}
	return nil
}
