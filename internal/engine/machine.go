package engine

import "github.com/amarcoder01/typemaster-race/api"

// State is the session's race state. Transitions are committed only by
// authoritative server events, never by local actions.
type State int

const (
	StateWaiting State = iota
	StateCountdown
	StateRacing
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateCountdown:
		return "countdown"
	case StateRacing:
		return "racing"
	case StateFinished:
		return "finished"
	}
	return "unknown"
}

// Machine holds the event-driven race state. Every transition method
// reports whether the event was consistent with the current state;
// inconsistent events leave the state untouched.
type Machine struct {
	state         State
	lastCountdown int
}

func NewMachine() *Machine {
	return &Machine{state: StateWaiting}
}

func (m *Machine) State() State {
	return m.state
}

// Sync aligns the machine with a server snapshot, as delivered on join
// or rejoin. Finished stays terminal.
func (m *Machine) Sync(status string) {
	if m.state == StateFinished {
		return
	}
	switch status {
	case api.RaceStatusWaiting:
		m.state = StateWaiting
	case api.RaceStatusCountdown:
		m.state = StateCountdown
		m.lastCountdown = -1 // unknown until the next tick
	case api.RaceStatusRacing:
		m.state = StateRacing
	case api.RaceStatusFinished:
		m.state = StateFinished
	}
}

func (m *Machine) CountdownStarted(value int) bool {
	if m.state != StateWaiting || value < 0 {
		return false
	}
	m.state = StateCountdown
	m.lastCountdown = value
	return true
}

// Tick accepts only strictly decreasing countdown values; a stale or
// duplicated tick is ignored.
func (m *Machine) Tick(value int) bool {
	if m.state != StateCountdown || value < 0 {
		return false
	}
	if m.lastCountdown >= 0 && value >= m.lastCountdown {
		return false
	}
	m.lastCountdown = value
	return true
}

func (m *Machine) CountdownCancelled() bool {
	if m.state != StateCountdown {
		return false
	}
	m.state = StateWaiting
	m.lastCountdown = 0
	return true
}

// RaceStarted commits Countdown -> Racing. A race_start outside the
// countdown is inconsistent and ignored; a rejoin landing mid-race is
// aligned through Sync instead.
func (m *Machine) RaceStarted() bool {
	if m.state != StateCountdown {
		return false
	}
	m.state = StateRacing
	return true
}

// RaceFinished is the only path into the terminal state. A client at
// 100% local progress still waits for this event.
func (m *Machine) RaceFinished() bool {
	if m.state != StateRacing {
		return false
	}
	m.state = StateFinished
	return true
}
