// Package bridge owns the lifecycle of a tutoring session: the state
// machine, the per-session relay loops between client channel and
// upstream model, and the supervisor that tracks every live session.
package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/seeme-labs/tutor-bridge/internal/shared"
)

type State int

const (
	StateConnecting State = iota
	StateActive
	StateInterrupted
	StateEnding
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateInterrupted:
		return "interrupted"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// EndReason records why a session finished, as persisted in the ledger.
type EndReason string

const (
	EndClientDisconnect EndReason = "client_disconnect"
	EndNormal           EndReason = "normal_completion"
	// Covers both the idle timeout and the maximum session duration;
	// the duration cap additionally announces itself to the client
	// with a session_limit message before closing.
	EndTimeout       EndReason = "timeout"
	EndUpstreamError EndReason = "upstream_error"
	EndInternalError EndReason = "internal_error"
	EndShutdown      EndReason = "server_shutdown"
)

var transitions = map[State][]State{
	StateConnecting:  {StateActive, StateEnding, StateFailed},
	StateActive:      {StateInterrupted, StateEnding, StateFailed},
	StateInterrupted: {StateActive, StateEnding, StateFailed},
	StateEnding:      {StateClosed, StateFailed},
}

// machine is the mutex-guarded session state. endedAt is recorded once,
// on the first transition into ENDING or FAILED.
type machine struct {
	mu      sync.Mutex
	state   State
	endedAt time.Time
}

func newMachine() *machine {
	return &machine{state: StateConnecting}
}

func (m *machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *machine) EndedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endedAt
}

func (m *machine) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == to {
		return nil
	}
	for _, next := range transitions[m.state] {
		if next == to {
			if (to == StateEnding || to == StateFailed) && m.endedAt.IsZero() {
				m.endedAt = time.Now()
			}
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", shared.ErrInvalidTransition, m.state, to)
}
