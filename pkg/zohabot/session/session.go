// Package session owns the login lifecycle of the messaging client: the
// connection state machine, the persisted session blob and the pairing
// challenges that link a new device.
package session

import (
	"errors"
	"sync/atomic"
)

// State is the connection state of a session.
type State int32

const (
	// Disconnected means no usable login; pairing or a blob restore is needed.
	Disconnected State = iota
	// AwaitingPairing means a challenge was issued and the coordinator is
	// waiting for the operator to scan it.
	AwaitingPairing
	// Connected means the provider reports a linked, usable session.
	Connected
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case AwaitingPairing:
		return "awaiting_pairing"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

var (
	// ErrPairingTimeout is reported when nobody completes a pairing challenge
	// within the wait interval.
	ErrPairingTimeout = errors.New("pairing timed out")

	// ErrSuperseded is reported to waiters of a challenge replaced by a newer one.
	ErrSuperseded = errors.New("pairing challenge superseded")

	// ErrSessionCorrupt is returned when a session blob exists but cannot be
	// decoded or opened.
	ErrSessionCorrupt = errors.New("session blob corrupt")

	// ErrNoSession is returned when no session blob is stored.
	ErrNoSession = errors.New("no stored session")

	// ErrCoordinatorClosed is returned by a coordinator after Close.
	ErrCoordinatorClosed = errors.New("pairing coordinator closed")
)

// Session is the connection state of one bot generation. A restart creates a
// new Session with the next generation number instead of resetting this one.
type Session struct {
	generation uint64
	state      atomic.Int32
}

// New returns a Disconnected session for the given generation.
func New(generation uint64) *Session {
	return &Session{generation: generation}
}

// Generation returns the generation number.
func (s *Session) Generation() uint64 { return s.generation }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Connected reports whether the state is Connected.
func (s *Session) Connected() bool { return s.State() == Connected }

// SetState forces the state.
func (s *Session) SetState(st State) { s.state.Store(int32(st)) }

// ObserveProbe folds a connection probe result into the state. A successful
// probe always means Connected. A failed probe demotes only a Connected
// session, leaving an outstanding pairing challenge alone.
func (s *Session) ObserveProbe(connected bool) {
	if connected {
		s.state.Store(int32(Connected))
		return
	}
	s.state.CompareAndSwap(int32(Connected), int32(Disconnected))
}
