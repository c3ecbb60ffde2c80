// Package status holds the connection status state machine.
package status

import (
	"errors"
	"time"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

// State is an alias for domain.ConnectionStatus for internal use.
type State = domain.ConnectionStatus

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	domain.StatusUnknown: {domain.StatusTesting, domain.StatusError},
	domain.StatusTesting: {
		domain.StatusConnected,
		domain.StatusWarning,
		domain.StatusDisconnected,
		domain.StatusError,
	},
	domain.StatusConnected: {
		domain.StatusConnected,
		domain.StatusWarning,
		domain.StatusDisconnected,
		domain.StatusTesting,
		domain.StatusError,
	},
	domain.StatusWarning: {
		domain.StatusConnected,
		domain.StatusWarning,
		domain.StatusDisconnected,
		domain.StatusTesting,
		domain.StatusError,
	},
	domain.StatusDisconnected: {
		domain.StatusTesting,
		domain.StatusDisconnected,
		domain.StatusError,
	},
	domain.StatusError: {domain.StatusTesting, domain.StatusError},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	validTargets, ok := ValidTransitions[from]
	if !ok {
		return false
	}

	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// Path returns the states a connection walks through to reach target.
// A direct transition yields [target]; otherwise the walk goes via testing.
func Path(from, to State) ([]State, error) {
	if CanTransition(from, to) {
		return []State{to}, nil
	}
	if CanTransition(from, domain.StatusTesting) && CanTransition(domain.StatusTesting, to) {
		return []State{domain.StatusTesting, to}, nil
	}
	return nil, ErrInvalidTransition
}

// Resolve maps a probe outcome to the settled state.
func Resolve(obs domain.Observation, warnThreshold time.Duration) State {
	if !obs.Success {
		if obs.ErrorKind == domain.ErrorKindConfig {
			return domain.StatusError
		}
		return domain.StatusDisconnected
	}
	if warnThreshold > 0 && obs.Latency() >= warnThreshold {
		return domain.StatusWarning
	}
	return domain.StatusConnected
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTransition creates a new transition record.
func NewTransition(from, to State, reason string, at time.Time) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: at,
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}
