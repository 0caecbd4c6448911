package orchestrator

import "log/slog"

// State identifies where the orchestration loop is while handling one
// inbound message.
type State string

const (
	// StateReceived means the inbound message was accepted and the session is loading.
	StateReceived State = "RECEIVED"
	// StateModelInvoking means the transcript is with the model gateway.
	StateModelInvoking State = "MODEL_INVOKING"
	// StateResolvingFunctions means model-requested function calls are executing.
	StateResolvingFunctions State = "RESOLVING_FUNCTIONS"
	// StateReplyReady means a user-visible reply was produced and passed policy.
	StateReplyReady State = "REPLY_READY"
	// StatePersisted means the updated session was saved. Terminal success.
	StatePersisted State = "PERSISTED"
	// StateFailed means an unrecoverable error was surfaced. Terminal failure.
	StateFailed State = "FAILED"
)

// legalTransitions encodes the loop's state machine: RECEIVED to
// MODEL_INVOKING, any number of RESOLVING_FUNCTIONS/MODEL_INVOKING rounds,
// then REPLY_READY and PERSISTED. FAILED is reachable from every
// non-terminal state.
var legalTransitions = map[State][]State{
	StateReceived:           {StateModelInvoking, StateFailed},
	StateModelInvoking:      {StateResolvingFunctions, StateReplyReady, StateFailed},
	StateResolvingFunctions: {StateModelInvoking, StateFailed},
	StateReplyReady:         {StatePersisted, StateFailed},
	StatePersisted:          {},
	StateFailed:             {},
}

// CanTransition reports whether the loop may move from one state to another.
func CanTransition(from, to State) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state ends the unit of work.
func IsTerminal(s State) bool {
	return s == StatePersisted || s == StateFailed
}

// run tracks the loop state for one inbound message.
type run struct {
	sessionID string
	state     State
}

// transition moves the run to the next state, logging illegal jumps loudly;
// they indicate a bug in the loop, not bad input.
func (r *run) transition(to State) {
	if !CanTransition(r.state, to) {
		slog.Error("orchestrator.run: illegal state transition", "sessionID", r.sessionID, "from", r.state, "to", to)
	}
	slog.Debug("orchestrator.run: state transition", "sessionID", r.sessionID, "from", r.state, "to", to)
	r.state = to
}
