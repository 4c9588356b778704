package streamclient

// State is one mode of the stream manager lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFallback
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFallback:
		return "fallback"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Input is an observation fed into the lifecycle machine.
type Input int

const (
	// InputStart begins the first connection attempt.
	InputStart Input = iota
	// InputStreamOpen fires when the init frame arrives on a fresh connection.
	InputStreamOpen
	// InputPlannedDrop is a connection the server announced it would close.
	InputPlannedDrop
	// InputStreamLost is a connection that died without warning.
	InputStreamLost
	// InputRetryBudgetSpent fires when reconnect attempts are exhausted.
	InputRetryBudgetSpent
	// InputComplete is the terminal completion frame or poll status.
	InputComplete
	// InputFatal is an unrecoverable error (unknown session, fatal frame).
	InputFatal
	// InputPollingFailed fires when fallback polling gives up.
	InputPollingFailed
)

// Action tells the manager what to do after a transition.
type Action int

const (
	ActionNone Action = iota
	// ActionDial opens a stream connection immediately.
	ActionDial
	// ActionRedial reconnects immediately without spending a retry attempt.
	// Used after a drop the server warned about.
	ActionRedial
	// ActionBackoffDial waits one backoff interval before dialing again.
	ActionBackoffDial
	// ActionStartPolling abandons streaming for the polling fallback.
	ActionStartPolling
	// ActionFinish ends the lifecycle successfully.
	ActionFinish
	// ActionFail ends the lifecycle with the recorded error.
	ActionFail
)

// Next is the pure transition function of the lifecycle machine. Inputs that
// make no sense in the current state keep the state and do nothing, so a late
// frame from a dying connection can never corrupt the lifecycle.
func Next(s State, in Input) (State, Action) {
	switch s {
	case StateDisconnected:
		if in == InputStart {
			return StateConnecting, ActionDial
		}

	case StateConnecting:
		switch in {
		case InputStreamOpen:
			return StateConnected, ActionNone
		case InputStreamLost:
			return StateConnecting, ActionBackoffDial
		case InputPlannedDrop:
			return StateConnecting, ActionRedial
		case InputRetryBudgetSpent:
			return StateFallback, ActionStartPolling
		case InputComplete:
			return StateClosed, ActionFinish
		case InputFatal:
			return StateClosed, ActionFail
		}

	case StateConnected:
		switch in {
		case InputPlannedDrop:
			return StateConnecting, ActionRedial
		case InputStreamLost:
			return StateConnecting, ActionBackoffDial
		case InputRetryBudgetSpent:
			return StateFallback, ActionStartPolling
		case InputComplete:
			return StateClosed, ActionFinish
		case InputFatal:
			return StateClosed, ActionFail
		}

	case StateFallback:
		switch in {
		case InputComplete:
			return StateClosed, ActionFinish
		case InputPollingFailed, InputFatal:
			return StateClosed, ActionFail
		}

	case StateClosed:
		// Terminal.
	}
	return s, ActionNone
}
