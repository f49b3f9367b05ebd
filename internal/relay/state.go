package relay

// State is the relay lifecycle state.
type State int

// Relay states.
const (
	StateIdle State = iota
	StateWaitingForProducer
	StateStreaming
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForProducer:
		return "waiting"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome reports what one Pump call did.
type Outcome int

// Pump outcomes.
const (
	// OutcomeSkipped means nothing was pushed: the relay was inactive,
	// deactivated mid-cycle or the context ended.
	OutcomeSkipped Outcome = iota
	// OutcomeRelayed means a producer frame was forwarded.
	OutcomeRelayed
	// OutcomeSynthetic means a placeholder frame was pushed.
	OutcomeSynthetic
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRelayed:
		return "relayed"
	case OutcomeSynthetic:
		return "synthetic"
	default:
		return "unknown"
	}
}
