package domain

// Result classifies what a protocol event did to the negotiation state.
type Result int

const (
	// Ignored means the event was dropped without touching any state.
	Ignored Result = iota
	// Applied means the caller's own flag was set and the pair awaits the other side.
	Applied
	// Completed means the caller's flag completed a pairwise stage on this call.
	Completed
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case Completed:
		return "completed"
	default:
		return "ignored"
	}
}

// Reasons attached to ignored transitions.
const (
	ReasonUnknownSession = "unknown_session"
	ReasonNoGroup        = "no_group"
	ReasonSelfReference  = "self_reference"
	ReasonNotMember      = "not_member"
	ReasonNotParticipant = "not_participant"
	ReasonNoState        = "no_connection_state"
	ReasonStaleEvent     = "stale_event"
	ReasonAlreadySet     = "already_set"
	ReasonPoolStopped    = "pool_stopped"
	ReasonNoSocket       = "no_socket"
	ReasonUnknownToken   = "unknown_token"
	ReasonNoOp           = "no_op"
)

// Transition is the outcome of a single protocol event.
type Transition struct {
	Result Result
	Reason string
}

func ignored(reason string) Transition {
	return Transition{Result: Ignored, Reason: reason}
}

// Ignore builds an ignored transition for callers outside the domain.
func Ignore(reason string) Transition {
	return ignored(reason)
}

var (
	applied   = Transition{Result: Applied}
	completed = Transition{Result: Completed}
)

// Apply is the transition for events that change state without a pairwise stage.
func Apply() Transition {
	return applied
}

func (t Transition) Completed() bool {
	return t.Result == Completed
}

func (t Transition) Ignored() bool {
	return t.Result == Ignored
}
