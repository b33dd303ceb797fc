package domain

import "sync"

// ConnectionState is one side's negotiation record toward the other member of a pair.
type ConnectionState struct {
	EventID          EventID
	IsJoined         bool
	HolepunchSuccess bool
	JitTriggered     bool
}

// Stage selects one of the three independent negotiation tracks of a pair.
type Stage int

const (
	StageJoin Stage = iota
	StageHolepunch
	StageJit
)

func (s Stage) String() string {
	switch s {
	case StageHolepunch:
		return "holepunch"
	case StageJit:
		return "jit"
	default:
		return "join"
	}
}

func (c *ConnectionState) flag(stage Stage) *bool {
	switch stage {
	case StageHolepunch:
		return &c.HolepunchSuccess
	case StageJit:
		return &c.JitTriggered
	default:
		return &c.IsJoined
	}
}

// PeerPair holds both halves of the negotiation between two group members.
// halves[0] belongs to Key.Lo, halves[1] to Key.Hi.
type PeerPair struct {
	Key PairKey

	mu     sync.Mutex
	halves [2]ConnectionState
}

func newPeerPair(key PairKey, eventID EventID) *PeerPair {
	p := &PeerPair{Key: key}
	p.reset(eventID)
	return p
}

func (p *PeerPair) index(owner HostID) int {
	if owner == p.Key.Lo {
		return 0
	}
	return 1
}

func (p *PeerPair) reset(eventID EventID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.halves[0] = ConnectionState{EventID: eventID}
	p.halves[1] = ConnectionState{EventID: eventID}
}

// State returns a copy of owner's half.
func (p *PeerPair) State(owner HostID) ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.halves[p.index(owner)]
}

// Mark sets owner's flag for stage and reports whether that completed the stage.
// Only the owner's half is written; the other half is only read. The whole
// sequence runs under the pair lock, so exactly one of two racing callers
// observes the other flag already set.
func (p *PeerPair) Mark(owner HostID, stage Stage) Transition {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.markLocked(owner, stage)
}

// MarkJoined is Mark for the join stage, guarded by the event correlation check.
func (p *PeerPair) MarkJoined(owner HostID, eventID EventID) Transition {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.halves[p.index(owner)].EventID != eventID {
		return ignored(ReasonStaleEvent)
	}
	return p.markLocked(owner, StageJoin)
}

func (p *PeerPair) markLocked(owner HostID, stage Stage) Transition {
	i := p.index(owner)
	own := p.halves[i].flag(stage)
	if *own {
		return ignored(ReasonAlreadySet)
	}
	*own = true

	if *p.halves[1-i].flag(stage) {
		return completed
	}
	return applied
}
