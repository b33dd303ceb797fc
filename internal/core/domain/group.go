package domain

import (
	"sort"
	"sync"
	"time"
)

// RemotePeer is a member's entry within a group.
type RemotePeer struct {
	HostID   HostID
	Session  *Session
	JoinedAt time.Time
}

// MemberJoin describes one pair created by AddMember: the existing member the
// new host was paired with and the event that both must acknowledge.
type MemberJoin struct {
	Existing HostID
	EventID  EventID
}

// P2PGroup is a set of peers that should reach each other directly. The
// per-pair negotiation records live in pairs, keyed by the unordered pair.
//
// mu is held for reading by protocol handlers while they resolve members and
// pairs, and for writing by membership changes, so a departing member's pairs
// are never destroyed under an in-flight handler.
type P2PGroup struct {
	ID        GroupID
	CreatedAt time.Time

	mu        sync.RWMutex
	members   map[HostID]*RemotePeer
	pairs     map[PairKey]*PeerPair
	disbanded bool
}

func NewP2PGroup(id GroupID) *P2PGroup {
	return &P2PGroup{
		ID:        id,
		CreatedAt: time.Now(),
		members:   make(map[HostID]*RemotePeer),
		pairs:     make(map[PairKey]*PeerPair),
	}
}

// AddMember registers session and creates a pair against every existing
// member, each with an event ID drawn from nextEvent.
func (g *P2PGroup) AddMember(session *Session, nextEvent func() EventID) ([]MemberJoin, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.disbanded {
		return nil, ErrGroupDisbanded
	}
	if _, exists := g.members[session.HostID]; exists {
		return nil, ErrAlreadyMember
	}
	if err := session.setGroup(g); err != nil {
		return nil, err
	}

	joins := make([]MemberJoin, 0, len(g.members))
	for _, existing := range g.sortedMembersLocked() {
		key := NewPairKey(existing.HostID, session.HostID)
		eventID := nextEvent()
		g.pairs[key] = newPeerPair(key, eventID)
		joins = append(joins, MemberJoin{Existing: existing.HostID, EventID: eventID})
	}

	g.members[session.HostID] = &RemotePeer{
		HostID:   session.HostID,
		Session:  session,
		JoinedAt: time.Now(),
	}
	return joins, nil
}

// RemoveMember destroys the member and every pair referencing it. It returns
// the hosts still in the group. Removing the last member disbands the group.
func (g *P2PGroup) RemoveMember(hostID HostID) ([]HostID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	peer, exists := g.members[hostID]
	if !exists {
		return nil, ErrNotMember
	}

	delete(g.members, hostID)
	for key := range g.pairs {
		if key.Contains(hostID) {
			delete(g.pairs, key)
		}
	}
	if peer.Session != nil {
		peer.Session.clearGroup(g)
	}
	if len(g.members) == 0 {
		g.disbanded = true
	}

	return g.hostIDsLocked(), nil
}

// Disband removes every member and marks the group unusable. It returns the
// hosts that were members.
func (g *P2PGroup) Disband() []HostID {
	g.mu.Lock()
	defer g.mu.Unlock()

	hosts := g.hostIDsLocked()
	for _, peer := range g.members {
		if peer.Session != nil {
			peer.Session.clearGroup(g)
		}
	}
	g.members = make(map[HostID]*RemotePeer)
	g.pairs = make(map[PairKey]*PeerPair)
	g.disbanded = true
	return hosts
}

// Reissue starts a new negotiation epoch for the pair {a, b}.
func (g *P2PGroup) Reissue(a, b HostID, eventID EventID) error {
	if a == b {
		return ErrSelfPair
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	pair, exists := g.pairs[NewPairKey(a, b)]
	if !exists {
		return ErrNotMember
	}
	pair.reset(eventID)
	return nil
}

// AcknowledgeJoin marks owner's half toward added as joined if eventID
// matches the current epoch.
func (g *P2PGroup) AcknowledgeJoin(owner, added HostID, eventID EventID) Transition {
	if owner == added {
		return ignored(ReasonSelfReference)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.members[owner]; !ok {
		return ignored(ReasonNotMember)
	}
	pair, ok := g.pairs[NewPairKey(owner, added)]
	if !ok {
		return ignored(ReasonNoState)
	}
	return pair.MarkJoined(owner, eventID)
}

// MarkPair sets reporter's flag for stage on the pair {a, b}. The reporter
// must be one of the two hosts.
func (g *P2PGroup) MarkPair(reporter, a, b HostID, stage Stage) Transition {
	if reporter != a && reporter != b {
		return ignored(ReasonNotParticipant)
	}
	if a == b {
		return ignored(ReasonSelfReference)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.members[a]; !ok {
		return ignored(ReasonNotMember)
	}
	if _, ok := g.members[b]; !ok {
		return ignored(ReasonNotMember)
	}
	pair, ok := g.pairs[NewPairKey(a, b)]
	if !ok {
		return ignored(ReasonNoState)
	}
	return pair.Mark(reporter, stage)
}

// IsMember reports whether hostID belongs to the group.
func (g *P2PGroup) IsMember(hostID HostID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.members[hostID]
	return ok
}

// ConnectionState returns owner's half of the pair with other.
func (g *P2PGroup) ConnectionState(owner, other HostID) (ConnectionState, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if owner == other {
		return ConnectionState{}, false
	}
	pair, ok := g.pairs[NewPairKey(owner, other)]
	if !ok {
		return ConnectionState{}, false
	}
	return pair.State(owner), true
}

// ConnectionStates returns owner's view of every other member.
func (g *P2PGroup) ConnectionStates(owner HostID) map[HostID]ConnectionState {
	g.mu.RLock()
	defer g.mu.RUnlock()

	states := make(map[HostID]ConnectionState)
	for key, pair := range g.pairs {
		if key.Contains(owner) {
			states[key.Other(owner)] = pair.State(owner)
		}
	}
	return states
}

// Members returns a snapshot of the members ordered by host ID.
func (g *P2PGroup) Members() []RemotePeer {
	g.mu.RLock()
	defer g.mu.RUnlock()

	sorted := g.sortedMembersLocked()
	out := make([]RemotePeer, len(sorted))
	for i, peer := range sorted {
		out[i] = *peer
	}
	return out
}

func (g *P2PGroup) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.members)
}

func (g *P2PGroup) IsDisbanded() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.disbanded
}

func (g *P2PGroup) sortedMembersLocked() []*RemotePeer {
	peers := make([]*RemotePeer, 0, len(g.members))
	for _, peer := range g.members {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].HostID < peers[j].HostID
	})
	return peers
}

func (g *P2PGroup) hostIDsLocked() []HostID {
	hosts := make([]HostID, 0, len(g.members))
	for _, peer := range g.sortedMembersLocked() {
		hosts = append(hosts, peer.HostID)
	}
	return hosts
}
