package domain

import (
	"sync"
	"time"
)

// Session is a connected client endpoint.
type Session struct {
	HostID      HostID
	RemoteAddr  string
	ConnectedAt time.Time

	mu       sync.Mutex
	group    *P2PGroup
	relay    *RelayAssignment
	observed Endpoint
	closed   bool
}

func NewSession(hostID HostID, remoteAddr string) *Session {
	return &Session{
		HostID:      hostID,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
	}
}

// Group returns the group the session belongs to, or nil. The reference is
// weak: callers must re-check membership through the group itself.
func (s *Session) Group() *P2PGroup {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.group
}

// Close marks the session destroyed. A closed session can no longer join a
// group; a join that won the race is still visible through Group.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

func (s *Session) setGroup(g *P2PGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionNotFound
	}
	if s.group != nil && s.group != g {
		return ErrAlreadyInGroup
	}
	s.group = g
	return nil
}

// clearGroup drops the back-reference only if it still points at g.
func (s *Session) clearGroup(g *P2PGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.group == g {
		s.group = nil
	}
}

// Relay returns a copy of the current relay assignment.
func (s *Session) Relay() (RelayAssignment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.relay == nil {
		return RelayAssignment{}, false
	}
	return *s.relay, true
}

// AssignRelay binds a relay socket and token to the session, replacing any
// previous assignment.
func (s *Session) AssignRelay(a RelayAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.relay = &a
	s.observed = Endpoint{}
}

// ReleaseRelay drops the relay assignment and returns it.
func (s *Session) ReleaseRelay() (RelayAssignment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.relay == nil {
		return RelayAssignment{}, false
	}
	a := *s.relay
	s.relay = nil
	s.observed = Endpoint{}
	return a, true
}

// HasToken reports whether token is the session's current holepunch token.
func (s *Session) HasToken(token HolepunchToken) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.relay != nil && s.relay.Token == token
}

// RecordObserved stores the UDP endpoint seen by the server-side probe.
func (s *Session) RecordObserved(ep Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.observed = ep
}

func (s *Session) Observed() Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.observed
}
