package domain

import (
	"net/netip"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSession_RelayAssignment(t *testing.T) {
	s := NewSession(1, "192.0.2.1:1000")

	_, ok := s.Relay()
	assert.False(t, ok)

	first := RelayAssignment{Socket: RelaySocket{Port: 4000}, Token: uuid.New()}
	s.AssignRelay(first)
	assert.True(t, s.HasToken(first.Token))

	s.RecordObserved(netip.MustParseAddrPort("198.51.100.3:5000"))
	assert.True(t, s.Observed().IsValid())

	second := RelayAssignment{Socket: first.Socket, Token: uuid.New()}
	s.AssignRelay(second)
	assert.False(t, s.HasToken(first.Token))
	assert.True(t, s.HasToken(second.Token))
	assert.False(t, s.Observed().IsValid(), "new attempt forgets the old probe")

	released, ok := s.ReleaseRelay()
	assert.True(t, ok)
	assert.Equal(t, second, released)
	assert.False(t, s.HasToken(second.Token))

	_, ok = s.ReleaseRelay()
	assert.False(t, ok)
}

func TestSession_GroupBackReference(t *testing.T) {
	s := NewSession(1, "")
	a, b := NewP2PGroup("a"), NewP2PGroup("b")

	assert.NoError(t, s.setGroup(a))
	assert.NoError(t, s.setGroup(a))
	assert.ErrorIs(t, s.setGroup(b), ErrAlreadyInGroup)

	s.clearGroup(b)
	assert.Same(t, a, s.Group())

	s.clearGroup(a)
	assert.Nil(t, s.Group())
}

func TestSession_ClosedRefusesGroup(t *testing.T) {
	s := NewSession(1, "")
	s.Close()

	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.setGroup(NewP2PGroup("a")), ErrSessionNotFound)
	assert.Nil(t, s.Group())
}

func TestHostIDString(t *testing.T) {
	assert.Equal(t, "host-42", HostID(42).String())
}
