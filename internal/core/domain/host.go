package domain

import (
	"fmt"
	"net/netip"

	"github.com/google/uuid"
)

// HostID identifies a session within the server process. Zero means "none".
type HostID uint32

// GroupID names a P2P group.
type GroupID string

// EventID correlates a join notification with its acknowledgments.
type EventID uint32

// HolepunchToken correlates a relay socket assignment with the server-side probe.
type HolepunchToken = uuid.UUID

func (h HostID) String() string {
	return fmt.Sprintf("host-%d", uint32(h))
}

// PairKey addresses the unordered pair {A, B}.
type PairKey struct {
	Lo HostID
	Hi HostID
}

func NewPairKey(a, b HostID) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{Lo: a, Hi: b}
}

// Other returns the member of the pair that is not h.
func (k PairKey) Other(h HostID) HostID {
	if h == k.Lo {
		return k.Hi
	}
	return k.Lo
}

func (k PairKey) Contains(h HostID) bool {
	return h == k.Lo || h == k.Hi
}

// RelaySocket is the handle the relay socket pool hands out. It carries only
// the routing identity a client needs to reach the socket.
type RelaySocket struct {
	Port uint16
}

// RelayAssignment binds a relay socket to a session for one negotiation attempt.
type RelayAssignment struct {
	Socket RelaySocket
	Token  HolepunchToken
}

// Endpoint is an observed UDP address. The zero value is "unknown".
type Endpoint = netip.AddrPort
