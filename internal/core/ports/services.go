package ports

import (
	"context"
	"net/netip"

	"p2prelay/internal/core/domain"
)

// Notifier is the session layer as seen by the core: fire-and-forget sends
// into a session's outbound queue.
type Notifier interface {
	Send(hostID domain.HostID, msg domain.Message)
	Close(hostID domain.HostID)
}

// RelaySocketPool hands out relay sockets in rotation.
type RelaySocketPool interface {
	NextSocket() (domain.RelaySocket, error)
	IsRunning() bool
	PublicAddress() netip.Addr
}

// EventPublisher fans group lifecycle events out to other server instances.
type EventPublisher interface {
	PublishMemberJoined(ctx context.Context, groupID domain.GroupID, hostID domain.HostID) error
	PublishMemberLeft(ctx context.Context, groupID domain.GroupID, hostID domain.HostID) error
	PublishDirectEstablished(ctx context.Context, groupID domain.GroupID, pair domain.PairKey) error
}

// TransitionRecorder observes every protocol transition.
type TransitionRecorder interface {
	RecordTransition(event string, t domain.Transition)
}

type SessionService interface {
	Connect(ctx context.Context, remoteAddr string) (*domain.Session, error)
	Disconnect(ctx context.Context, hostID domain.HostID) error
	GetSession(ctx context.Context, hostID domain.HostID) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]*domain.Session, error)
}

type GroupService interface {
	CreateGroup(ctx context.Context, id domain.GroupID) (*domain.P2PGroup, error)
	GetGroup(ctx context.Context, id domain.GroupID) (*domain.P2PGroup, error)
	ListGroups(ctx context.Context) ([]*domain.P2PGroup, error)
	DisbandGroup(ctx context.Context, id domain.GroupID) error
	AddMember(ctx context.Context, groupID domain.GroupID, hostID domain.HostID) error
	RemoveMember(ctx context.Context, groupID domain.GroupID, hostID domain.HostID) error
	// Leave removes session from whatever group it currently belongs to.
	Leave(ctx context.Context, session *domain.Session) error
	ReissuePair(ctx context.Context, groupID domain.GroupID, a, b domain.HostID) error
}

type CoordinationService interface {
	HandlePing(ctx context.Context, hostID domain.HostID) domain.Transition
	HandleJoinAck(ctx context.Context, hostID, addedHostID domain.HostID, eventID domain.EventID) domain.Transition
	HandleHolepunchSuccess(ctx context.Context, hostID domain.HostID, report domain.HolepunchReport) domain.Transition
	HandleJitTrigger(ctx context.Context, hostID, targetHostID domain.HostID) domain.Transition
	AssignRelaySocket(ctx context.Context, hostID domain.HostID) domain.Transition
	AcknowledgeSocketCreated(ctx context.Context, hostID domain.HostID) domain.Transition
	HandleServerHolepunch(ctx context.Context, token domain.HolepunchToken, observed domain.Endpoint) domain.Transition
	HandleShutdown(ctx context.Context, hostID domain.HostID) domain.Transition
	HandleNotifyLog(ctx context.Context, hostID domain.HostID, text string) domain.Transition
	HandleNatDeviceName(ctx context.Context, hostID domain.HostID, name string) domain.Transition
	HandleUdpTrialCount(ctx context.Context, hostID domain.HostID, target domain.HostID, count int) domain.Transition
}
