package services

import (
	"context"

	"p2prelay/internal/core/domain"
	"p2prelay/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event names used for logging and metrics.
const (
	EventPing             = "reliable_ping"
	EventJoinAck          = "group_member_join_ack"
	EventHolepunchSuccess = "holepunch_success"
	EventJitTrigger       = "jit_direct_p2p_triggered"
	EventRequestSocket    = "request_create_relay_socket"
	EventSocketAck        = "create_relay_socket_ack"
	EventServerHolepunch  = "server_holepunch"
	EventShutdown         = "shutdown_tcp"
	EventNotifyLog        = "notify_log"
	EventNatDeviceName    = "nat_device_name_detected"
	EventUdpTrialCount    = "report_udp_trial_count"
)

type coordinationService struct {
	sessions ports.SessionRepository
	pool     ports.RelaySocketPool
	notifier ports.Notifier
	events   ports.EventPublisher     // Optional, can be nil
	recorder ports.TransitionRecorder // Optional, can be nil
	logger   *zap.SugaredLogger
}

func NewCoordinationService(
	sessions ports.SessionRepository,
	pool ports.RelaySocketPool,
	notifier ports.Notifier,
	events ports.EventPublisher,
	recorder ports.TransitionRecorder,
	logger *zap.SugaredLogger,
) ports.CoordinationService {
	return &coordinationService{
		sessions: sessions,
		pool:     pool,
		notifier: notifier,
		events:   events,
		recorder: recorder,
		logger:   logger,
	}
}

// resolve finds the caller's session and its group. ok is false when the
// event must be dropped; t then carries the reason.
func (s *coordinationService) resolve(ctx context.Context, hostID domain.HostID) (*domain.Session, *domain.P2PGroup, domain.Transition, bool) {
	session, err := s.sessions.GetByID(ctx, hostID)
	if err != nil {
		return nil, nil, domain.Ignore(domain.ReasonUnknownSession), false
	}
	group := session.Group()
	if group == nil {
		return session, nil, domain.Ignore(domain.ReasonNoGroup), false
	}
	return session, group, domain.Transition{}, true
}

func (s *coordinationService) finish(event string, hostID domain.HostID, t domain.Transition) domain.Transition {
	if s.recorder != nil {
		s.recorder.RecordTransition(event, t)
	}
	if t.Ignored() {
		s.logger.Debugw("protocol event ignored",
			"event", event,
			"host_id", hostID,
			"reason", t.Reason,
		)
	}
	return t
}

func (s *coordinationService) HandlePing(ctx context.Context, hostID domain.HostID) domain.Transition {
	s.notifier.Send(hostID, domain.ReliablePong{})
	return s.finish(EventPing, hostID, domain.Apply())
}

func (s *coordinationService) HandleJoinAck(ctx context.Context, hostID, addedHostID domain.HostID, eventID domain.EventID) domain.Transition {
	_, group, t, ok := s.resolve(ctx, hostID)
	if !ok {
		return s.finish(EventJoinAck, hostID, t)
	}

	t = group.AcknowledgeJoin(hostID, addedHostID, eventID)
	if t.Completed() {
		s.logger.Debugw("initiate P2P", "group_id", group.ID, "host_id", hostID, "target_host_id", addedHostID)
		s.notifier.Send(hostID, domain.P2PRecycleComplete{OtherHostID: addedHostID})
		s.notifier.Send(addedHostID, domain.P2PRecycleComplete{OtherHostID: hostID})
	}
	return s.finish(EventJoinAck, hostID, t)
}

func (s *coordinationService) HandleHolepunchSuccess(ctx context.Context, hostID domain.HostID, report domain.HolepunchReport) domain.Transition {
	_, group, t, ok := s.resolve(ctx, hostID)
	if !ok {
		return s.finish(EventHolepunchSuccess, hostID, t)
	}

	t = group.MarkPair(hostID, report.HostA, report.HostB, domain.StageHolepunch)
	if t.Completed() {
		notify := domain.NotifyDirectP2PEstablish{HolepunchReport: report}
		s.notifier.Send(report.HostA, notify)
		s.notifier.Send(report.HostB, notify)
		s.publishEstablished(group.ID, domain.NewPairKey(report.HostA, report.HostB))

		s.logger.Infow("direct P2P established",
			"group_id", group.ID,
			"host_a", report.HostA,
			"host_b", report.HostB,
		)
	}
	return s.finish(EventHolepunchSuccess, hostID, t)
}

func (s *coordinationService) HandleJitTrigger(ctx context.Context, hostID, targetHostID domain.HostID) domain.Transition {
	_, group, t, ok := s.resolve(ctx, hostID)
	if !ok {
		return s.finish(EventJitTrigger, hostID, t)
	}

	t = group.MarkPair(hostID, hostID, targetHostID, domain.StageJit)
	if t.Completed() {
		s.notifier.Send(hostID, domain.NewDirectP2PConnection{OtherHostID: targetHostID})
		s.notifier.Send(targetHostID, domain.NewDirectP2PConnection{OtherHostID: hostID})
	}
	return s.finish(EventJitTrigger, hostID, t)
}

// AssignRelaySocket binds a relay socket to the session. A session that
// already holds a socket keeps it and only gets a fresh token, which
// invalidates any probe still in flight for the previous attempt.
func (s *coordinationService) AssignRelaySocket(ctx context.Context, hostID domain.HostID) domain.Transition {
	session, _, t, ok := s.resolve(ctx, hostID)
	if !ok {
		return s.finish(EventRequestSocket, hostID, t)
	}
	if !s.pool.IsRunning() {
		return s.finish(EventRequestSocket, hostID, domain.Ignore(domain.ReasonPoolStopped))
	}

	socket, reused := domain.RelaySocket{}, false
	if current, has := session.Relay(); has {
		socket, reused = current.Socket, true
	} else {
		next, err := s.pool.NextSocket()
		if err != nil {
			return s.finish(EventRequestSocket, hostID, domain.Ignore(domain.ReasonNoSocket))
		}
		socket = next
	}

	assignment := domain.RelayAssignment{Socket: socket, Token: uuid.New()}
	session.AssignRelay(assignment)
	s.notifier.Send(hostID, domain.RelaySocketCreated{
		PublicAddress: s.pool.PublicAddress().String(),
		Port:          socket.Port,
	})

	s.logger.Debugw("relay socket assigned",
		"host_id", hostID,
		"port", socket.Port,
		"reused", reused,
	)
	return s.finish(EventRequestSocket, hostID, domain.Apply())
}

func (s *coordinationService) AcknowledgeSocketCreated(ctx context.Context, hostID domain.HostID) domain.Transition {
	session, _, t, ok := s.resolve(ctx, hostID)
	if !ok {
		return s.finish(EventSocketAck, hostID, t)
	}
	relay, has := session.Relay()
	if !has {
		return s.finish(EventSocketAck, hostID, domain.Ignore(domain.ReasonNoSocket))
	}
	if !s.pool.IsRunning() {
		return s.finish(EventSocketAck, hostID, domain.Ignore(domain.ReasonPoolStopped))
	}

	s.notifier.Send(hostID, domain.RequestStartServerHolepunch{Token: relay.Token})
	return s.finish(EventSocketAck, hostID, domain.Apply())
}

func (s *coordinationService) HandleServerHolepunch(ctx context.Context, token domain.HolepunchToken, observed domain.Endpoint) domain.Transition {
	session, err := s.sessions.FindByToken(ctx, token)
	if err != nil {
		return s.finish(EventServerHolepunch, 0, domain.Ignore(domain.ReasonUnknownToken))
	}

	session.RecordObserved(observed)
	s.notifier.Send(session.HostID, domain.ServerHolepunchAck{Token: token, ObservedAddress: observed})

	s.logger.Debugw("server holepunch succeeded", "host_id", session.HostID, "observed", observed.String())
	return s.finish(EventServerHolepunch, session.HostID, domain.Apply())
}

func (s *coordinationService) HandleShutdown(ctx context.Context, hostID domain.HostID) domain.Transition {
	s.notifier.Close(hostID)
	return s.finish(EventShutdown, hostID, domain.Apply())
}

func (s *coordinationService) HandleNotifyLog(ctx context.Context, hostID domain.HostID, text string) domain.Transition {
	s.logger.Debugw("client log", "host_id", hostID, "text", text)
	return s.finish(EventNotifyLog, hostID, domain.Ignore(domain.ReasonNoOp))
}

func (s *coordinationService) HandleNatDeviceName(ctx context.Context, hostID domain.HostID, name string) domain.Transition {
	return s.finish(EventNatDeviceName, hostID, domain.Ignore(domain.ReasonNoOp))
}

func (s *coordinationService) HandleUdpTrialCount(ctx context.Context, hostID domain.HostID, target domain.HostID, count int) domain.Transition {
	return s.finish(EventUdpTrialCount, hostID, domain.Ignore(domain.ReasonNoOp))
}

func (s *coordinationService) publishEstablished(groupID domain.GroupID, pair domain.PairKey) {
	if s.events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.events.PublishDirectEstablished(ctx, groupID, pair); err != nil {
			s.logger.Warnw("failed to publish direct establish", "group_id", groupID, "error", err)
		}
	}()
}
