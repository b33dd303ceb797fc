package services

import (
	"context"
	"fmt"

	"p2prelay/internal/core/domain"
	"p2prelay/internal/core/ports"

	"go.uber.org/zap"
)

type sessionService struct {
	sessions ports.SessionRepository
	groups   ports.GroupService
	hostIDs  *HostIDAllocator
	logger   *zap.SugaredLogger
}

func NewSessionService(
	sessions ports.SessionRepository,
	groups ports.GroupService,
	hostIDs *HostIDAllocator,
	logger *zap.SugaredLogger,
) ports.SessionService {
	return &sessionService{
		sessions: sessions,
		groups:   groups,
		hostIDs:  hostIDs,
		logger:   logger,
	}
}

func (s *sessionService) Connect(ctx context.Context, remoteAddr string) (*domain.Session, error) {
	session := domain.NewSession(s.hostIDs.Next(), remoteAddr)
	if err := s.sessions.Add(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to register session: %w", err)
	}

	s.logger.Debugw("session created", "host_id", session.HostID, "remote_addr", remoteAddr)
	return session, nil
}

// Disconnect destroys the session: it is unregistered first so no new event
// can resolve it and closed so a concurrent join fails. Then it leaves its
// group and gives back its relay socket.
func (s *sessionService) Disconnect(ctx context.Context, hostID domain.HostID) error {
	session, err := s.sessions.GetByID(ctx, hostID)
	if err != nil {
		return err
	}
	if err := s.sessions.Remove(ctx, hostID); err != nil {
		return err
	}
	session.Close()

	if err := s.groups.Leave(ctx, session); err != nil {
		s.logger.Warnw("failed to leave group on disconnect", "host_id", hostID, "error", err)
	}

	if relay, ok := session.ReleaseRelay(); ok {
		s.logger.Debugw("relay socket released", "host_id", hostID, "port", relay.Socket.Port)
	}

	s.logger.Debugw("session destroyed", "host_id", hostID)
	return nil
}

func (s *sessionService) GetSession(ctx context.Context, hostID domain.HostID) (*domain.Session, error) {
	return s.sessions.GetByID(ctx, hostID)
}

func (s *sessionService) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	return s.sessions.List(ctx)
}
