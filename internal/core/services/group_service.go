package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"p2prelay/internal/core/domain"
	"p2prelay/internal/core/ports"

	"go.uber.org/zap"
)

const publishTimeout = 3 * time.Second

type groupService struct {
	groups   ports.GroupRepository
	sessions ports.SessionRepository
	notifier ports.Notifier
	events   ports.EventPublisher // Optional, can be nil

	// Membership changes are the only source of event IDs.
	eventSeq atomic.Uint32

	logger *zap.SugaredLogger
}

func NewGroupService(
	groups ports.GroupRepository,
	sessions ports.SessionRepository,
	notifier ports.Notifier,
	events ports.EventPublisher,
	logger *zap.SugaredLogger,
) ports.GroupService {
	return &groupService{
		groups:   groups,
		sessions: sessions,
		notifier: notifier,
		events:   events,
		logger:   logger,
	}
}

func (s *groupService) nextEventID() domain.EventID {
	for {
		id := domain.EventID(s.eventSeq.Add(1))
		if id != 0 {
			return id
		}
	}
}

func (s *groupService) CreateGroup(ctx context.Context, id domain.GroupID) (*domain.P2PGroup, error) {
	group := domain.NewP2PGroup(id)
	if err := s.groups.Create(ctx, group); err != nil {
		return nil, err
	}

	s.logger.Infow("group created", "group_id", id)
	return group, nil
}

func (s *groupService) GetGroup(ctx context.Context, id domain.GroupID) (*domain.P2PGroup, error) {
	return s.groups.GetByID(ctx, id)
}

func (s *groupService) ListGroups(ctx context.Context) ([]*domain.P2PGroup, error) {
	return s.groups.List(ctx)
}

func (s *groupService) DisbandGroup(ctx context.Context, id domain.GroupID) error {
	group, err := s.groups.GetByID(ctx, id)
	if err != nil {
		return err
	}

	hosts := group.Disband()
	if err := s.groups.Delete(ctx, group); err != nil && !errors.Is(err, domain.ErrGroupNotFound) {
		return err
	}

	for _, to := range hosts {
		for _, left := range hosts {
			if left == to {
				continue
			}
			s.notifier.Send(to, domain.P2PGroupMemberLeave{GroupID: id, MemberHostID: left})
		}
	}
	for _, host := range hosts {
		s.publishLeft(id, host)
	}

	s.logger.Infow("group disbanded", "group_id", id, "members", len(hosts))
	return nil
}

func (s *groupService) AddMember(ctx context.Context, groupID domain.GroupID, hostID domain.HostID) error {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	session, err := s.sessions.GetByID(ctx, hostID)
	if err != nil {
		return err
	}

	joins, err := group.AddMember(session, s.nextEventID)
	if err != nil {
		if errors.Is(err, domain.ErrGroupDisbanded) {
			return fmt.Errorf("group %s: %w", groupID, domain.ErrGroupNotFound)
		}
		return fmt.Errorf("failed to add %s to group %s: %w", hostID, groupID, err)
	}

	// The new member also learns about itself; its ack is a self-reference no-op.
	s.notifier.Send(hostID, domain.P2PGroupMemberJoin{
		GroupID:      groupID,
		MemberHostID: hostID,
		EventID:      s.nextEventID(),
	})
	for _, join := range joins {
		s.notifier.Send(hostID, domain.P2PGroupMemberJoin{
			GroupID:      groupID,
			MemberHostID: join.Existing,
			EventID:      join.EventID,
		})
		s.notifier.Send(join.Existing, domain.P2PGroupMemberJoin{
			GroupID:      groupID,
			MemberHostID: hostID,
			EventID:      join.EventID,
		})
	}

	s.publishJoined(groupID, hostID)
	s.logger.Infow("member joined group",
		"group_id", groupID,
		"host_id", hostID,
		"pairs", len(joins),
	)
	return nil
}

func (s *groupService) RemoveMember(ctx context.Context, groupID domain.GroupID, hostID domain.HostID) error {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	return s.removeFrom(ctx, group, hostID)
}

func (s *groupService) Leave(ctx context.Context, session *domain.Session) error {
	group := session.Group()
	if group == nil {
		return nil
	}

	err := s.removeFrom(ctx, group, session.HostID)
	if errors.Is(err, domain.ErrNotMember) {
		// Lost a race with another departure path.
		return nil
	}
	return err
}

func (s *groupService) removeFrom(ctx context.Context, group *domain.P2PGroup, hostID domain.HostID) error {
	remaining, err := group.RemoveMember(hostID)
	if err != nil {
		return err
	}

	for _, host := range remaining {
		s.notifier.Send(host, domain.P2PGroupMemberLeave{GroupID: group.ID, MemberHostID: hostID})
	}

	if len(remaining) == 0 {
		if err := s.groups.Delete(ctx, group); err != nil && !errors.Is(err, domain.ErrGroupNotFound) {
			return err
		}
		s.logger.Infow("group emptied and removed", "group_id", group.ID)
	}

	s.publishLeft(group.ID, hostID)
	s.logger.Infow("member left group", "group_id", group.ID, "host_id", hostID)
	return nil
}

func (s *groupService) ReissuePair(ctx context.Context, groupID domain.GroupID, a, b domain.HostID) error {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return err
	}

	eventID := s.nextEventID()
	if err := group.Reissue(a, b, eventID); err != nil {
		return fmt.Errorf("failed to reissue pair %s/%s: %w", a, b, err)
	}

	s.notifier.Send(a, domain.P2PGroupMemberJoin{GroupID: groupID, MemberHostID: b, EventID: eventID})
	s.notifier.Send(b, domain.P2PGroupMemberJoin{GroupID: groupID, MemberHostID: a, EventID: eventID})

	s.logger.Infow("pair reissued",
		"group_id", groupID,
		"host_a", a,
		"host_b", b,
		"event_id", eventID,
	)
	return nil
}

func (s *groupService) publishJoined(groupID domain.GroupID, hostID domain.HostID) {
	if s.events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.events.PublishMemberJoined(ctx, groupID, hostID); err != nil {
			s.logger.Warnw("failed to publish member joined", "group_id", groupID, "host_id", hostID, "error", err)
		}
	}()
}

func (s *groupService) publishLeft(groupID domain.GroupID, hostID domain.HostID) {
	if s.events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.events.PublishMemberLeft(ctx, groupID, hostID); err != nil {
			s.logger.Warnw("failed to publish member left", "group_id", groupID, "host_id", hostID, "error", err)
		}
	}()
}
