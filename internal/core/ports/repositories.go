package ports

import (
	"context"

	"p2prelay/internal/core/domain"
)

type SessionRepository interface {
	Add(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id domain.HostID) (*domain.Session, error)
	Remove(ctx context.Context, id domain.HostID) error
	FindByToken(ctx context.Context, token domain.HolepunchToken) (*domain.Session, error)
	List(ctx context.Context) ([]*domain.Session, error)
	Count(ctx context.Context) int
}

type GroupRepository interface {
	Create(ctx context.Context, group *domain.P2PGroup) error
	GetByID(ctx context.Context, id domain.GroupID) (*domain.P2PGroup, error)
	// Delete removes the group only if it is still the registered instance.
	Delete(ctx context.Context, group *domain.P2PGroup) error
	List(ctx context.Context) ([]*domain.P2PGroup, error)
}
