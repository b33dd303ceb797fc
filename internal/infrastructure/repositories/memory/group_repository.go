package memory

import (
	"context"
	"sort"
	"sync"

	"p2prelay/internal/core/domain"
	"p2prelay/internal/core/ports"
)

type MemoryGroupRepository struct {
	groups map[domain.GroupID]*domain.P2PGroup
	mu     sync.RWMutex
}

func NewMemoryGroupRepository() ports.GroupRepository {
	return &MemoryGroupRepository{
		groups: make(map[domain.GroupID]*domain.P2PGroup),
	}
}

func (r *MemoryGroupRepository) Create(ctx context.Context, group *domain.P2PGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.groups[group.ID]; exists {
		return domain.ErrGroupExists
	}

	r.groups[group.ID] = group
	return nil
}

func (r *MemoryGroupRepository) GetByID(ctx context.Context, id domain.GroupID) (*domain.P2PGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group, exists := r.groups[id]
	if !exists {
		return nil, domain.ErrGroupNotFound
	}

	return group, nil
}

func (r *MemoryGroupRepository) Delete(ctx context.Context, group *domain.P2PGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.groups[group.ID]
	if !exists || current != group {
		return domain.ErrGroupNotFound
	}

	delete(r.groups, group.ID)
	return nil
}

func (r *MemoryGroupRepository) List(ctx context.Context) ([]*domain.P2PGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups := make([]*domain.P2PGroup, 0, len(r.groups))
	for _, group := range r.groups {
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].ID < groups[j].ID
	})

	return groups, nil
}
