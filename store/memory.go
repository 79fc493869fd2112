package store

import "context"

// Memory represents a stored unit of user text considered for long-term
// recall. Content is immutable after creation; summary and keywords may be
// back-filled by the embedding pipeline.
type Memory struct {
	ID        int64
	UID       string
	UserID    int32
	Content   string
	Type      string // chat, query, note
	Summary   string
	Keywords  []string
	CreatedTs int64
}

// FindMemory specifies the conditions for finding memories.
type FindMemory struct {
	ID           *int64
	UID          *string
	UserID       *int32
	Type         *string
	CreatedAfter int64 // unix seconds, exclusive; 0 means no lower bound
	Limit        int
	Offset       int
}

// UpdateMemory back-fills derived fields on an existing memory.
// Content is immutable and deliberately absent here.
type UpdateMemory struct {
	ID       int64
	Summary  *string
	Keywords []string
}

// DeleteMemory specifies the conditions for deleting memories.
type DeleteMemory struct {
	ID     *int64
	UserID *int32
}

func (s *Store) CreateMemory(ctx context.Context, create *Memory) (*Memory, error) {
	return s.driver.CreateMemory(ctx, create)
}

func (s *Store) GetMemory(ctx context.Context, id int64) (*Memory, error) {
	list, err := s.driver.ListMemories(ctx, &FindMemory{ID: &id, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) ListMemories(ctx context.Context, find *FindMemory) ([]*Memory, error) {
	return s.driver.ListMemories(ctx, find)
}

func (s *Store) UpdateMemory(ctx context.Context, update *UpdateMemory) (*Memory, error) {
	return s.driver.UpdateMemory(ctx, update)
}

func (s *Store) DeleteMemory(ctx context.Context, delete *DeleteMemory) error {
	return s.driver.DeleteMemory(ctx, delete)
}

// CountMemoriesCreatedAfter counts a user's memories created strictly after
// the given unix timestamp. The refresh policy uses this to decide between
// partial and full recompute.
func (s *Store) CountMemoriesCreatedAfter(ctx context.Context, userID int32, createdTs int64) (int, error) {
	return s.driver.CountMemoriesCreatedAfter(ctx, userID, createdTs)
}
