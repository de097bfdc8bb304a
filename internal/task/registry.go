package task

import (
	"context"

	"github.com/google/uuid"
	"github.com/tinoosan/mdarchive/internal/data"
)

// Handle is a task seen without its category specific types.
type Handle interface {
	ID() uuid.UUID
	Category() data.Category
	Start(ctx context.Context) error
	Cancel(ctx context.Context) error
	Summary() Summary
	Await(ctx context.Context) (Summary, error)
	Updates(ctx context.Context, buffer int) (*Feed[Summary], error)
	Closed() <-chan struct{}
}

// Registry is a Manager seen without its category specific types.
type Registry interface {
	Category() data.Category
	Handle(ctx context.Context, id uuid.UUID, desired Desired) (Handle, error)
	Find(ctx context.Context, id uuid.UUID) (Handle, bool, error)
	IDs(ctx context.Context) ([]uuid.UUID, error)
	Drop(ctx context.Context, id uuid.UUID) error
	Changed() <-chan struct{}
}

var (
	_ Handle   = (*Task[struct{}, struct{}])(nil)
	_ Registry = (*Manager[struct{}, struct{}])(nil)
)

func (m *Manager[T, L]) Handle(ctx context.Context, id uuid.UUID, desired Desired) (Handle, error) {
	t, err := m.Request(ctx, id, desired)
	if t == nil {
		return nil, err
	}
	return t, err
}

func (m *Manager[T, L]) Find(ctx context.Context, id uuid.UUID) (Handle, bool, error) {
	t, ok, err := m.Lookup(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	return t, true, nil
}
