package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/dafibh/layouts/layouts-backend/internal/domain"
	"github.com/dafibh/layouts/layouts-backend/internal/websocket"
	"github.com/google/uuid"
)

// MockLayoutRepository is a mock implementation of domain.LayoutRepository.
// Reads are served from Layouts; writes return Result (or Err) and record their input.
type MockLayoutRepository struct {
	Layouts map[uuid.UUID]*domain.Layout
	Result  domain.WriteResult
	Err     error

	Calls      []string
	LastCreate domain.NewLayout
	LastUpdate domain.LayoutUpdate
	LastRename domain.LayoutRename
	LastShare  domain.LayoutShare
	LastDelete struct {
		ID                uuid.UUID
		IfUnmodifiedSince time.Time
	}
	LastNamespace string
}

// NewMockLayoutRepository creates a new MockLayoutRepository
func NewMockLayoutRepository() *MockLayoutRepository {
	return &MockLayoutRepository{
		Layouts: make(map[uuid.UUID]*domain.Layout),
	}
}

// AddLayout adds a layout served by ListMetadata and Get
func (m *MockLayoutRepository) AddLayout(layout *domain.Layout) {
	m.Layouts[layout.ID] = layout
}

// ListMetadata returns metadata of every added layout
func (m *MockLayoutRepository) ListMetadata(ctx context.Context, namespace string) ([]domain.LayoutMetadata, error) {
	m.record("ListMetadata", namespace)
	if m.Err != nil {
		return nil, m.Err
	}
	result := make([]domain.LayoutMetadata, 0, len(m.Layouts))
	for _, layout := range m.Layouts {
		result = append(result, layout.LayoutMetadata)
	}
	return result, nil
}

// Get returns an added layout or nil
func (m *MockLayoutRepository) Get(ctx context.Context, namespace string, id uuid.UUID) (*domain.Layout, error) {
	m.record("Get", namespace)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Layouts[id].Clone(), nil
}

// Create records the input and returns the configured result
func (m *MockLayoutRepository) Create(ctx context.Context, namespace string, input domain.NewLayout) (domain.WriteResult, error) {
	m.record("Create", namespace)
	m.LastCreate = input
	return m.Result, m.Err
}

// Update records the input and returns the configured result
func (m *MockLayoutRepository) Update(ctx context.Context, namespace string, input domain.LayoutUpdate) (domain.WriteResult, error) {
	m.record("Update", namespace)
	m.LastUpdate = input
	return m.Result, m.Err
}

// Rename records the input and returns the configured result
func (m *MockLayoutRepository) Rename(ctx context.Context, namespace string, input domain.LayoutRename) (domain.WriteResult, error) {
	m.record("Rename", namespace)
	m.LastRename = input
	return m.Result, m.Err
}

// Delete records the input and returns the configured result
func (m *MockLayoutRepository) Delete(ctx context.Context, namespace string, id uuid.UUID, ifUnmodifiedSince time.Time) (domain.WriteResult, error) {
	m.record("Delete", namespace)
	m.LastDelete.ID = id
	m.LastDelete.IfUnmodifiedSince = ifUnmodifiedSince
	return m.Result, m.Err
}

// Share records the input and returns the configured result
func (m *MockLayoutRepository) Share(ctx context.Context, namespace string, input domain.LayoutShare) (domain.WriteResult, error) {
	m.record("Share", namespace)
	m.LastShare = input
	return m.Result, m.Err
}

func (m *MockLayoutRepository) record(call, namespace string) {
	m.Calls = append(m.Calls, call)
	m.LastNamespace = namespace
}

// PublishedEvent is an event captured by MockEventPublisher
type PublishedEvent struct {
	Namespace string
	Event     websocket.Event
}

// MockEventPublisher captures published events
type MockEventPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
}

// NewMockEventPublisher creates a new MockEventPublisher
func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

// Publish records the event
func (m *MockEventPublisher) Publish(namespace string, event websocket.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, PublishedEvent{Namespace: namespace, Event: event})
}

// Events returns a copy of the captured events
func (m *MockEventPublisher) Events() []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishedEvent(nil), m.events...)
}

// MockSnapshotRepository is an in-memory domain.SnapshotRepository
type MockSnapshotRepository struct {
	mu       sync.Mutex
	Stored   domain.LayoutSnapshot
	LoadErr  error
	SaveErr  error
	saves    int
	SaveHook func(domain.LayoutSnapshot)
}

// NewMockSnapshotRepository creates a new MockSnapshotRepository
func NewMockSnapshotRepository() *MockSnapshotRepository {
	return &MockSnapshotRepository{}
}

// Load returns the stored snapshot
func (m *MockSnapshotRepository) Load(ctx context.Context) (domain.LayoutSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	if m.Stored == nil {
		return domain.LayoutSnapshot{}, nil
	}
	return m.Stored, nil
}

// Save stores the snapshot
func (m *MockSnapshotRepository) Save(ctx context.Context, snapshot domain.LayoutSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Stored = snapshot
	m.saves++
	if m.SaveHook != nil {
		m.SaveHook(snapshot)
	}
	return nil
}

// Saves returns how many snapshots were saved
func (m *MockSnapshotRepository) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
