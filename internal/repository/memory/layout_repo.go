// Package memory implements domain.LayoutRepository on a process-local map.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dafibh/layouts/layouts-backend/internal/domain"
	"github.com/dafibh/layouts/layouts-backend/internal/util"
	"github.com/google/uuid"
)

// LayoutRepository implements domain.LayoutRepository in memory.
// A single lock covers every namespace: name uniqueness needs a scan of the
// whole namespace, and each write must be visible all at once.
type LayoutRepository struct {
	mu         sync.RWMutex
	namespaces map[string]*namespaceLayouts
	clock      util.Clock
}

// namespaceLayouts keeps insertion order alongside the id index
type namespaceLayouts struct {
	order []uuid.UUID
	byID  map[uuid.UUID]*domain.Layout
}

func newNamespaceLayouts() *namespaceLayouts {
	return &namespaceLayouts{byID: make(map[uuid.UUID]*domain.Layout)}
}

var (
	_ domain.LayoutRepository  = (*LayoutRepository)(nil)
	_ domain.LayoutRestorer    = (*LayoutRepository)(nil)
	_ domain.LayoutSnapshotter = (*LayoutRepository)(nil)
)

// NewLayoutRepository creates an empty LayoutRepository
func NewLayoutRepository(clock util.Clock) *LayoutRepository {
	if clock == nil {
		clock = util.NewMonotonicClock()
	}
	return &LayoutRepository{
		namespaces: make(map[string]*namespaceLayouts),
		clock:      clock,
	}
}

// ListMetadata returns every layout in the namespace without payloads, in insertion order
func (r *LayoutRepository) ListMetadata(ctx context.Context, namespace string) ([]domain.LayoutMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ns, ok := r.namespaces[namespace]
	if !ok {
		return []domain.LayoutMetadata{}, nil
	}
	result := make([]domain.LayoutMetadata, 0, len(ns.order))
	for _, id := range ns.order {
		result = append(result, ns.byID[id].LayoutMetadata)
	}
	return result, nil
}

// Get returns a copy of the layout or nil if it does not exist
func (r *LayoutRepository) Get(ctx context.Context, namespace string, id uuid.UUID) (*domain.Layout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ns, ok := r.namespaces[namespace]
	if !ok {
		return nil, nil
	}
	return ns.byID[id].Clone(), nil
}

// Create stores a new private layout unless the name is taken in the private partition
func (r *LayoutRepository) Create(ctx context.Context, namespace string, input domain.NewLayout) (domain.WriteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ns := r.namespace(namespace)
	if ns.hasNameConflict(uuid.Nil, input.Name, domain.PermissionCreatorWrite) {
		return domain.Conflicted(), nil
	}

	now := r.clock.Now()
	layout := &domain.Layout{
		LayoutMetadata: domain.LayoutMetadata{
			ID:            uuid.New(),
			Name:          input.Name,
			Permission:    domain.PermissionCreatorWrite,
			CreatorUserID: input.CreatorUserID,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		Data: cloneData(input.Data),
	}
	ns.insert(layout)
	return domain.Succeeded(layout.LayoutMetadata), nil
}

// Update replaces a layout's payload and optionally its name.
// Checks run in order: existence, name uniqueness, then the version token.
func (r *LayoutRepository) Update(ctx context.Context, namespace string, input domain.LayoutUpdate) (domain.WriteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ns, ok := r.namespaces[namespace]
	if !ok {
		return domain.Conflicted(), nil
	}
	target, ok := ns.byID[input.ID]
	if !ok {
		return domain.Conflicted(), nil
	}

	name := target.Name
	if input.Name != nil {
		name = *input.Name
	}
	if ns.hasNameConflict(target.ID, name, target.Permission) {
		return domain.Conflicted(), nil
	}
	if !target.UpdatedAt.Equal(input.IfUnmodifiedSince) {
		return domain.PreconditionFailed(), nil
	}

	updated := &domain.Layout{LayoutMetadata: target.LayoutMetadata, Data: cloneData(input.Data)}
	updated.Name = name
	updated.UpdatedAt = r.clock.After(target.UpdatedAt)
	ns.byID[target.ID] = updated
	return domain.Succeeded(updated.LayoutMetadata), nil
}

// Rename changes a layout's name, keeping its payload
func (r *LayoutRepository) Rename(ctx context.Context, namespace string, input domain.LayoutRename) (domain.WriteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ns, ok := r.namespaces[namespace]
	if !ok {
		return domain.Conflicted(), nil
	}
	target, ok := ns.byID[input.ID]
	if !ok {
		return domain.Conflicted(), nil
	}
	if ns.hasNameConflict(target.ID, input.Name, target.Permission) {
		return domain.Conflicted(), nil
	}
	if !target.UpdatedAt.Equal(input.IfUnmodifiedSince) {
		return domain.PreconditionFailed(), nil
	}

	renamed := &domain.Layout{LayoutMetadata: target.LayoutMetadata, Data: target.Data}
	renamed.Name = input.Name
	renamed.UpdatedAt = r.clock.After(target.UpdatedAt)
	ns.byID[target.ID] = renamed
	return domain.Succeeded(renamed.LayoutMetadata), nil
}

// Delete removes a layout. Deleting a layout that is already gone succeeds.
func (r *LayoutRepository) Delete(ctx context.Context, namespace string, id uuid.UUID, ifUnmodifiedSince time.Time) (domain.WriteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ns, ok := r.namespaces[namespace]
	if !ok {
		return domain.WriteResult{Status: domain.WriteStatusSuccess}, nil
	}
	target, ok := ns.byID[id]
	if !ok {
		return domain.WriteResult{Status: domain.WriteStatusSuccess}, nil
	}
	if !target.UpdatedAt.Equal(ifUnmodifiedSince) {
		return domain.PreconditionFailed(), nil
	}

	ns.remove(id)
	if len(ns.order) == 0 {
		delete(r.namespaces, namespace)
	}
	return domain.WriteResult{Status: domain.WriteStatusSuccess}, nil
}

// Share copies a layout into the shared partition under a new id.
// The name must not belong to a private layout other than the source, nor to
// any shared layout.
func (r *LayoutRepository) Share(ctx context.Context, namespace string, input domain.LayoutShare) (domain.WriteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ns, ok := r.namespaces[namespace]
	if !ok {
		return domain.Conflicted(), nil
	}
	source, ok := ns.byID[input.SourceID]
	if !ok {
		return domain.Conflicted(), nil
	}
	if ns.hasNameConflict(source.ID, input.Name, domain.PermissionCreatorWrite) ||
		ns.hasNameConflict(uuid.Nil, input.Name, input.Permission) {
		return domain.Conflicted(), nil
	}

	now := r.clock.Now()
	layout := &domain.Layout{
		LayoutMetadata: domain.LayoutMetadata{
			ID:            uuid.New(),
			Name:          input.Name,
			Permission:    input.Permission,
			CreatorUserID: input.CreatorUserID,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		Data: cloneData(source.Data),
	}
	ns.insert(layout)
	return domain.Succeeded(layout.LayoutMetadata), nil
}

// Restore replaces the contents of the given namespaces with the snapshot
func (r *LayoutRepository) Restore(ctx context.Context, snapshot domain.LayoutSnapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for namespace, layouts := range snapshot {
		ns := newNamespaceLayouts()
		for _, layout := range layouts {
			ns.insert(layout.Clone())
		}
		r.namespaces[namespace] = ns
	}
	return nil
}

// Snapshot returns a deep copy of every namespace
func (r *LayoutRepository) Snapshot(ctx context.Context) (domain.LayoutSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(domain.LayoutSnapshot, len(r.namespaces))
	for namespace, ns := range r.namespaces {
		layouts := make([]*domain.Layout, 0, len(ns.order))
		for _, id := range ns.order {
			layouts = append(layouts, ns.byID[id].Clone())
		}
		snapshot[namespace] = layouts
	}
	return snapshot, nil
}

// namespace returns the layouts of a namespace, creating it on first write.
// Caller must hold the write lock.
func (r *LayoutRepository) namespace(namespace string) *namespaceLayouts {
	ns, ok := r.namespaces[namespace]
	if !ok {
		ns = newNamespaceLayouts()
		r.namespaces[namespace] = ns
	}
	return ns
}

func (ns *namespaceLayouts) hasNameConflict(id uuid.UUID, name string, permission domain.Permission) bool {
	for _, layout := range ns.byID {
		if layout.ConflictsWith(id, name, permission) {
			return true
		}
	}
	return false
}

func (ns *namespaceLayouts) insert(layout *domain.Layout) {
	ns.order = append(ns.order, layout.ID)
	ns.byID[layout.ID] = layout
}

func (ns *namespaceLayouts) remove(id uuid.UUID) {
	delete(ns.byID, id)
	for i, existing := range ns.order {
		if existing == id {
			ns.order = append(ns.order[:i], ns.order[i+1:]...)
			return
		}
	}
}

func cloneData(data []byte) []byte {
	if data == nil {
		return nil
	}
	return append([]byte(nil), data...)
}
