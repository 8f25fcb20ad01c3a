package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Permission controls who can see a layout
type Permission string

const (
	// PermissionCreatorWrite is private to the creating user
	PermissionCreatorWrite Permission = "creator_write"
	// PermissionOrgRead is shared read-only within the organization
	PermissionOrgRead Permission = "org_read"
	// PermissionOrgWrite is shared writable within the organization
	PermissionOrgWrite Permission = "org_write"
)

// IsValid reports whether p is a known permission
func (p Permission) IsValid() bool {
	switch p {
	case PermissionCreatorWrite, PermissionOrgRead, PermissionOrgWrite:
		return true
	}
	return false
}

// IsPrivate reports whether p belongs to the private visibility partition.
// Name uniqueness is enforced per partition, so org_read and org_write share one.
func (p Permission) IsPrivate() bool {
	return p == PermissionCreatorWrite
}

// IsShareable reports whether p can be the target permission of a share
func (p Permission) IsShareable() bool {
	return p == PermissionOrgRead || p == PermissionOrgWrite
}

// LayoutMetadata is a layout without its payload
type LayoutMetadata struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	Permission    Permission `json:"permission"`
	CreatorUserID string     `json:"creatorUserId"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Layout is a stored layout including its opaque payload
type Layout struct {
	LayoutMetadata
	Data json.RawMessage `json:"data"`
}

// Clone returns a deep copy of the layout
func (l *Layout) Clone() *Layout {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Data != nil {
		clone.Data = append(json.RawMessage(nil), l.Data...)
	}
	return &clone
}

// ConflictsWith reports whether m, a stored layout other than id, already holds
// name in the same visibility partition as permission.
func (m LayoutMetadata) ConflictsWith(id uuid.UUID, name string, permission Permission) bool {
	return m.ID != id && m.Name == name && m.Permission.IsPrivate() == permission.IsPrivate()
}

// VisibleTo reports whether userID may read the layout. A private layout is
// visible to its creator only.
func (m LayoutMetadata) VisibleTo(userID string) bool {
	return !m.Permission.IsPrivate() || m.CreatorUserID == userID
}

// WritableBy reports whether userID may update or rename the layout.
// org_read layouts are read-only for everyone.
func (m LayoutMetadata) WritableBy(userID string) bool {
	switch m.Permission {
	case PermissionCreatorWrite:
		return m.CreatorUserID == userID
	case PermissionOrgWrite:
		return true
	}
	return false
}

// DeletableBy reports whether userID may delete the layout. The creator of an
// org_read copy may withdraw it even though nobody can edit it.
func (m LayoutMetadata) DeletableBy(userID string) bool {
	if m.WritableBy(userID) {
		return true
	}
	return m.Permission == PermissionOrgRead && m.CreatorUserID == userID
}

// FilterVisible returns the layouts userID may read, keeping their order
func FilterVisible(layouts []LayoutMetadata, userID string) []LayoutMetadata {
	visible := make([]LayoutMetadata, 0, len(layouts))
	for _, meta := range layouts {
		if meta.VisibleTo(userID) {
			visible = append(visible, meta)
		}
	}
	return visible
}

// WriteStatus is the outcome of a conditional write
type WriteStatus string

const (
	WriteStatusSuccess            WriteStatus = "success"
	WriteStatusConflict           WriteStatus = "conflict"
	WriteStatusPreconditionFailed WriteStatus = "precondition-failed"
)

// WriteResult is the tagged result of a mutating store operation.
// Metadata is set only when Status is success and the operation produced a record.
type WriteResult struct {
	Status   WriteStatus     `json:"status"`
	Metadata *LayoutMetadata `json:"newMetadata,omitempty"`
}

// Succeeded builds a success result carrying metadata
func Succeeded(metadata LayoutMetadata) WriteResult {
	return WriteResult{Status: WriteStatusSuccess, Metadata: &metadata}
}

// Conflicted builds a conflict result
func Conflicted() WriteResult {
	return WriteResult{Status: WriteStatusConflict}
}

// PreconditionFailed builds a precondition-failed result
func PreconditionFailed() WriteResult {
	return WriteResult{Status: WriteStatusPreconditionFailed}
}

// OK reports whether the write succeeded
func (r WriteResult) OK() bool {
	return r.Status == WriteStatusSuccess
}

// NewLayout contains the input for creating a private layout
type NewLayout struct {
	CreatorUserID string
	Name          string
	Data          json.RawMessage
}

// LayoutUpdate contains the input for replacing a layout's payload.
// A nil Name keeps the current name.
type LayoutUpdate struct {
	ID                uuid.UUID
	Name              *string
	Data              json.RawMessage
	IfUnmodifiedSince time.Time
}

// LayoutRename contains the input for renaming a layout
type LayoutRename struct {
	ID                uuid.UUID
	Name              string
	IfUnmodifiedSince time.Time
}

// LayoutShare contains the input for copying a layout into the shared partition
type LayoutShare struct {
	SourceID      uuid.UUID
	CreatorUserID string
	Name          string
	Permission    Permission
}

// LayoutSnapshot maps a namespace to its layouts in storage order
type LayoutSnapshot map[string][]*Layout

// LayoutRepository is the optimistic-concurrency layout store.
// Every call is scoped to a namespace; names are unique per namespace and partition.
// Conflict and precondition-failed are returned as WriteResult values; error is
// reserved for infrastructure failures.
type LayoutRepository interface {
	ListMetadata(ctx context.Context, namespace string) ([]LayoutMetadata, error)
	// Get returns nil, nil when the layout does not exist
	Get(ctx context.Context, namespace string, id uuid.UUID) (*Layout, error)
	Create(ctx context.Context, namespace string, input NewLayout) (WriteResult, error)
	Update(ctx context.Context, namespace string, input LayoutUpdate) (WriteResult, error)
	Rename(ctx context.Context, namespace string, input LayoutRename) (WriteResult, error)
	Delete(ctx context.Context, namespace string, id uuid.UUID, ifUnmodifiedSince time.Time) (WriteResult, error)
	Share(ctx context.Context, namespace string, input LayoutShare) (WriteResult, error)
}

// LayoutRestorer loads previously saved layouts into a store
type LayoutRestorer interface {
	Restore(ctx context.Context, snapshot LayoutSnapshot) error
}

// LayoutSnapshotter exports the full contents of a store
type LayoutSnapshotter interface {
	Snapshot(ctx context.Context) (LayoutSnapshot, error)
}

// SnapshotRepository persists layout snapshots outside the process
type SnapshotRepository interface {
	Load(ctx context.Context) (LayoutSnapshot, error)
	Save(ctx context.Context, snapshot LayoutSnapshot) error
}

// Validate checks that the snapshot holds unique ids and honours name
// uniqueness within every namespace.
func (s LayoutSnapshot) Validate() error {
	seen := make(map[uuid.UUID]bool)
	for namespace, layouts := range s {
		if namespace == "" {
			return ErrNamespaceRequired
		}
		for i, layout := range layouts {
			if layout == nil || layout.ID == uuid.Nil {
				return ErrInvalidInput
			}
			if seen[layout.ID] {
				return ErrSnapshotDuplicateLayoutID
			}
			seen[layout.ID] = true
			for _, other := range layouts[:i] {
				if other.ConflictsWith(layout.ID, layout.Name, layout.Permission) {
					return ErrSnapshotConflict
				}
			}
		}
	}
	return nil
}

// personalNamespacePrefix prefixes the namespace of a user without an organization
const personalNamespacePrefix = "user:"

// ResolveNamespace returns the namespace for an authenticated caller: the
// organization when the token carries one, otherwise a personal namespace.
func ResolveNamespace(orgID, subject string) string {
	if orgID != "" {
		return orgID
	}
	if subject == "" {
		return ""
	}
	return personalNamespacePrefix + subject
}
