package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestPermission(t *testing.T) {
	tests := []struct {
		permission Permission
		valid      bool
		private    bool
		shareable  bool
	}{
		{PermissionCreatorWrite, true, true, false},
		{PermissionOrgRead, true, false, true},
		{PermissionOrgWrite, true, false, true},
		{Permission("admin"), false, false, false},
		{Permission(""), false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.permission), func(t *testing.T) {
			if got := tt.permission.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
			if got := tt.permission.IsPrivate(); got != tt.private {
				t.Errorf("IsPrivate() = %v, want %v", got, tt.private)
			}
			if got := tt.permission.IsShareable(); got != tt.shareable {
				t.Errorf("IsShareable() = %v, want %v", got, tt.shareable)
			}
		})
	}
}

func TestLayoutMetadataConflictsWith(t *testing.T) {
	stored := LayoutMetadata{ID: uuid.New(), Name: "Ops", Permission: PermissionOrgRead}

	tests := []struct {
		name       string
		id         uuid.UUID
		layoutName string
		permission Permission
		want       bool
	}{
		{"same name same partition", uuid.New(), "Ops", PermissionOrgRead, true},
		{"org_read and org_write share a partition", uuid.New(), "Ops", PermissionOrgWrite, true},
		{"private partition is separate", uuid.New(), "Ops", PermissionCreatorWrite, false},
		{"different name", uuid.New(), "Ops 2", PermissionOrgRead, false},
		{"names are case sensitive", uuid.New(), "ops", PermissionOrgRead, false},
		{"the layout itself is excluded", stored.ID, "Ops", PermissionOrgRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stored.ConflictsWith(tt.id, tt.layoutName, tt.permission); got != tt.want {
				t.Errorf("ConflictsWith() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLayoutClone(t *testing.T) {
	var nilLayout *Layout
	if nilLayout.Clone() != nil {
		t.Error("Expected clone of nil layout to be nil")
	}

	original := &Layout{
		LayoutMetadata: LayoutMetadata{ID: uuid.New(), Name: "Ops"},
		Data:           json.RawMessage(`{"a":1}`),
	}
	clone := original.Clone()
	clone.Data[2] = 'b'
	clone.Name = "Changed"

	if string(original.Data) != `{"a":1}` {
		t.Errorf("Expected original data to be unchanged, got %s", original.Data)
	}
	if original.Name != "Ops" {
		t.Errorf("Expected original name to be unchanged, got %s", original.Name)
	}
}

func TestWriteResult(t *testing.T) {
	meta := LayoutMetadata{ID: uuid.New(), Name: "Ops"}

	success := Succeeded(meta)
	if !success.OK() || success.Metadata == nil || success.Metadata.ID != meta.ID {
		t.Errorf("Unexpected success result: %+v", success)
	}
	if Conflicted().OK() || Conflicted().Metadata != nil {
		t.Error("Expected conflict result without metadata")
	}
	if PreconditionFailed().OK() || PreconditionFailed().Status != WriteStatusPreconditionFailed {
		t.Error("Expected precondition-failed result")
	}

	body, err := json.Marshal(Conflicted())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(body) != `{"status":"conflict"}` {
		t.Errorf("Unexpected conflict JSON: %s", body)
	}
}

func TestLayoutSnapshotValidate(t *testing.T) {
	layout := func(id uuid.UUID, name string, permission Permission) *Layout {
		return &Layout{LayoutMetadata: LayoutMetadata{ID: id, Name: name, Permission: permission}}
	}
	sharedID := uuid.New()

	tests := []struct {
		name     string
		snapshot LayoutSnapshot
		wantErr  error
	}{
		{
			name:     "empty",
			snapshot: LayoutSnapshot{},
		},
		{
			name: "same name in different partitions and namespaces",
			snapshot: LayoutSnapshot{
				"org_a": {layout(uuid.New(), "Ops", PermissionCreatorWrite), layout(uuid.New(), "Ops", PermissionOrgRead)},
				"org_b": {layout(uuid.New(), "Ops", PermissionOrgWrite)},
			},
		},
		{
			name:     "empty namespace",
			snapshot: LayoutSnapshot{"": {layout(uuid.New(), "Ops", PermissionOrgRead)}},
			wantErr:  ErrNamespaceRequired,
		},
		{
			name:     "nil layout",
			snapshot: LayoutSnapshot{"org_a": {nil}},
			wantErr:  ErrInvalidInput,
		},
		{
			name:     "missing id",
			snapshot: LayoutSnapshot{"org_a": {layout(uuid.Nil, "Ops", PermissionOrgRead)}},
			wantErr:  ErrInvalidInput,
		},
		{
			name: "duplicate name in partition",
			snapshot: LayoutSnapshot{
				"org_a": {layout(uuid.New(), "Ops", PermissionOrgRead), layout(uuid.New(), "Ops", PermissionOrgWrite)},
			},
			wantErr: ErrSnapshotConflict,
		},
		{
			name: "duplicate id across namespaces",
			snapshot: LayoutSnapshot{
				"org_a": {layout(sharedID, "Ops", PermissionOrgRead)},
				"org_b": {layout(sharedID, "Ops", PermissionOrgRead)},
			},
			wantErr: ErrSnapshotDuplicateLayoutID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.snapshot.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveNamespace(t *testing.T) {
	tests := []struct {
		name    string
		orgID   string
		subject string
		want    string
	}{
		{"organization wins", "org_acme", "auth0|u1", "org_acme"},
		{"personal namespace", "", "auth0|u1", "user:auth0|u1"},
		{"anonymous", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveNamespace(tt.orgID, tt.subject); got != tt.want {
				t.Errorf("ResolveNamespace() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLayoutMetadata_Access(t *testing.T) {
	const owner, colleague = "auth0|u1", "auth0|u2"

	tests := []struct {
		permission Permission
		userID     string
		visible    bool
		writable   bool
		deletable  bool
	}{
		{PermissionCreatorWrite, owner, true, true, true},
		{PermissionCreatorWrite, colleague, false, false, false},
		{PermissionOrgRead, owner, true, false, true},
		{PermissionOrgRead, colleague, true, false, false},
		{PermissionOrgWrite, owner, true, true, true},
		{PermissionOrgWrite, colleague, true, true, true},
	}

	for _, tt := range tests {
		meta := LayoutMetadata{ID: uuid.New(), Permission: tt.permission, CreatorUserID: owner}
		if got := meta.VisibleTo(tt.userID); got != tt.visible {
			t.Errorf("%s/%s: VisibleTo = %v, want %v", tt.permission, tt.userID, got, tt.visible)
		}
		if got := meta.WritableBy(tt.userID); got != tt.writable {
			t.Errorf("%s/%s: WritableBy = %v, want %v", tt.permission, tt.userID, got, tt.writable)
		}
		if got := meta.DeletableBy(tt.userID); got != tt.deletable {
			t.Errorf("%s/%s: DeletableBy = %v, want %v", tt.permission, tt.userID, got, tt.deletable)
		}
	}
}

func TestFilterVisible(t *testing.T) {
	mine := LayoutMetadata{ID: uuid.New(), Name: "Mine", Permission: PermissionCreatorWrite, CreatorUserID: "auth0|u1"}
	theirs := LayoutMetadata{ID: uuid.New(), Name: "Theirs", Permission: PermissionCreatorWrite, CreatorUserID: "auth0|u2"}
	team := LayoutMetadata{ID: uuid.New(), Name: "Team", Permission: PermissionOrgWrite, CreatorUserID: "auth0|u2"}

	got := FilterVisible([]LayoutMetadata{mine, theirs, team}, "auth0|u1")

	if len(got) != 2 || got[0].ID != mine.ID || got[1].ID != team.ID {
		t.Errorf("Expected [Mine Team], got %+v", got)
	}
	if empty := FilterVisible(nil, "auth0|u1"); empty == nil || len(empty) != 0 {
		t.Errorf("Expected an empty non-nil slice, got %#v", empty)
	}
}
