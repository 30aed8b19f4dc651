package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Action is a capability checked against a file.
type Action string

const (
	ActionView     Action = "view"
	ActionDownload Action = "download"
	ActionEdit     Action = "edit"
	ActionDelete   Action = "delete"
)

// ParseAction validates a raw action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionView, ActionDownload, ActionEdit, ActionDelete:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidArgument, s)
}

// Target kinds as persisted in file_permissions.target_type.
const (
	TargetUser         = "user"
	TargetRole         = "role"
	TargetOrganization = "organization"
)

// Target is the principal a grant applies to. The concrete types are
// UserTarget, RoleTarget and OrganizationTarget.
type Target interface {
	Kind() string
	Key() string
	isTarget()
}

// UserTarget grants to a single user.
type UserTarget struct{ ID uuid.UUID }

// RoleTarget grants to every holder of a role.
type RoleTarget struct{ Name string }

// OrganizationTarget grants to every member of an organization.
type OrganizationTarget struct{ ID uuid.UUID }

func (UserTarget) Kind() string  { return TargetUser }
func (t UserTarget) Key() string { return t.ID.String() }
func (UserTarget) isTarget()     {}

func (RoleTarget) Kind() string  { return TargetRole }
func (t RoleTarget) Key() string { return t.Name }
func (RoleTarget) isTarget()     {}

func (OrganizationTarget) Kind() string  { return TargetOrganization }
func (t OrganizationTarget) Key() string { return t.ID.String() }
func (OrganizationTarget) isTarget()     {}

// ParseTarget rebuilds a Target from its persisted kind and key.
func ParseTarget(kind, key string) (Target, error) {
	switch kind {
	case TargetUser:
		id, err := uuid.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("%w: user target %q: %v", ErrInvalidArgument, key, err)
		}
		return UserTarget{ID: id}, nil
	case TargetRole:
		if strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%w: empty role target", ErrInvalidArgument)
		}
		return RoleTarget{Name: key}, nil
	case TargetOrganization:
		id, err := uuid.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("%w: organization target %q: %v", ErrInvalidArgument, key, err)
		}
		return OrganizationTarget{ID: id}, nil
	}
	return nil, fmt.Errorf("%w: unknown target kind %q", ErrInvalidArgument, kind)
}

// Capabilities are the four independent flags of a grant.
type Capabilities struct {
	View     bool `json:"can_view"`
	Download bool `json:"can_download"`
	Edit     bool `json:"can_edit"`
	Delete   bool `json:"can_delete"`
}

// Allows reports the flag for action.
func (c Capabilities) Allows(a Action) bool {
	switch a {
	case ActionView:
		return c.View
	case ActionDownload:
		return c.Download
	case ActionEdit:
		return c.Edit
	case ActionDelete:
		return c.Delete
	}
	return false
}

// Grant is one FilePermission row.
type Grant struct {
	ID       uuid.UUID
	FileID   uuid.UUID
	TenantID uuid.UUID
	Target   Target
	Capabilities
}

// GrantSpec is a grant to be created by a replace operation.
type GrantSpec struct {
	Target Target
	Capabilities
}
