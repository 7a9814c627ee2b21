// Package rbac holds the authorization rules shared by every entity service.
// All functions are pure.
package rbac

import (
	"strings"

	"bughatch/internal/store"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Normalize maps unknown or empty roles to viewer, the least privileged role.
func Normalize(role string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(role))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleMember:
		return RoleMember
	default:
		return RoleViewer
	}
}

// ParseRole accepts exactly admin, member or viewer, case-insensitively.
func ParseRole(raw string) (Role, bool) {
	switch role := Role(strings.ToLower(strings.TrimSpace(raw))); role {
	case RoleAdmin, RoleMember, RoleViewer:
		return role, true
	}
	return "", false
}

// Identity is the decoded caller supplied by the authentication layer.
// A nil *Identity means the request is unauthenticated.
type Identity struct {
	ID     string
	Role   Role
	Email  string
	IsDemo bool
}

// CanView reports whether identity may read the project and its issues.
func CanView(project store.Project, identity *Identity) bool {
	if identity == nil {
		return false
	}
	switch {
	case identity.Role == RoleAdmin:
		return true
	case identity.Role == RoleViewer:
		return true
	case identity.IsDemo:
		return true
	}
	return project.HasMember(identity.ID)
}

// IsReadOnly reports whether identity is barred from every mutation.
func IsReadOnly(identity *Identity) bool {
	return identity != nil && identity.IsDemo
}

// CanMutate reports whether identity may change the project or anything in it.
// Demo identities never mutate, whatever their role or membership.
func CanMutate(project store.Project, identity *Identity) bool {
	if identity == nil || IsReadOnly(identity) {
		return false
	}
	if identity.Role == RoleAdmin {
		return true
	}
	return project.HasMember(identity.ID)
}

// CanModifyOwned applies the ownership rule: beyond CanMutate, only the
// author of a comment or attachment, or an admin, may edit or delete it.
func CanModifyOwned(project store.Project, identity *Identity, ownerID string) bool {
	if !CanMutate(project, identity) {
		return false
	}
	return identity.Role == RoleAdmin || identity.ID == ownerID
}

// CanManageProject covers membership changes, invitations and project edits,
// which are reserved to the project owner and admins.
func CanManageProject(project store.Project, identity *Identity) bool {
	if !CanMutate(project, identity) {
		return false
	}
	return identity.Role == RoleAdmin || identity.ID == project.OwnerID
}

// CanSaveFilter reports whether identity may keep personal saved filters on
// the project. Anyone who can view may, except read-only identities.
func CanSaveFilter(project store.Project, identity *Identity) bool {
	return CanView(project, identity) && !IsReadOnly(identity)
}

// CanReadAudit reports whether identity may read the full audit trail.
func CanReadAudit(identity *Identity) bool {
	return identity != nil && !IsReadOnly(identity) && identity.Role == RoleAdmin
}

// CanAssignRole reports whether identity may change another account's role.
func CanAssignRole(identity *Identity) bool {
	return CanReadAudit(identity)
}

// CanCreateProject reports whether identity may start a new project.
func CanCreateProject(identity *Identity) bool {
	if identity == nil || identity.IsDemo {
		return false
	}
	return identity.Role == RoleAdmin || identity.Role == RoleMember
}
