package app

import (
	"context"
	"net/mail"
	"strings"

	"bughatch/internal/audit"
	"bughatch/internal/rbac"
	"bughatch/internal/store"
	"bughatch/internal/util"
)

const maxDisplayNameLen = 100

// RegisterInput is a signup request. Accounts start as members; only an
// admin can change a role afterwards.
type RegisterInput struct {
	Email       string
	DisplayName string
}

type ProfileInput struct {
	DisplayName *string
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", invalid("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalid("email", "email is invalid")
	}
	return email, nil
}

func normalizeDisplayName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", invalid("displayName", "display name is required")
	}
	if len([]rune(name)) > maxDisplayNameLen {
		return "", invalid("displayName", "display name is too long")
	}
	return name, nil
}

// RegisterUser creates an account at signup. Emails are unique
// case-insensitively. New accounts are members unless the email is one of the
// configured bootstrap admins.
func (s *Service) RegisterUser(ctx context.Context, input RegisterInput) (store.User, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return store.User{}, err
	}
	name, err := normalizeDisplayName(input.DisplayName)
	if err != nil {
		return store.User{}, err
	}
	role := rbac.RoleMember
	if _, ok := s.bootstrapAdmins[email]; ok {
		role = rbac.RoleAdmin
	}

	var user store.User
	err = s.mutate(ctx, "register user", func(doc *store.Document) (audit.Entry, error) {
		for _, existing := range doc.Users {
			if strings.EqualFold(existing.Email, email) {
				return audit.Entry{}, conflict("email is already registered")
			}
		}
		now := s.clock()
		user = store.User{
			ID:          util.NewID("usr"),
			Role:        string(role),
			Email:       email,
			DisplayName: name,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		doc.Users = append(doc.Users, user)
		return audit.Entry{
			ActorUserID: user.ID,
			EventType:   "user.created",
			Payload:     map[string]any{"userId": user.ID, "role": user.Role},
		}, nil
	})
	if err != nil {
		return store.User{}, err
	}
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, identity *rbac.Identity, userID string) (store.User, error) {
	if identity == nil {
		return store.User{}, unauthorized()
	}
	doc, err := s.readDoc(ctx, identity)
	if err != nil {
		return store.User{}, err
	}
	user := doc.UserByID(userID)
	if user == nil {
		return store.User{}, notFound("user not found")
	}
	return *user, nil
}

// UpdateProfile changes profile fields. Users edit themselves; admins may
// edit anyone.
func (s *Service) UpdateProfile(ctx context.Context, identity *rbac.Identity, userID string, input ProfileInput) (store.User, error) {
	if err := guardMutation(identity); err != nil {
		return store.User{}, err
	}
	resolve := func(doc *store.Document) (*store.User, error) {
		user := doc.UserByID(userID)
		if user == nil {
			return nil, notFound("user not found")
		}
		if identity.ID != user.ID && identity.Role != rbac.RoleAdmin {
			return nil, forbidden("you can only edit your own profile")
		}
		return user, nil
	}
	var name string
	err := s.precheck(ctx, func(doc *store.Document) error {
		if _, err := resolve(doc); err != nil {
			return err
		}
		if input.DisplayName == nil {
			return nil
		}
		var err error
		name, err = normalizeDisplayName(*input.DisplayName)
		return err
	})
	if err != nil {
		return store.User{}, err
	}

	var updated store.User
	err = s.mutate(ctx, "update profile", func(doc *store.Document) (audit.Entry, error) {
		user, err := resolve(doc)
		if err != nil {
			return audit.Entry{}, err
		}
		changed := []string{}
		if input.DisplayName != nil && user.DisplayName != name {
			user.DisplayName = name
			changed = append(changed, "displayName")
		}
		if len(changed) == 0 {
			return audit.Entry{}, invalid("displayName", "nothing to update")
		}
		user.UpdatedAt = s.clock()
		updated = *user
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "user.updated",
			Payload:     map[string]any{"userId": user.ID, "fields": changed},
		}, nil
	})
	if err != nil {
		return store.User{}, err
	}
	return updated, nil
}

func countAdmins(doc *store.Document) int {
	n := 0
	for _, u := range doc.Users {
		if rbac.Role(u.Role) == rbac.RoleAdmin {
			n++
		}
	}
	return n
}

// SetUserRole changes an account's global role. Only admins may call it, and
// the last admin cannot be demoted.
func (s *Service) SetUserRole(ctx context.Context, identity *rbac.Identity, userID, rawRole string) (store.User, error) {
	if err := guardMutation(identity); err != nil {
		return store.User{}, err
	}
	resolve := func(doc *store.Document) (*store.User, error) {
		user := doc.UserByID(userID)
		if user == nil {
			return nil, notFound("user not found")
		}
		if !rbac.CanAssignRole(identity) {
			return nil, forbidden("only admins can change roles")
		}
		return user, nil
	}
	var role rbac.Role
	err := s.precheck(ctx, func(doc *store.Document) error {
		if _, err := resolve(doc); err != nil {
			return err
		}
		var ok bool
		if role, ok = rbac.ParseRole(rawRole); !ok {
			return invalid("role", "role must be one of admin, member, viewer")
		}
		return nil
	})
	if err != nil {
		return store.User{}, err
	}

	var updated store.User
	err = s.mutate(ctx, "set user role", func(doc *store.Document) (audit.Entry, error) {
		user, err := resolve(doc)
		if err != nil {
			return audit.Entry{}, err
		}
		from := rbac.Role(user.Role)
		if from == role {
			return audit.Entry{}, invalid("role", "nothing to update")
		}
		if from == rbac.RoleAdmin && countAdmins(doc) == 1 {
			return audit.Entry{}, invalid("role", "the last admin cannot be demoted")
		}
		user.Role = string(role)
		user.UpdatedAt = s.clock()
		updated = *user
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "user.role_changed",
			Payload:     map[string]any{"userId": user.ID, "from": string(from), "to": string(role)},
		}, nil
	})
	if err != nil {
		return store.User{}, err
	}
	return updated, nil
}

// ActorName resolves a display name from the primary users, then the demo
// snapshot, then falls back to the raw id.
func (s *Service) ActorName(ctx context.Context, userID string) string {
	if doc, err := s.docs.Load(ctx, store.Primary); err == nil {
		if user := doc.UserByID(userID); user != nil && user.DisplayName != "" {
			return user.DisplayName
		}
	}
	if snap, err := s.overlay.Snapshot(ctx); err == nil {
		if user := snap.UserByID(userID); user != nil && user.DisplayName != "" {
			return user.DisplayName
		}
	}
	return userID
}
