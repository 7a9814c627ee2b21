package app

import (
	"context"
	crand "crypto/rand"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"bughatch/internal/audit"
	"bughatch/internal/rbac"
	"bughatch/internal/store"
	"bughatch/internal/util"

	"golang.org/x/crypto/bcrypt"
)

// invitationTokenBytes is the entropy of an invitation token before encoding.
const invitationTokenBytes = 32

// IssuedInvitation carries the one-time token. Only its hash is stored, so
// the token cannot be recovered later.
type IssuedInvitation struct {
	Invitation store.Invitation `json:"invitation"`
	Token      string           `json:"token"`
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := crand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func redactInvitation(inv store.Invitation) store.Invitation {
	inv.TokenHash = ""
	return inv
}

// CreateInvitation invites an email address to the project.
func (s *Service) CreateInvitation(ctx context.Context, identity *rbac.Identity, projectID, rawEmail string) (IssuedInvitation, error) {
	if err := guardMutation(identity); err != nil {
		return IssuedInvitation{}, err
	}
	const denied = "only the project owner can invite"
	var email string
	err := s.precheck(ctx, func(doc *store.Document) error {
		if _, err := projectForManagement(doc, identity, projectID, denied); err != nil {
			return err
		}
		var err error
		email, err = normalizeEmail(rawEmail)
		return err
	})
	if err != nil {
		return IssuedInvitation{}, err
	}
	token, err := generateToken(invitationTokenBytes)
	if err != nil {
		return IssuedInvitation{}, s.internal(ctx, "generate invitation token", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return IssuedInvitation{}, s.internal(ctx, "hash invitation token", err)
	}

	var invitation store.Invitation
	err = s.mutate(ctx, "create invitation", func(doc *store.Document) (audit.Entry, error) {
		project, err := projectForManagement(doc, identity, projectID, denied)
		if err != nil {
			return audit.Entry{}, err
		}
		for _, memberID := range project.Members {
			if user := doc.UserByID(memberID); user != nil && strings.EqualFold(user.Email, email) {
				return audit.Entry{}, conflict("this email already belongs to a member")
			}
		}
		for _, existing := range doc.Invitations {
			if existing.ProjectID == project.ID && existing.Status == store.InvitationPending && strings.EqualFold(existing.Email, email) {
				return audit.Entry{}, conflict("a pending invitation already exists for this email")
			}
		}
		invitation = store.Invitation{
			ID:        util.NewID("inv"),
			ProjectID: project.ID,
			Email:     email,
			TokenHash: string(hash),
			Status:    store.InvitationPending,
			InvitedBy: identity.ID,
			CreatedAt: s.clock(),
		}
		doc.Invitations = append(doc.Invitations, invitation)
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "invitation.created",
			Payload:     map[string]any{"invitationId": invitation.ID, "projectId": project.ID, "email": email},
		}, nil
	})
	if err != nil {
		return IssuedInvitation{}, err
	}
	return IssuedInvitation{Invitation: redactInvitation(invitation), Token: token}, nil
}

// ListInvitations returns the project's invitations, oldest first, without
// token hashes.
func (s *Service) ListInvitations(ctx context.Context, identity *rbac.Identity, projectID string) ([]store.Invitation, error) {
	if identity == nil {
		return nil, unauthorized()
	}
	doc, err := s.readDoc(ctx, identity)
	if err != nil {
		return nil, err
	}
	project, err := lookupProject(doc, projectID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanView(*project, identity) {
		return nil, forbidden("you cannot view this project")
	}
	out := make([]store.Invitation, 0)
	for _, inv := range doc.Invitations {
		if inv.ProjectID == project.ID {
			out = append(out, redactInvitation(inv))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AcceptInvitation adds the invited user to the project. The caller's email
// must match the invitation and the token must match its hash.
func (s *Service) AcceptInvitation(ctx context.Context, identity *rbac.Identity, invitationID, token string) (store.Project, error) {
	var joined store.Project
	err := s.respondInvitation(ctx, identity, invitationID, token, store.InvitationAccepted, func(doc *store.Document, inv *store.Invitation) error {
		project, err := lookupProject(doc, inv.ProjectID)
		if err != nil {
			return err
		}
		if !project.HasMember(identity.ID) {
			project.Members = append(project.Members, identity.ID)
			project.UpdatedAt = s.clock()
		}
		joined = *project
		return nil
	})
	if err != nil {
		return store.Project{}, err
	}
	return joined, nil
}

func (s *Service) RejectInvitation(ctx context.Context, identity *rbac.Identity, invitationID, token string) (store.Invitation, error) {
	var rejected store.Invitation
	err := s.respondInvitation(ctx, identity, invitationID, token, store.InvitationRejected, func(_ *store.Document, inv *store.Invitation) error {
		rejected = redactInvitation(*inv)
		return nil
	})
	if err != nil {
		return store.Invitation{}, err
	}
	return rejected, nil
}

// pendingFor resolves a pending invitation addressed to identity.
func pendingFor(doc *store.Document, identity *rbac.Identity, invitationID string) (*store.Invitation, error) {
	inv := doc.InvitationByID(invitationID)
	if inv == nil {
		return nil, notFound("invitation not found")
	}
	if !strings.EqualFold(identity.Email, inv.Email) {
		return nil, forbidden("this invitation was sent to another email")
	}
	if inv.Status != store.InvitationPending {
		return nil, invalid("status", "invitation is no longer pending")
	}
	return inv, nil
}

// respondInvitation verifies the token against an ungated read, then settles
// the invitation in the Tx only if its hash is still the one verified.
func (s *Service) respondInvitation(ctx context.Context, identity *rbac.Identity, invitationID, token, status string, apply func(*store.Document, *store.Invitation) error) error {
	if err := guardMutation(identity); err != nil {
		return err
	}
	var verifiedHash string
	err := s.precheck(ctx, func(doc *store.Document) error {
		inv, err := pendingFor(doc, identity, invitationID)
		if err != nil {
			return err
		}
		if strings.TrimSpace(token) == "" {
			return invalid("token", "token is required")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(inv.TokenHash), []byte(token)); err != nil {
			return forbidden("invalid invitation token")
		}
		verifiedHash = inv.TokenHash
		return nil
	})
	if err != nil {
		return err
	}

	return s.mutate(ctx, "respond to invitation", func(doc *store.Document) (audit.Entry, error) {
		inv, err := pendingFor(doc, identity, invitationID)
		if err != nil {
			return audit.Entry{}, err
		}
		if inv.TokenHash != verifiedHash {
			return audit.Entry{}, forbidden("invalid invitation token")
		}
		now := s.clock()
		inv.Status = status
		inv.RespondedAt = &now
		if err := apply(doc, inv); err != nil {
			return audit.Entry{}, err
		}
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "invitation." + status,
			Payload:     map[string]any{"invitationId": inv.ID, "projectId": inv.ProjectID, "userId": identity.ID},
		}, nil
	})
}

// CancelInvitation withdraws a pending invitation. The record is removed; the
// audit trail keeps the cancellation.
func (s *Service) CancelInvitation(ctx context.Context, identity *rbac.Identity, invitationID string) (store.Invitation, error) {
	if err := guardMutation(identity); err != nil {
		return store.Invitation{}, err
	}
	resolve := func(doc *store.Document) (*store.Invitation, *store.Project, error) {
		inv := doc.InvitationByID(invitationID)
		if inv == nil {
			return nil, nil, notFound("invitation not found")
		}
		project, err := projectForManagement(doc, identity, inv.ProjectID, "only the project owner can cancel invitations")
		if err != nil {
			return nil, nil, err
		}
		return inv, project, nil
	}
	err := s.precheck(ctx, func(doc *store.Document) error {
		_, _, err := resolve(doc)
		return err
	})
	if err != nil {
		return store.Invitation{}, err
	}

	var cancelled store.Invitation
	err = s.mutate(ctx, "cancel invitation", func(doc *store.Document) (audit.Entry, error) {
		inv, project, err := resolve(doc)
		if err != nil {
			return audit.Entry{}, err
		}
		if inv.Status != store.InvitationPending {
			return audit.Entry{}, invalid("status", "invitation is no longer pending")
		}
		cancelled = redactInvitation(*inv)
		cancelled.Status = store.InvitationCancelled
		now := s.clock()
		cancelled.RespondedAt = &now

		remaining := make([]store.Invitation, 0, len(doc.Invitations)-1)
		for _, item := range doc.Invitations {
			if item.ID != invitationID {
				remaining = append(remaining, item)
			}
		}
		doc.Invitations = remaining
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "invitation.cancelled",
			Payload:     map[string]any{"invitationId": cancelled.ID, "projectId": project.ID, "email": cancelled.Email, "status": store.InvitationCancelled},
		}, nil
	})
	if err != nil {
		return store.Invitation{}, err
	}
	return cancelled, nil
}
