package email

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"bughatch/internal/store"
)

// Sender delivers one HTML message.
type Sender interface {
	SendHTML(to []string, subject, htmlBody string) error
}

// InvitationSink mails invitees when they are invited and inviters when an
// invitation is accepted. Other topics are ignored.
type InvitationSink struct {
	sender  Sender
	docs    *store.Documents
	baseURL string
}

func NewInvitationSink(sender Sender, docs *store.Documents, baseURL string) *InvitationSink {
	return &InvitationSink{sender: sender, docs: docs, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *InvitationSink) Name() string { return "email" }

func (s *InvitationSink) Deliver(ctx context.Context, entry store.OutboxEntry) error {
	switch entry.Topic {
	case "invitation.created", "invitation.accepted":
	default:
		return nil
	}
	invitationID, _ := entry.Payload["invitationId"].(string)
	if invitationID == "" {
		return fmt.Errorf("%s without invitationId", entry.Topic)
	}
	doc, err := s.docs.Load(ctx, store.Primary)
	if err != nil {
		return err
	}
	inv := doc.InvitationByID(invitationID)
	if inv == nil {
		// cancelled before delivery
		return nil
	}
	projectName := inv.ProjectID
	if project := doc.ProjectByID(inv.ProjectID); project != nil {
		projectName = project.Name
	}

	if entry.Topic == "invitation.accepted" {
		inviter := doc.UserByID(inv.InvitedBy)
		if inviter == nil {
			return nil
		}
		html, err := render(acceptedTmpl, AcceptedData{AppName: "BugHatch", ProjectName: projectName, MemberEmail: inv.Email})
		if err != nil {
			return fmt.Errorf("render accepted template: %w", err)
		}
		return s.sender.SendHTML([]string{inviter.Email}, inv.Email+" joined "+projectName, html)
	}

	if inv.Status != store.InvitationPending {
		return nil
	}
	inviterName := inv.InvitedBy
	if inviter := doc.UserByID(inv.InvitedBy); inviter != nil && inviter.DisplayName != "" {
		inviterName = inviter.DisplayName
	}
	html, err := render(invitationTmpl, InvitationData{
		AppName:     "BugHatch",
		ProjectName: projectName,
		InviterName: inviterName,
		AcceptURL:   s.baseURL + "/invitations/" + url.PathEscape(inv.ID),
	})
	if err != nil {
		return fmt.Errorf("render invitation template: %w", err)
	}
	return s.sender.SendHTML([]string{inv.Email}, "You're invited to "+projectName, html)
}
