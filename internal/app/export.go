package app

import (
	"context"
	"errors"
	"fmt"

	"bughatch/internal/activity"
	"bughatch/internal/export"
	"bughatch/internal/rbac"
	"bughatch/internal/store"
)

// ExportIssue renders the issue with its activity feed. Anyone who can view
// the issue may export it, demo identities included.
func (s *Service) ExportIssue(ctx context.Context, identity *rbac.Identity, issueID, rawFormat string) (*export.Result, error) {
	if identity == nil {
		return nil, unauthorized()
	}
	format, ok := export.ParseFormat(rawFormat)
	if !ok {
		return nil, invalid("format", "format must be one of html, pdf, docx")
	}
	doc, err := s.readDoc(ctx, identity)
	if err != nil {
		return nil, err
	}
	issue, project, err := lookupIssue(doc, issueID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanView(*project, identity) {
		return nil, forbidden("you cannot view this issue")
	}
	items, err := s.IssueActivity(ctx, identity, issue.ID)
	if err != nil {
		return nil, err
	}

	report := export.Report{
		IssueID:      issue.ID,
		Title:        issue.Title,
		Body:         issue.Body,
		Status:       issue.Status,
		Priority:     issue.Priority,
		Archived:     issue.Archived,
		ProjectName:  project.Name,
		ReporterName: s.nameIn(ctx, doc, issue.ReporterID),
		CreatedAt:    issue.CreatedAt,
		UpdatedAt:    issue.UpdatedAt,
		Entries:      make([]export.Entry, 0, len(items)),
	}
	if issue.AssigneeID != "" {
		report.AssigneeName = s.nameIn(ctx, doc, issue.AssigneeID)
	}
	for _, item := range items {
		report.Entries = append(report.Entries, reportEntry(item))
	}

	result, err := s.exporter.Export(ctx, report, format)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
			return nil, invalid("format", fmt.Sprintf("%s export is not available on this server", format))
		}
		return nil, s.internal(ctx, "export issue", err)
	}
	return result, nil
}

// nameIn prefers the display name in the document being read and otherwise
// falls back to ActorName.
func (s *Service) nameIn(ctx context.Context, doc *store.Document, userID string) string {
	if user := doc.UserByID(userID); user != nil && user.DisplayName != "" {
		return user.DisplayName
	}
	return s.ActorName(ctx, userID)
}

func reportEntry(item activity.Item) export.Entry {
	entry := export.Entry{Kind: string(item.Type), Author: item.ActorName, CreatedAt: item.CreatedAt}
	switch data := item.Data.(type) {
	case store.Comment:
		entry.Text = data.Body
		entry.Reply = data.ParentID != nil
	case store.Attachment:
		entry.Text = fmt.Sprintf("attached %s (%d bytes)", data.Filename, data.Size)
	case store.AuditEntry:
		entry.Text = data.EventType
		if from, to := data.PayloadString("from"), data.PayloadString("to"); from != "" && to != "" {
			entry.Text = fmt.Sprintf("%s: %s → %s", data.EventType, from, to)
		}
	}
	return entry
}
