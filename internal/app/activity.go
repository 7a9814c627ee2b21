package app

import (
	"context"
	"errors"

	"bughatch/internal/activity"
	"bughatch/internal/audit"
	"bughatch/internal/rbac"
	"bughatch/internal/store"
)

// IssueActivity returns the merged comment, attachment and event feed of an
// issue.
func (s *Service) IssueActivity(ctx context.Context, identity *rbac.Identity, issueID string) ([]activity.Item, error) {
	items, err := s.activity.ForIssue(ctx, issueID, identity)
	if err != nil {
		var actErr *activity.Error
		if errors.As(err, &actErr) {
			return nil, domainError(ErrorType(actErr.Kind), actErr.Message, nil)
		}
		return nil, s.internal(ctx, "issue activity", err)
	}
	return items, nil
}

// AuditTrail lists primary audit entries. It is reserved to admins.
func (s *Service) AuditTrail(ctx context.Context, identity *rbac.Identity, q audit.Query) ([]store.AuditEntry, error) {
	if identity == nil {
		return nil, unauthorized()
	}
	if !rbac.CanReadAudit(identity) {
		return nil, forbidden("only admins can read the audit trail")
	}
	doc, err := s.docs.Load(ctx, store.Primary)
	if err != nil {
		return nil, s.internal(ctx, "load primary document", err)
	}
	return audit.List(doc, q), nil
}
