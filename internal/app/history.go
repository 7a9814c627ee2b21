package app

import (
	"context"
	"errors"
	"strings"

	"bughatch/internal/rbac"
	"bughatch/internal/store"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// DocumentHistory lists the newest committed revisions of the primary
// document. Only admins may read it, and only backends that keep history
// (git) have any.
func (s *Service) DocumentHistory(ctx context.Context, identity *rbac.Identity, limit int) ([]store.Revision, error) {
	if identity == nil {
		return nil, unauthorized()
	}
	if !rbac.CanReadAudit(identity) {
		return nil, forbidden("only admins can read document history")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	revisions, err := s.docs.History(ctx, store.Primary, limit)
	if errors.Is(err, store.ErrNoHistory) {
		return nil, invalid("backend", "this storage backend keeps no revision history")
	}
	if err != nil {
		return nil, s.internal(ctx, "read document history", err)
	}
	return revisions, nil
}

// DocumentRevision returns the primary document as it was at revision, with
// invitation token hashes removed.
func (s *Service) DocumentRevision(ctx context.Context, identity *rbac.Identity, revision string) (*store.Document, error) {
	if identity == nil {
		return nil, unauthorized()
	}
	if !rbac.CanReadAudit(identity) {
		return nil, forbidden("only admins can read document history")
	}
	revision = strings.TrimSpace(revision)
	if revision == "" {
		return nil, invalid("revision", "revision is required")
	}
	doc, err := s.docs.At(ctx, store.Primary, revision)
	switch {
	case errors.Is(err, store.ErrNoHistory):
		return nil, invalid("backend", "this storage backend keeps no revision history")
	case errors.Is(err, store.ErrNotExist):
		return nil, notFound("document did not exist at this revision")
	case errors.Is(err, store.ErrUnknownRevision):
		return nil, notFound("revision not found")
	case err != nil:
		return nil, s.internal(ctx, "read document revision", err)
	}
	for i := range doc.Invitations {
		doc.Invitations[i] = redactInvitation(doc.Invitations[i])
	}
	return doc, nil
}
