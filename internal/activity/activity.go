// Package activity builds the per-issue timeline of comments, attachments and
// audit events.
package activity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bughatch/internal/audit"
	"bughatch/internal/demo"
	"bughatch/internal/rbac"
	"bughatch/internal/store"
)

type ItemType string

const (
	TypeComment    ItemType = "comment"
	TypeAttachment ItemType = "attachment"
	TypeEvent      ItemType = "event"
)

// Item is one entry of an issue feed. Data holds the underlying comment,
// attachment or audit entry.
type Item struct {
	Type      ItemType  `json:"type"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ActorID   string    `json:"actorId,omitempty"`
	ActorName string    `json:"actorName,omitempty"`
	Data      any       `json:"data"`
}

type Kind string

const (
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "notfound"
)

// Error is returned for expected failures. Storage faults are returned as-is.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

type Aggregator struct {
	docs    *store.Documents
	overlay *demo.Overlay
}

func New(docs *store.Documents, overlay *demo.Overlay) *Aggregator {
	return &Aggregator{docs: docs, overlay: overlay}
}

// ForIssue returns the issue feed ordered by creation time. Items created at
// the same instant keep comments before attachments before events.
func (a *Aggregator) ForIssue(ctx context.Context, issueID string, identity *rbac.Identity) ([]Item, error) {
	if identity == nil {
		return nil, &Error{Kind: KindUnauthorized, Message: "authentication required"}
	}

	var (
		doc  *store.Document
		snap *store.Document
		err  error
	)
	if identity.IsDemo {
		doc, err = a.overlay.Snapshot(ctx)
		snap = doc
	} else {
		doc, err = a.docs.Load(ctx, store.Primary)
	}
	if err != nil {
		return nil, err
	}

	issue := doc.IssueByID(issueID)
	if issue == nil {
		return nil, &Error{Kind: KindNotFound, Message: "issue not found"}
	}
	project := doc.ProjectByID(issue.ProjectID)
	if project == nil {
		return nil, &Error{Kind: KindNotFound, Message: "project not found"}
	}
	if !rbac.CanView(*project, identity) {
		return nil, &Error{Kind: KindForbidden, Message: "you cannot view this issue"}
	}

	items := Collect(doc, issueID)

	names := newNameResolver(ctx, doc, snap, a.overlay)
	for i := range items {
		if items[i].ActorID != "" {
			items[i].ActorName = names.lookup(items[i].ActorID)
		}
	}
	return items, nil
}

// Collect merges the visible comments, visible attachments and audit events of
// issueID from doc and sorts them stably by creation time.
func Collect(doc *store.Document, issueID string) []Item {
	items := make([]Item, 0)
	for _, c := range doc.Comments {
		if c.IssueID != issueID || c.Deleted {
			continue
		}
		items = append(items, Item{Type: TypeComment, ID: c.ID, CreatedAt: c.CreatedAt, ActorID: c.AuthorID, Data: c})
	}
	for _, att := range doc.Attachments {
		if att.IssueID != issueID || att.Deleted {
			continue
		}
		items = append(items, Item{Type: TypeAttachment, ID: att.ID, CreatedAt: att.CreatedAt, ActorID: att.UploadedBy, Data: att})
	}
	for _, entry := range audit.ForIssue(doc, issueID) {
		items = append(items, Item{Type: TypeEvent, ID: entry.ID, CreatedAt: entry.CreatedAt, ActorID: entry.ActorUserID, Data: entry})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}

// nameResolver finds display names in the working document first and the demo
// snapshot second, loading the snapshot at most once.
type nameResolver struct {
	ctx     context.Context
	doc     *store.Document
	snap    *store.Document
	overlay *demo.Overlay
	loaded  bool
}

func newNameResolver(ctx context.Context, doc, snap *store.Document, overlay *demo.Overlay) *nameResolver {
	return &nameResolver{ctx: ctx, doc: doc, snap: snap, overlay: overlay, loaded: snap != nil}
}

func (r *nameResolver) lookup(userID string) string {
	if u := r.doc.UserByID(userID); u != nil && u.DisplayName != "" {
		return u.DisplayName
	}
	if !r.loaded {
		r.loaded = true
		if r.overlay != nil {
			if snap, err := r.overlay.Snapshot(r.ctx); err == nil {
				r.snap = snap
			}
		}
	}
	if r.snap != nil {
		if u := r.snap.UserByID(userID); u != nil && u.DisplayName != "" {
			return u.DisplayName
		}
	}
	return userID
}
