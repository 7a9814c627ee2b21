// Package demo serves the read-only sample dataset shown to demo identities.
package demo

import (
	"context"
	"sort"

	"bughatch/internal/store"
)

// Overlay reads the demo document. It never writes it.
type Overlay struct {
	docs *store.Documents
}

func NewOverlay(docs *store.Documents) *Overlay {
	return &Overlay{docs: docs}
}

// Snapshot loads the current demo document.
func (o *Overlay) Snapshot(ctx context.Context) (*store.Document, error) {
	return o.docs.Load(ctx, store.Demo)
}

// Find helpers over a loaded snapshot.

func Project(doc *store.Document, id string) (store.Project, bool) {
	if p := doc.ProjectByID(id); p != nil {
		return *p, true
	}
	return store.Project{}, false
}

func Issue(doc *store.Document, id string) (store.Issue, bool) {
	if i := doc.IssueByID(id); i != nil {
		return *i, true
	}
	return store.Issue{}, false
}

func User(doc *store.Document, id string) (store.User, bool) {
	if u := doc.UserByID(id); u != nil {
		return *u, true
	}
	return store.User{}, false
}

// Comments returns the visible comments on issueID, oldest first.
func Comments(doc *store.Document, issueID string) []store.Comment {
	out := make([]store.Comment, 0)
	for _, c := range doc.Comments {
		if c.IssueID == issueID && !c.Deleted {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Attachments returns the visible attachments on issueID, oldest first.
func Attachments(doc *store.Document, issueID string) []store.Attachment {
	out := make([]store.Attachment, 0)
	for _, a := range doc.Attachments {
		if a.IssueID == issueID && !a.Deleted {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
