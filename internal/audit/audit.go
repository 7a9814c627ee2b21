// Package audit maintains the append-only audit trail kept inside a document.
package audit

import (
	"context"
	"sort"
	"time"

	"bughatch/internal/store"
	"bughatch/internal/util"
)

// Entry is the caller-supplied part of an audit record.
type Entry struct {
	ID          string
	ActorUserID string
	EventType   string
	Payload     map[string]any
	CreatedAt   time.Time
}

// Log appends audit entries and their outbox notifications.
type Log struct {
	docs *store.Documents
	now  func() time.Time
}

func New(docs *store.Documents, now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{docs: docs, now: now}
}

// Append records entry in its own load-mutate-persist cycle on storeID.
func (l *Log) Append(ctx context.Context, storeID store.StoreID, entry Entry) (store.AuditEntry, error) {
	var recorded store.AuditEntry
	err := l.docs.Update(ctx, storeID, func(doc *store.Document) error {
		recorded = l.Record(doc, entry)
		return nil
	})
	if err != nil {
		return store.AuditEntry{}, err
	}
	return recorded, nil
}

// Record appends entry to a document that the caller already holds under the
// write gate. The matching outbox entry is queued in the same document so
// both persist with the triggering mutation.
func (l *Log) Record(doc *store.Document, entry Entry) store.AuditEntry {
	recorded := store.AuditEntry{
		ID:          entry.ID,
		ActorUserID: entry.ActorUserID,
		EventType:   entry.EventType,
		Payload:     clonePayload(entry.Payload),
		CreatedAt:   entry.CreatedAt,
	}
	if recorded.ID == "" {
		recorded.ID = util.NewID("evt")
	}
	if recorded.CreatedAt.IsZero() {
		recorded.CreatedAt = l.now().UTC()
	}
	doc.Audit = append(doc.Audit, recorded)

	outboxPayload := clonePayload(recorded.Payload)
	outboxPayload["auditId"] = recorded.ID
	outboxPayload["actorUserId"] = recorded.ActorUserID
	doc.Outbox = append(doc.Outbox, store.OutboxEntry{
		ID:        util.NewID("obx"),
		Topic:     recorded.EventType,
		Payload:   outboxPayload,
		CreatedAt: recorded.CreatedAt,
	})
	return recorded
}

// ForIssue returns the entries whose payload references issueID, in append order.
func ForIssue(doc *store.Document, issueID string) []store.AuditEntry {
	out := make([]store.AuditEntry, 0)
	for _, entry := range doc.Audit {
		if entry.PayloadString("issueId") == issueID {
			out = append(out, entry)
		}
	}
	return out
}

// Query narrows List results. Zero values match everything.
type Query struct {
	ActorUserID string
	EventType   string
	ProjectID   string
	Since       time.Time
	Limit       int
}

// List returns matching entries ordered by creation time, oldest first. When
// Limit is set only the newest Limit entries are kept.
func List(doc *store.Document, q Query) []store.AuditEntry {
	out := make([]store.AuditEntry, 0)
	for _, entry := range doc.Audit {
		if q.ActorUserID != "" && entry.ActorUserID != q.ActorUserID {
			continue
		}
		if q.EventType != "" && entry.EventType != q.EventType {
			continue
		}
		if q.ProjectID != "" && entry.PayloadString("projectId") != q.ProjectID {
			continue
		}
		if !q.Since.IsZero() && entry.CreatedAt.Before(q.Since) {
			continue
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

func clonePayload(input map[string]any) map[string]any {
	output := make(map[string]any, len(input)+2)
	for key, value := range input {
		output[key] = value
	}
	return output
}
