package search

import (
	"context"
	"fmt"
	"strings"

	"bughatch/internal/store"
)

// IndexSink keeps the index in step with issue mutations. It consumes outbox
// entries and ignores topics that do not concern issues.
type IndexSink struct {
	index Indexer
	docs  *store.Documents
}

func NewIndexSink(index Indexer, docs *store.Documents) *IndexSink {
	return &IndexSink{index: index, docs: docs}
}

func (s *IndexSink) Name() string { return "search" }

// Deliver re-indexes the issue named by the entry payload from the current
// primary document, or removes it from the index when it no longer exists.
func (s *IndexSink) Deliver(ctx context.Context, entry store.OutboxEntry) error {
	if !strings.HasPrefix(entry.Topic, "issue.") {
		return nil
	}
	issueID, _ := entry.Payload["issueId"].(string)
	if issueID == "" {
		return fmt.Errorf("outbox entry %s has no issueId", entry.ID)
	}

	doc, err := s.docs.Load(ctx, store.Primary)
	if err != nil {
		return err
	}
	issue := doc.IssueByID(issueID)
	if issue == nil {
		return s.index.DeleteIssue(ctx, issueID)
	}
	return s.index.IndexIssue(ctx, RecordFor(*issue))
}
