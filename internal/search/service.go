package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"bughatch/internal/store"
)

const (
	SourceMeili = "meilisearch"
	SourceScan  = "scan"
)

// Service is the facade that tries the index first and falls back to scanning
// the primary document.
type Service struct {
	index  Searcher
	docs   *store.Documents
	logger *slog.Logger
}

// NewService creates a search service. index may be nil when no search server
// is configured.
func NewService(index Searcher, docs *store.Documents, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{index: index, docs: docs, logger: logger}
}

// Search tries the index if healthy, otherwise scans the primary document.
func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceMeili}, nil
		}
		s.logger.Warn("search index error, falling back to scan", "err", err)
	}

	doc, err := s.docs.Load(ctx, store.Primary)
	if err != nil {
		return Response{}, err
	}
	results := Scan(doc, q)
	return Response{Results: results, Total: len(results), Query: q.Text, Source: SourceScan}, nil
}

// Reindex pushes every issue of the primary document to the index.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	bulk, ok := s.index.(interface {
		IndexIssues(context.Context, []IssueRecord) error
	})
	if !ok || !s.index.Healthy() {
		return 0, nil
	}
	doc, err := s.docs.Load(ctx, store.Primary)
	if err != nil {
		return 0, err
	}
	records := make([]IssueRecord, 0, len(doc.Issues))
	for _, issue := range doc.Issues {
		records = append(records, RecordFor(issue))
	}
	if err := bulk.IndexIssues(ctx, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// RecordFor converts an issue into its index record.
func RecordFor(issue store.Issue) IssueRecord {
	return IssueRecord{
		ID:        issue.ID,
		ProjectID: issue.ProjectID,
		Title:     issue.Title,
		Body:      issue.Body,
		Status:    issue.Status,
		Priority:  issue.Priority,
		Archived:  issue.Archived,
	}
}

// Scan matches q.Text case-insensitively against issue titles and bodies in
// doc. Results are ordered oldest first.
func Scan(doc *store.Document, q Query) []Result {
	allowed := make(map[string]struct{}, len(q.ProjectIDs))
	for _, id := range q.ProjectIDs {
		allowed[id] = struct{}{}
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	matched := make([]store.Issue, 0)
	for _, issue := range doc.Issues {
		if _, ok := allowed[issue.ProjectID]; !ok {
			continue
		}
		if issue.Archived && !q.IncludeArchived {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(issue.Title), needle) &&
			!strings.Contains(strings.ToLower(issue.Body), needle) {
			continue
		}
		matched = append(matched, issue)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}

	results := make([]Result, 0, len(matched))
	for _, issue := range matched {
		results = append(results, Result{
			ID:        issue.ID,
			ProjectID: issue.ProjectID,
			Title:     issue.Title,
			Snippet:   snippet(issue.Body, 160),
			Status:    issue.Status,
		})
	}
	return results
}

func snippet(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	return string(runes[:max]) + "…"
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
