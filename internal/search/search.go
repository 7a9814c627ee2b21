// Package search indexes issues for full-text lookup.
package search

import "context"

// Result is a single issue hit.
type Result struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	Status    string `json:"status"`
}

// Query describes a search request. ProjectIDs restricts hits to the listed
// projects; an empty list matches nothing.
type Query struct {
	Text            string
	ProjectIDs      []string
	IncludeArchived bool
	Limit           int
}

// Response is the envelope returned to callers.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push issues into a search index.
type Indexer interface {
	IndexIssue(ctx context.Context, issue IssueRecord) error
	DeleteIssue(ctx context.Context, id string) error
}

// IssueRecord is the data we index for an issue.
type IssueRecord struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Status    string `json:"status"`
	Priority  string `json:"priority"`
	Archived  bool   `json:"archived"`
}

const defaultLimit = 20
