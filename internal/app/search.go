package app

import (
	"context"
	"strings"

	"bughatch/internal/rbac"
	"bughatch/internal/search"
)

const maxSearchLimit = 100

// SearchIssues looks up issues across every project identity can view. Demo
// identities search the demo snapshot; everyone else goes through the search
// service, which falls back to scanning when the index is down.
func (s *Service) SearchIssues(ctx context.Context, identity *rbac.Identity, text string, limit int) (search.Response, error) {
	if identity == nil {
		return search.Response{}, unauthorized()
	}
	if limit <= 0 || limit > maxSearchLimit {
		limit = 20
	}
	doc, err := s.readDoc(ctx, identity)
	if err != nil {
		return search.Response{}, err
	}

	visible := visibleProjects(doc, identity)
	allowed := make(map[string]struct{}, len(visible))
	q := search.Query{Text: strings.TrimSpace(text), Limit: limit}
	for _, p := range visible {
		allowed[p.ID] = struct{}{}
		q.ProjectIDs = append(q.ProjectIDs, p.ID)
	}

	var resp search.Response
	if identity.IsDemo || s.search == nil {
		results := search.Scan(doc, q)
		resp = search.Response{Results: results, Total: len(results), Query: q.Text, Source: search.SourceScan}
	} else {
		resp, err = s.search.Search(ctx, q)
		if err != nil {
			return search.Response{}, s.internal(ctx, "search issues", err)
		}
	}

	filtered := make([]search.Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		if _, ok := allowed[r.ProjectID]; ok {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) != len(resp.Results) {
		resp.Total = len(filtered)
	}
	resp.Results = filtered
	return resp, nil
}
