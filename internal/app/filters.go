package app

import (
	"context"
	"sort"
	"strings"

	"bughatch/internal/audit"
	"bughatch/internal/rbac"
	"bughatch/internal/store"
	"bughatch/internal/util"
)

const maxFilterNameLen = 100

type FilterInput struct {
	Name            string
	Status          string
	Text            string
	IncludeArchived bool
}

func (in FilterInput) normalize() (name, status string, err error) {
	name = strings.TrimSpace(in.Name)
	if name == "" {
		return "", "", invalid("name", "name is required")
	}
	if len([]rune(name)) > maxFilterNameLen {
		return "", "", invalid("name", "name is too long")
	}
	status = strings.ToLower(strings.TrimSpace(in.Status))
	if status != "" && !validStatus(status) {
		return "", "", invalid("status", "unknown status")
	}
	return name, status, nil
}

// CreateFilter saves an issue query for the caller on one project. Names are
// unique per owner and project.
func (s *Service) CreateFilter(ctx context.Context, identity *rbac.Identity, projectID string, input FilterInput) (store.Filter, error) {
	if err := guardMutation(identity); err != nil {
		return store.Filter{}, err
	}
	resolve := func(doc *store.Document) (*store.Project, error) {
		project, err := lookupProject(doc, projectID)
		if err != nil {
			return nil, err
		}
		if !rbac.CanSaveFilter(*project, identity) {
			return nil, forbidden("you cannot save filters on this project")
		}
		return project, nil
	}
	var name, status string
	err := s.precheck(ctx, func(doc *store.Document) error {
		if _, err := resolve(doc); err != nil {
			return err
		}
		var err error
		name, status, err = input.normalize()
		return err
	})
	if err != nil {
		return store.Filter{}, err
	}

	var filter store.Filter
	err = s.mutate(ctx, "create filter", func(doc *store.Document) (audit.Entry, error) {
		project, err := resolve(doc)
		if err != nil {
			return audit.Entry{}, err
		}
		for _, existing := range doc.Filters {
			if existing.OwnerID == identity.ID && existing.ProjectID == project.ID && strings.EqualFold(existing.Name, name) {
				return audit.Entry{}, conflict("a filter with this name already exists")
			}
		}
		filter = store.Filter{
			ID:              util.NewID("flt"),
			OwnerID:         identity.ID,
			ProjectID:       project.ID,
			Name:            name,
			Status:          status,
			Text:            strings.TrimSpace(input.Text),
			IncludeArchived: input.IncludeArchived,
			CreatedAt:       s.clock(),
		}
		doc.Filters = append(doc.Filters, filter)
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "filter.created",
			Payload:     map[string]any{"filterId": filter.ID, "projectId": project.ID},
		}, nil
	})
	if err != nil {
		return store.Filter{}, err
	}
	return filter, nil
}

// ListFilters returns the caller's saved filters on the project, oldest first.
func (s *Service) ListFilters(ctx context.Context, identity *rbac.Identity, projectID string) ([]store.Filter, error) {
	if identity == nil {
		return nil, unauthorized()
	}
	doc, err := s.readDoc(ctx, identity)
	if err != nil {
		return nil, err
	}
	project, err := lookupProject(doc, projectID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanView(*project, identity) {
		return nil, forbidden("you cannot view this project")
	}
	out := make([]store.Filter, 0)
	for _, f := range doc.Filters {
		if f.ProjectID == project.ID && f.OwnerID == identity.ID {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Service) DeleteFilter(ctx context.Context, identity *rbac.Identity, filterID string) error {
	if err := guardMutation(identity); err != nil {
		return err
	}
	resolve := func(doc *store.Document) (*store.Filter, error) {
		filter := doc.FilterByID(filterID)
		if filter == nil {
			return nil, notFound("filter not found")
		}
		if filter.OwnerID != identity.ID && identity.Role != rbac.RoleAdmin {
			return nil, forbidden("you can only delete your own filters")
		}
		return filter, nil
	}
	err := s.precheck(ctx, func(doc *store.Document) error {
		_, err := resolve(doc)
		return err
	})
	if err != nil {
		return err
	}
	return s.mutate(ctx, "delete filter", func(doc *store.Document) (audit.Entry, error) {
		filter, err := resolve(doc)
		if err != nil {
			return audit.Entry{}, err
		}
		projectID := filter.ProjectID
		remaining := make([]store.Filter, 0, len(doc.Filters)-1)
		for _, f := range doc.Filters {
			if f.ID != filterID {
				remaining = append(remaining, f)
			}
		}
		doc.Filters = remaining
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "filter.deleted",
			Payload:     map[string]any{"filterId": filterID, "projectId": projectID},
		}, nil
	})
}

// ApplyFilter runs ListIssues with the saved criteria.
func (s *Service) ApplyFilter(ctx context.Context, identity *rbac.Identity, filterID string) ([]store.Issue, error) {
	if identity == nil {
		return nil, unauthorized()
	}
	doc, err := s.readDoc(ctx, identity)
	if err != nil {
		return nil, err
	}
	filter := doc.FilterByID(filterID)
	if filter == nil || (filter.OwnerID != identity.ID && identity.Role != rbac.RoleAdmin) {
		return nil, notFound("filter not found")
	}
	return s.ListIssues(ctx, identity, filter.ProjectID, IssueQuery{
		Status:          filter.Status,
		Text:            filter.Text,
		IncludeArchived: filter.IncludeArchived,
	})
}
