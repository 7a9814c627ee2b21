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

const (
	maxProjectNameLen = 100
	maxProjectDescLen = 2000
)

type ProjectInput struct {
	Name        string
	Description string
}

type ProjectUpdate struct {
	Name        *string
	Description *string
}

func normalizeProjectName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", invalid("name", "name is required")
	}
	if len([]rune(name)) > maxProjectNameLen {
		return "", invalid("name", "name is too long")
	}
	return name, nil
}

func normalizeProjectDescription(raw string) (string, error) {
	desc := strings.TrimSpace(raw)
	if len([]rune(desc)) > maxProjectDescLen {
		return "", invalid("description", "description is too long")
	}
	return desc, nil
}

func projectNameTaken(doc *store.Document, name, exceptID string) bool {
	for _, p := range doc.Projects {
		if p.ID != exceptID && strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

// CreateProject starts a project owned by the caller, who also becomes its
// first member. Project names are unique case-insensitively.
func (s *Service) CreateProject(ctx context.Context, identity *rbac.Identity, input ProjectInput) (store.Project, error) {
	if err := guardMutation(identity); err != nil {
		return store.Project{}, err
	}
	if !rbac.CanCreateProject(identity) {
		return store.Project{}, forbidden("you cannot create projects")
	}
	name, err := normalizeProjectName(input.Name)
	if err != nil {
		return store.Project{}, err
	}
	desc, err := normalizeProjectDescription(input.Description)
	if err != nil {
		return store.Project{}, err
	}

	var project store.Project
	err = s.mutate(ctx, "create project", func(doc *store.Document) (audit.Entry, error) {
		if projectNameTaken(doc, name, "") {
			return audit.Entry{}, conflict("a project with this name already exists")
		}
		now := s.clock()
		project = store.Project{
			ID:          util.NewID("prj"),
			Name:        name,
			Description: desc,
			OwnerID:     identity.ID,
			Members:     []string{identity.ID},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		doc.Projects = append(doc.Projects, project)
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "project.created",
			Payload:     map[string]any{"projectId": project.ID, "name": project.Name},
		}, nil
	})
	if err != nil {
		return store.Project{}, err
	}
	return project, nil
}

func (s *Service) GetProject(ctx context.Context, identity *rbac.Identity, projectID string) (store.Project, error) {
	if identity == nil {
		return store.Project{}, unauthorized()
	}
	doc, err := s.readDoc(ctx, identity)
	if err != nil {
		return store.Project{}, err
	}
	project, err := lookupProject(doc, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if !rbac.CanView(*project, identity) {
		return store.Project{}, forbidden("you cannot view this project")
	}
	return *project, nil
}

// ListProjects returns the projects identity can view, oldest first.
func (s *Service) ListProjects(ctx context.Context, identity *rbac.Identity) ([]store.Project, error) {
	if identity == nil {
		return nil, unauthorized()
	}
	doc, err := s.readDoc(ctx, identity)
	if err != nil {
		return nil, err
	}
	return visibleProjects(doc, identity), nil
}

func visibleProjects(doc *store.Document, identity *rbac.Identity) []store.Project {
	out := make([]store.Project, 0)
	for _, p := range doc.Projects {
		if rbac.CanView(p, identity) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Service) UpdateProject(ctx context.Context, identity *rbac.Identity, projectID string, input ProjectUpdate) (store.Project, error) {
	if err := guardMutation(identity); err != nil {
		return store.Project{}, err
	}
	const denied = "only the project owner can edit the project"
	var name, desc string
	err := s.precheck(ctx, func(doc *store.Document) error {
		if _, err := projectForManagement(doc, identity, projectID, denied); err != nil {
			return err
		}
		var err error
		if input.Name != nil {
			if name, err = normalizeProjectName(*input.Name); err != nil {
				return err
			}
		}
		if input.Description != nil {
			if desc, err = normalizeProjectDescription(*input.Description); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return store.Project{}, err
	}

	var updated store.Project
	err = s.mutate(ctx, "update project", func(doc *store.Document) (audit.Entry, error) {
		project, err := projectForManagement(doc, identity, projectID, denied)
		if err != nil {
			return audit.Entry{}, err
		}
		changed := []string{}
		if input.Name != nil && project.Name != name {
			if projectNameTaken(doc, name, project.ID) {
				return audit.Entry{}, conflict("a project with this name already exists")
			}
			project.Name = name
			changed = append(changed, "name")
		}
		if input.Description != nil && project.Description != desc {
			project.Description = desc
			changed = append(changed, "description")
		}
		if len(changed) == 0 {
			return audit.Entry{}, invalid("project", "nothing to update")
		}
		project.UpdatedAt = s.clock()
		updated = *project
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "project.updated",
			Payload:     map[string]any{"projectId": project.ID, "fields": changed},
		}, nil
	})
	if err != nil {
		return store.Project{}, err
	}
	return updated, nil
}

func (s *Service) AddMember(ctx context.Context, identity *rbac.Identity, projectID, userID string) (store.Project, error) {
	if err := guardMutation(identity); err != nil {
		return store.Project{}, err
	}
	const denied = "only the project owner can manage members"
	err := s.precheck(ctx, func(doc *store.Document) error {
		_, err := projectForManagement(doc, identity, projectID, denied)
		return err
	})
	if err != nil {
		return store.Project{}, err
	}

	var updated store.Project
	err = s.mutate(ctx, "add member", func(doc *store.Document) (audit.Entry, error) {
		project, err := projectForManagement(doc, identity, projectID, denied)
		if err != nil {
			return audit.Entry{}, err
		}
		if doc.UserByID(userID) == nil {
			return audit.Entry{}, notFound("user not found")
		}
		if project.HasMember(userID) {
			return audit.Entry{}, conflict("user is already a member")
		}
		project.Members = append(project.Members, userID)
		project.UpdatedAt = s.clock()
		updated = *project
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "project.member_added",
			Payload:     map[string]any{"projectId": project.ID, "userId": userID},
		}, nil
	})
	if err != nil {
		return store.Project{}, err
	}
	return updated, nil
}

// RemoveMember drops userID from the project. The owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, identity *rbac.Identity, projectID, userID string) (store.Project, error) {
	if err := guardMutation(identity); err != nil {
		return store.Project{}, err
	}
	const denied = "only the project owner can manage members"
	err := s.precheck(ctx, func(doc *store.Document) error {
		_, err := projectForManagement(doc, identity, projectID, denied)
		return err
	})
	if err != nil {
		return store.Project{}, err
	}

	var updated store.Project
	err = s.mutate(ctx, "remove member", func(doc *store.Document) (audit.Entry, error) {
		project, err := projectForManagement(doc, identity, projectID, denied)
		if err != nil {
			return audit.Entry{}, err
		}
		if userID == project.OwnerID {
			return audit.Entry{}, invalid("userId", "the project owner cannot be removed")
		}
		if !project.HasMember(userID) {
			return audit.Entry{}, notFound("user is not a member")
		}
		members := make([]string, 0, len(project.Members))
		for _, id := range project.Members {
			if id != userID {
				members = append(members, id)
			}
		}
		project.Members = members
		project.UpdatedAt = s.clock()
		updated = *project
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "project.member_removed",
			Payload:     map[string]any{"projectId": project.ID, "userId": userID},
		}, nil
	})
	if err != nil {
		return store.Project{}, err
	}
	return updated, nil
}
