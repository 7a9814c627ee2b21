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
	maxIssueTitleLen = 200
	maxIssueBodyLen  = 10000
)

const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
)

// transitions lists the legal status edges.
var transitions = map[string][]string{
	StatusOpen:       {StatusInProgress, StatusResolved, StatusClosed},
	StatusInProgress: {StatusOpen, StatusResolved, StatusClosed},
	StatusResolved:   {StatusOpen, StatusClosed},
	StatusClosed:     {StatusOpen},
}

var allowedPriorities = map[string]struct{}{
	"low":    {},
	"medium": {},
	"high":   {},
	"urgent": {},
}

const defaultPriority = "medium"

// CanTransition reports whether an issue may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func validStatus(status string) bool {
	_, ok := transitions[status]
	return ok
}

type IssueInput struct {
	Title      string
	Body       string
	Priority   string
	AssigneeID string
}

type IssueUpdate struct {
	Title      *string
	Body       *string
	Priority   *string
	AssigneeID *string
}

// IssueQuery narrows ListIssues. Text matches title or body case-insensitively.
type IssueQuery struct {
	Status          string
	Text            string
	IncludeArchived bool
}

func normalizeTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", invalid("title", "title is required")
	}
	if len([]rune(title)) > maxIssueTitleLen {
		return "", invalid("title", "title must be at most 200 characters")
	}
	return title, nil
}

func normalizeBody(raw string) (string, error) {
	body := strings.TrimSpace(raw)
	if len([]rune(body)) > maxIssueBodyLen {
		return "", invalid("body", "body must be at most 10000 characters")
	}
	return body, nil
}

func normalizePriority(raw string) (string, error) {
	priority := strings.ToLower(strings.TrimSpace(raw))
	if priority == "" {
		return defaultPriority, nil
	}
	if _, ok := allowedPriorities[priority]; !ok {
		return "", invalid("priority", "priority must be one of low, medium, high, urgent")
	}
	return priority, nil
}

func checkAssignee(project *store.Project, assigneeID string) error {
	if assigneeID != "" && !project.HasMember(assigneeID) {
		return invalid("assigneeId", "assignee must be a project member")
	}
	return nil
}

func (s *Service) CreateIssue(ctx context.Context, identity *rbac.Identity, projectID string, input IssueInput) (store.Issue, error) {
	if err := guardMutation(identity); err != nil {
		return store.Issue{}, err
	}
	const denied = "you cannot create issues in this project"
	var title, body, priority string
	err := s.precheck(ctx, func(doc *store.Document) error {
		if _, err := projectForMutation(doc, identity, projectID, denied); err != nil {
			return err
		}
		var err error
		if title, err = normalizeTitle(input.Title); err != nil {
			return err
		}
		if body, err = normalizeBody(input.Body); err != nil {
			return err
		}
		priority, err = normalizePriority(input.Priority)
		return err
	})
	if err != nil {
		return store.Issue{}, err
	}
	assigneeID := strings.TrimSpace(input.AssigneeID)

	var issue store.Issue
	err = s.mutate(ctx, "create issue", func(doc *store.Document) (audit.Entry, error) {
		project, err := projectForMutation(doc, identity, projectID, denied)
		if err != nil {
			return audit.Entry{}, err
		}
		if err := checkAssignee(project, assigneeID); err != nil {
			return audit.Entry{}, err
		}
		now := s.clock()
		issue = store.Issue{
			ID:         util.NewID("iss"),
			ProjectID:  project.ID,
			Title:      title,
			Body:       body,
			Status:     StatusOpen,
			Priority:   priority,
			ReporterID: identity.ID,
			AssigneeID: assigneeID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		doc.Issues = append(doc.Issues, issue)
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "issue.created",
			Payload:     map[string]any{"issueId": issue.ID, "projectId": project.ID, "title": issue.Title},
		}, nil
	})
	if err != nil {
		return store.Issue{}, err
	}
	return issue, nil
}

func (s *Service) GetIssue(ctx context.Context, identity *rbac.Identity, issueID string) (store.Issue, error) {
	if identity == nil {
		return store.Issue{}, unauthorized()
	}
	doc, err := s.readDoc(ctx, identity)
	if err != nil {
		return store.Issue{}, err
	}
	issue, project, err := lookupIssue(doc, issueID)
	if err != nil {
		return store.Issue{}, err
	}
	if !rbac.CanView(*project, identity) {
		return store.Issue{}, forbidden("you cannot view this issue")
	}
	return *issue, nil
}

// ListIssues returns the project's issues matching q, oldest first. Archived
// issues are left out unless q asks for them.
func (s *Service) ListIssues(ctx context.Context, identity *rbac.Identity, projectID string, q IssueQuery) ([]store.Issue, error) {
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
	status := strings.ToLower(strings.TrimSpace(q.Status))
	if status != "" && !validStatus(status) {
		return nil, invalid("status", "unknown status")
	}
	q.Status = status
	return filterIssues(doc, project.ID, q), nil
}

func filterIssues(doc *store.Document, projectID string, q IssueQuery) []store.Issue {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	out := make([]store.Issue, 0)
	for _, issue := range doc.Issues {
		if issue.ProjectID != projectID {
			continue
		}
		if issue.Archived && !q.IncludeArchived {
			continue
		}
		if q.Status != "" && issue.Status != q.Status {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(issue.Title), needle) &&
			!strings.Contains(strings.ToLower(issue.Body), needle) {
			continue
		}
		out = append(out, issue)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// normalize validates the fields the update sets.
func (u IssueUpdate) normalize() (title, body, priority, assigneeID string, err error) {
	if u.Title != nil {
		if title, err = normalizeTitle(*u.Title); err != nil {
			return "", "", "", "", err
		}
	}
	if u.Body != nil {
		if body, err = normalizeBody(*u.Body); err != nil {
			return "", "", "", "", err
		}
	}
	if u.Priority != nil {
		if priority, err = normalizePriority(*u.Priority); err != nil {
			return "", "", "", "", err
		}
	}
	if u.AssigneeID != nil {
		assigneeID = strings.TrimSpace(*u.AssigneeID)
	}
	return title, body, priority, assigneeID, nil
}

func (s *Service) UpdateIssue(ctx context.Context, identity *rbac.Identity, issueID string, input IssueUpdate) (store.Issue, error) {
	if err := guardMutation(identity); err != nil {
		return store.Issue{}, err
	}
	const denied = "you cannot edit issues in this project"
	var title, body, priority, assigneeID string
	err := s.precheck(ctx, func(doc *store.Document) error {
		if _, _, err := issueForMutation(doc, identity, issueID, denied); err != nil {
			return err
		}
		var err error
		title, body, priority, assigneeID, err = input.normalize()
		return err
	})
	if err != nil {
		return store.Issue{}, err
	}

	var updated store.Issue
	err = s.mutate(ctx, "update issue", func(doc *store.Document) (audit.Entry, error) {
		issue, project, err := issueForMutation(doc, identity, issueID, denied)
		if err != nil {
			return audit.Entry{}, err
		}
		if issue.Archived {
			return audit.Entry{}, invalid("issue", "archived issues cannot be edited")
		}
		changed := []string{}
		if input.Title != nil && issue.Title != title {
			issue.Title = title
			changed = append(changed, "title")
		}
		if input.Body != nil && issue.Body != body {
			issue.Body = body
			changed = append(changed, "body")
		}
		if input.Priority != nil && issue.Priority != priority {
			issue.Priority = priority
			changed = append(changed, "priority")
		}
		if input.AssigneeID != nil && issue.AssigneeID != assigneeID {
			if err := checkAssignee(project, assigneeID); err != nil {
				return audit.Entry{}, err
			}
			issue.AssigneeID = assigneeID
			changed = append(changed, "assigneeId")
		}
		if len(changed) == 0 {
			return audit.Entry{}, invalid("issue", "nothing to update")
		}
		issue.UpdatedAt = s.clock()
		updated = *issue
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "issue.updated",
			Payload:     map[string]any{"issueId": issue.ID, "projectId": project.ID, "fields": changed},
		}, nil
	})
	if err != nil {
		return store.Issue{}, err
	}
	return updated, nil
}

func normalizeStatus(raw string) (string, error) {
	status := strings.ToLower(strings.TrimSpace(raw))
	if status == "" {
		return "", invalid("toStatus", "toStatus is required")
	}
	if !validStatus(status) {
		return "", invalid("toStatus", "unknown status")
	}
	return status, nil
}

// TransitionIssue moves the issue along one legal status edge.
func (s *Service) TransitionIssue(ctx context.Context, identity *rbac.Identity, issueID, toStatus string) (store.Issue, error) {
	if err := guardMutation(identity); err != nil {
		return store.Issue{}, err
	}
	const denied = "you cannot change issues in this project"
	var to string
	err := s.precheck(ctx, func(doc *store.Document) error {
		if _, _, err := issueForMutation(doc, identity, issueID, denied); err != nil {
			return err
		}
		var err error
		to, err = normalizeStatus(toStatus)
		return err
	})
	if err != nil {
		return store.Issue{}, err
	}

	var updated store.Issue
	err = s.mutate(ctx, "transition issue", func(doc *store.Document) (audit.Entry, error) {
		issue, project, err := issueForMutation(doc, identity, issueID, denied)
		if err != nil {
			return audit.Entry{}, err
		}
		if issue.Archived {
			return audit.Entry{}, invalid("issue", "archived issues cannot change status")
		}
		from := issue.Status
		if !CanTransition(from, to) {
			return audit.Entry{}, domainError(ErrValidation, "illegal status transition", map[string]any{
				"field":   "toStatus",
				"from":    from,
				"to":      to,
				"allowed": transitions[from],
			})
		}
		issue.Status = to
		issue.UpdatedAt = s.clock()
		updated = *issue
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "issue.transitioned",
			Payload:     map[string]any{"issueId": issue.ID, "projectId": project.ID, "from": from, "to": to},
		}, nil
	})
	if err != nil {
		return store.Issue{}, err
	}
	return updated, nil
}

// ArchiveIssue hides the issue from default listings. Issues are never deleted.
func (s *Service) ArchiveIssue(ctx context.Context, identity *rbac.Identity, issueID string) (store.Issue, error) {
	if err := guardMutation(identity); err != nil {
		return store.Issue{}, err
	}
	const denied = "you cannot archive issues in this project"
	err := s.precheck(ctx, func(doc *store.Document) error {
		_, _, err := issueForMutation(doc, identity, issueID, denied)
		return err
	})
	if err != nil {
		return store.Issue{}, err
	}

	var updated store.Issue
	err = s.mutate(ctx, "archive issue", func(doc *store.Document) (audit.Entry, error) {
		issue, project, err := issueForMutation(doc, identity, issueID, denied)
		if err != nil {
			return audit.Entry{}, err
		}
		if issue.Archived {
			return audit.Entry{}, invalid("issue", "issue is already archived")
		}
		issue.Archived = true
		issue.UpdatedAt = s.clock()
		updated = *issue
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "issue.archived",
			Payload:     map[string]any{"issueId": issue.ID, "projectId": project.ID},
		}, nil
	})
	if err != nil {
		return store.Issue{}, err
	}
	return updated, nil
}
