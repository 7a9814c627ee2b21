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

const maxCommentLen = 2000

type CommentInput struct {
	Body     string
	ParentID *string
}

func normalizeCommentBody(raw string) (string, error) {
	body := strings.TrimSpace(raw)
	if body == "" {
		return "", invalid("body", "comment body is required")
	}
	if len([]rune(body)) > maxCommentLen {
		return "", invalid("body", "comment body must be at most 2000 characters")
	}
	return body, nil
}

// CreateComment adds a comment to an issue. A reply must name a visible
// comment on the same issue.
func (s *Service) CreateComment(ctx context.Context, identity *rbac.Identity, issueID string, input CommentInput) (store.Comment, error) {
	if err := guardMutation(identity); err != nil {
		return store.Comment{}, err
	}
	const denied = "you cannot comment in this project"
	var body string
	err := s.precheck(ctx, func(doc *store.Document) error {
		if _, _, err := issueForMutation(doc, identity, issueID, denied); err != nil {
			return err
		}
		var err error
		body, err = normalizeCommentBody(input.Body)
		return err
	})
	if err != nil {
		return store.Comment{}, err
	}
	var parentID *string
	if input.ParentID != nil {
		if id := strings.TrimSpace(*input.ParentID); id != "" {
			parentID = &id
		}
	}

	var comment store.Comment
	err = s.mutate(ctx, "create comment", func(doc *store.Document) (audit.Entry, error) {
		issue, project, err := issueForMutation(doc, identity, issueID, denied)
		if err != nil {
			return audit.Entry{}, err
		}
		if issue.Archived {
			return audit.Entry{}, invalid("issue", "archived issues cannot be commented on")
		}
		if parentID != nil {
			parent := doc.CommentByID(*parentID)
			if parent == nil || parent.Deleted || parent.IssueID != issue.ID {
				return audit.Entry{}, invalid("parentId", "parent comment must belong to the same issue")
			}
		}
		now := s.clock()
		comment = store.Comment{
			ID:        util.NewID("cmt"),
			IssueID:   issue.ID,
			AuthorID:  identity.ID,
			ParentID:  parentID,
			Body:      body,
			CreatedAt: now,
			UpdatedAt: now,
		}
		doc.Comments = append(doc.Comments, comment)
		payload := map[string]any{"issueId": issue.ID, "projectId": project.ID, "commentId": comment.ID}
		if parentID != nil {
			payload["parentId"] = *parentID
		}
		return audit.Entry{ActorUserID: identity.ID, EventType: "comment.created", Payload: payload}, nil
	})
	if err != nil {
		return store.Comment{}, err
	}
	return comment, nil
}

// ListComments returns the issue's visible comments, oldest first.
func (s *Service) ListComments(ctx context.Context, identity *rbac.Identity, issueID string) ([]store.Comment, error) {
	if identity == nil {
		return nil, unauthorized()
	}
	doc, err := s.readDoc(ctx, identity)
	if err != nil {
		return nil, err
	}
	issue, project, err := lookupIssue(doc, issueID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanView(*project, identity) {
		return nil, forbidden("you cannot view this issue")
	}
	out := make([]store.Comment, 0)
	for _, c := range doc.Comments {
		if c.IssueID == issue.ID && !c.Deleted {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// lookupComment resolves a visible comment with its issue and project.
func lookupComment(doc *store.Document, commentID string) (*store.Comment, *store.Issue, *store.Project, error) {
	comment := doc.CommentByID(commentID)
	if comment == nil || comment.Deleted {
		return nil, nil, nil, notFound("comment not found")
	}
	issue, project, err := lookupIssue(doc, comment.IssueID)
	if err != nil {
		return nil, nil, nil, err
	}
	return comment, issue, project, nil
}

// commentForMutation resolves the comment and applies CanMutate to its
// project. The ownership rule is checked separately by the caller.
func commentForMutation(doc *store.Document, identity *rbac.Identity, commentID string) (*store.Comment, *store.Issue, *store.Project, error) {
	comment, issue, project, err := lookupComment(doc, commentID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !rbac.CanMutate(*project, identity) {
		return nil, nil, nil, forbidden("you cannot change comments in this project")
	}
	return comment, issue, project, nil
}

func (s *Service) EditComment(ctx context.Context, identity *rbac.Identity, commentID, body string) (store.Comment, error) {
	if err := guardMutation(identity); err != nil {
		return store.Comment{}, err
	}
	const denied = "you can only edit your own comments"
	var text string
	err := s.precheck(ctx, func(doc *store.Document) error {
		comment, _, project, err := commentForMutation(doc, identity, commentID)
		if err != nil {
			return err
		}
		if text, err = normalizeCommentBody(body); err != nil {
			return err
		}
		return checkOwner(*project, identity, comment.AuthorID, denied)
	})
	if err != nil {
		return store.Comment{}, err
	}

	var updated store.Comment
	err = s.mutate(ctx, "edit comment", func(doc *store.Document) (audit.Entry, error) {
		comment, issue, project, err := commentForMutation(doc, identity, commentID)
		if err != nil {
			return audit.Entry{}, err
		}
		if err := checkOwner(*project, identity, comment.AuthorID, denied); err != nil {
			return audit.Entry{}, err
		}
		if comment.Body == text {
			return audit.Entry{}, invalid("body", "nothing to update")
		}
		comment.Body = text
		comment.UpdatedAt = s.clock()
		updated = *comment
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "comment.updated",
			Payload:     map[string]any{"issueId": issue.ID, "projectId": project.ID, "commentId": comment.ID},
		}, nil
	})
	if err != nil {
		return store.Comment{}, err
	}
	return updated, nil
}

// DeleteComment soft-deletes the comment. Deleting it again reports notfound.
func (s *Service) DeleteComment(ctx context.Context, identity *rbac.Identity, commentID string) (store.Comment, error) {
	if err := guardMutation(identity); err != nil {
		return store.Comment{}, err
	}
	const denied = "you can only delete your own comments"
	err := s.precheck(ctx, func(doc *store.Document) error {
		comment, _, project, err := commentForMutation(doc, identity, commentID)
		if err != nil {
			return err
		}
		return checkOwner(*project, identity, comment.AuthorID, denied)
	})
	if err != nil {
		return store.Comment{}, err
	}

	var deleted store.Comment
	err = s.mutate(ctx, "delete comment", func(doc *store.Document) (audit.Entry, error) {
		comment, issue, project, err := commentForMutation(doc, identity, commentID)
		if err != nil {
			return audit.Entry{}, err
		}
		if err := checkOwner(*project, identity, comment.AuthorID, denied); err != nil {
			return audit.Entry{}, err
		}
		now := s.clock()
		comment.Deleted = true
		comment.DeletedAt = &now
		deleted = *comment
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "comment.deleted",
			Payload:     map[string]any{"issueId": issue.ID, "projectId": project.ID, "commentId": comment.ID},
		}, nil
	})
	if err != nil {
		return store.Comment{}, err
	}
	return deleted, nil
}
