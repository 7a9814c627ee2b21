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

// MaxAttachmentSize is the largest accepted upload in bytes.
const MaxAttachmentSize = 2 << 20

// Upload describes a file already stored by the upload handler.
type Upload struct {
	OriginalFilename string
	StoredFilename   string
	Path             string
	Size             int64
	MimeType         string
}

// AttachmentDeletion reports a soft delete. FileRemoved is false when the
// stored file could not be removed; the record stays deleted regardless.
type AttachmentDeletion struct {
	Attachment  store.Attachment `json:"attachment"`
	FileRemoved bool             `json:"fileRemoved"`
}

func validateUpload(upload Upload) error {
	if strings.TrimSpace(upload.OriginalFilename) == "" {
		return invalid("filename", "filename is required")
	}
	if strings.TrimSpace(upload.Path) == "" {
		return invalid("path", "stored path is required")
	}
	if upload.Size <= 0 {
		return invalid("size", "file is empty")
	}
	if upload.Size > MaxAttachmentSize {
		return domainError(ErrValidation, "file exceeds the 2MB limit", map[string]any{
			"field": "size",
			"limit": MaxAttachmentSize,
		})
	}
	return nil
}

// UploadAttachment records a reference to an uploaded file. Only the path,
// size and mime type are kept; a rejected upload is removed best-effort.
func (s *Service) UploadAttachment(ctx context.Context, identity *rbac.Identity, issueID string, upload Upload) (store.Attachment, error) {
	attachment, err := s.uploadAttachment(ctx, identity, issueID, upload)
	if err != nil {
		s.discardUpload(ctx, upload)
		return store.Attachment{}, err
	}
	return attachment, nil
}

func (s *Service) uploadAttachment(ctx context.Context, identity *rbac.Identity, issueID string, upload Upload) (store.Attachment, error) {
	if err := guardMutation(identity); err != nil {
		return store.Attachment{}, err
	}
	const denied = "you cannot attach files in this project"
	err := s.precheck(ctx, func(doc *store.Document) error {
		if _, _, err := issueForMutation(doc, identity, issueID, denied); err != nil {
			return err
		}
		return validateUpload(upload)
	})
	if err != nil {
		return store.Attachment{}, err
	}
	mime := strings.TrimSpace(upload.MimeType)
	if mime == "" {
		mime = "application/octet-stream"
	}

	var attachment store.Attachment
	err = s.mutate(ctx, "upload attachment", func(doc *store.Document) (audit.Entry, error) {
		issue, project, err := issueForMutation(doc, identity, issueID, denied)
		if err != nil {
			return audit.Entry{}, err
		}
		if issue.Archived {
			return audit.Entry{}, invalid("issue", "archived issues cannot receive attachments")
		}
		attachment = store.Attachment{
			ID:             util.NewID("att"),
			IssueID:        issue.ID,
			Filename:       strings.TrimSpace(upload.OriginalFilename),
			StoredFilename: upload.StoredFilename,
			Path:           upload.Path,
			Size:           upload.Size,
			Mime:           mime,
			UploadedBy:     identity.ID,
			CreatedAt:      s.clock(),
		}
		doc.Attachments = append(doc.Attachments, attachment)
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "attachment.created",
			Payload: map[string]any{
				"issueId":      issue.ID,
				"projectId":    project.ID,
				"attachmentId": attachment.ID,
				"filename":     attachment.Filename,
				"size":         attachment.Size,
			},
		}, nil
	})
	if err != nil {
		return store.Attachment{}, err
	}
	return attachment, nil
}

func (s *Service) discardUpload(ctx context.Context, upload Upload) {
	if s.remover == nil || strings.TrimSpace(upload.Path) == "" {
		return
	}
	if err := s.remover.Remove(ctx, upload.Path); err != nil {
		s.logger.WarnContext(ctx, "discard rejected upload", "path", upload.Path, "err", err)
	}
}

// ListAttachments returns the issue's visible attachments, oldest first.
func (s *Service) ListAttachments(ctx context.Context, identity *rbac.Identity, issueID string) ([]store.Attachment, error) {
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
	out := make([]store.Attachment, 0)
	for _, a := range doc.Attachments {
		if a.IssueID == issue.ID && !a.Deleted {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func lookupAttachment(doc *store.Document, attachmentID string) (*store.Attachment, *store.Issue, *store.Project, error) {
	attachment := doc.AttachmentByID(attachmentID)
	if attachment == nil || attachment.Deleted {
		return nil, nil, nil, notFound("attachment not found")
	}
	issue, project, err := lookupIssue(doc, attachment.IssueID)
	if err != nil {
		return nil, nil, nil, err
	}
	return attachment, issue, project, nil
}

func (s *Service) GetAttachment(ctx context.Context, identity *rbac.Identity, attachmentID string) (store.Attachment, error) {
	if identity == nil {
		return store.Attachment{}, unauthorized()
	}
	doc, err := s.readDoc(ctx, identity)
	if err != nil {
		return store.Attachment{}, err
	}
	attachment, _, project, err := lookupAttachment(doc, attachmentID)
	if err != nil {
		return store.Attachment{}, err
	}
	if !rbac.CanView(*project, identity) {
		return store.Attachment{}, forbidden("you cannot view this attachment")
	}
	return *attachment, nil
}

// DeleteAttachment soft-deletes the record, then removes the stored file.
// The two steps are independent: a removal failure is logged and reported
// through FileRemoved, never rolled back. Deleting again reports notfound.
func (s *Service) DeleteAttachment(ctx context.Context, identity *rbac.Identity, attachmentID string) (AttachmentDeletion, error) {
	if err := guardMutation(identity); err != nil {
		return AttachmentDeletion{}, err
	}
	const denied = "you can only delete your own attachments"
	resolve := func(doc *store.Document) (*store.Attachment, *store.Issue, *store.Project, error) {
		attachment, issue, project, err := lookupAttachment(doc, attachmentID)
		if err != nil {
			return nil, nil, nil, err
		}
		if !rbac.CanMutate(*project, identity) {
			return nil, nil, nil, forbidden("you cannot change attachments in this project")
		}
		if err := checkOwner(*project, identity, attachment.UploadedBy, denied); err != nil {
			return nil, nil, nil, err
		}
		return attachment, issue, project, nil
	}
	err := s.precheck(ctx, func(doc *store.Document) error {
		_, _, _, err := resolve(doc)
		return err
	})
	if err != nil {
		return AttachmentDeletion{}, err
	}

	var deleted store.Attachment
	err = s.mutate(ctx, "delete attachment", func(doc *store.Document) (audit.Entry, error) {
		attachment, issue, project, err := resolve(doc)
		if err != nil {
			return audit.Entry{}, err
		}
		now := s.clock()
		attachment.Deleted = true
		attachment.DeletedAt = &now
		deleted = *attachment
		return audit.Entry{
			ActorUserID: identity.ID,
			EventType:   "attachment.deleted",
			Payload:     map[string]any{"issueId": issue.ID, "projectId": project.ID, "attachmentId": attachment.ID},
		}, nil
	})
	if err != nil {
		return AttachmentDeletion{}, err
	}

	removed := false
	if s.remover != nil {
		if err := s.remover.Remove(ctx, deleted.Path); err != nil {
			s.logger.WarnContext(ctx, "attachment file removal failed", "attachmentId", deleted.ID, "path", deleted.Path, "err", err)
		} else {
			removed = true
		}
	}
	return AttachmentDeletion{Attachment: deleted, FileRemoved: removed}, nil
}
