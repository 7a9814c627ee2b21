package app

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"bughatch/internal/activity"
	"bughatch/internal/audit"
	"bughatch/internal/demo"
	"bughatch/internal/rbac"
	"bughatch/internal/search"
	"bughatch/internal/store"
)

func TestCommentThreadingAndSoftDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	other, err := env.svc.CreateIssue(ctx, env.member, env.project.ID, IssueInput{Title: "Other"})
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}
	root, err := env.svc.CreateComment(ctx, env.member, env.issue.ID, CommentInput{Body: "Seen on Safari"})
	if err != nil {
		t.Fatalf("CreateComment() error = %v", err)
	}
	_, err = env.svc.CreateComment(ctx, env.owner, other.ID, CommentInput{Body: "wrong thread", ParentID: &root.ID})
	assertType(t, err, ErrValidation)
	_, err = env.svc.CreateComment(ctx, env.owner, env.issue.ID, CommentInput{Body: "x", ParentID: ptr("cmt_missing")})
	assertType(t, err, ErrValidation)

	reply, err := env.svc.CreateComment(ctx, env.owner, env.issue.ID, CommentInput{Body: "Confirmed", ParentID: &root.ID})
	if err != nil {
		t.Fatalf("CreateComment(reply) error = %v", err)
	}
	if reply.ParentID == nil || *reply.ParentID != root.ID {
		t.Fatalf("reply parent = %v, want %s", reply.ParentID, root.ID)
	}

	_, err = env.svc.EditComment(ctx, env.owner, root.ID, "edited by someone else")
	assertType(t, err, ErrForbidden)
	_, err = env.svc.DeleteComment(ctx, env.owner, root.ID)
	assertType(t, err, ErrForbidden)
	edited, err := env.svc.EditComment(ctx, env.member, root.ID, "Seen on Safari 17")
	if err != nil || edited.Body != "Seen on Safari 17" {
		t.Fatalf("EditComment() = %+v, %v", edited, err)
	}

	deleted, err := env.svc.DeleteComment(ctx, env.admin, root.ID)
	if err != nil {
		t.Fatalf("DeleteComment(admin) error = %v", err)
	}
	if !deleted.Deleted || deleted.DeletedAt == nil {
		t.Fatalf("comment not soft-deleted: %+v", deleted)
	}
	_, err = env.svc.DeleteComment(ctx, env.admin, root.ID)
	assertType(t, err, ErrNotFound)
	_, err = env.svc.CreateComment(ctx, env.member, env.issue.ID, CommentInput{Body: "late reply", ParentID: &root.ID})
	assertType(t, err, ErrValidation)

	comments, err := env.svc.ListComments(ctx, env.member, env.issue.ID)
	if err != nil {
		t.Fatalf("ListComments() error = %v", err)
	}
	if len(comments) != 1 || comments[0].ID != reply.ID {
		t.Fatalf("ListComments() = %+v, want only the reply", comments)
	}
	if stored := env.doc(t).CommentByID(root.ID); stored == nil || !stored.Deleted {
		t.Fatal("deleted comment must stay in the document")
	}

	items, err := env.svc.IssueActivity(ctx, env.member, env.issue.ID)
	if err != nil {
		t.Fatalf("IssueActivity() error = %v", err)
	}
	var sawDeleteEvent bool
	for _, item := range items {
		if item.Type == activity.TypeComment && item.ID == root.ID {
			t.Fatal("deleted comment listed in activity")
		}
		if entry, ok := item.Data.(store.AuditEntry); ok && entry.EventType == "comment.deleted" {
			sawDeleteEvent = true
			if item.ActorName != "Ada Admin" {
				t.Fatalf("ActorName = %q, want Ada Admin", item.ActorName)
			}
		}
	}
	if !sawDeleteEvent {
		t.Fatal("expected comment.deleted event in activity")
	}
	for i := 1; i < len(items); i++ {
		if items[i].CreatedAt.Before(items[i-1].CreatedAt) {
			t.Fatalf("activity out of order at %d", i)
		}
	}
}

func TestCommentBodyLimits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateComment(ctx, env.member, env.issue.ID, CommentInput{Body: strings.Repeat("a", 2001)})
	assertType(t, err, ErrValidation)
	if _, err := env.svc.CreateComment(ctx, env.member, env.issue.ID, CommentInput{Body: strings.Repeat("a", 2000)}); err != nil {
		t.Fatalf("CreateComment(2000 chars) error = %v", err)
	}
	_, err = env.svc.CreateComment(ctx, env.member, "iss_missing", CommentInput{Body: "hi"})
	assertType(t, err, ErrNotFound)
}

func TestAttachmentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	upload := Upload{OriginalFilename: "trace.har", StoredFilename: "f1.har", Path: "uploads/f1.har", Size: 512, MimeType: "application/json"}

	att, err := env.svc.UploadAttachment(ctx, env.member, env.issue.ID, upload)
	if err != nil {
		t.Fatalf("UploadAttachment() error = %v", err)
	}
	_, err = env.svc.DeleteAttachment(ctx, env.owner, att.ID)
	assertType(t, err, ErrForbidden)

	res, err := env.svc.DeleteAttachment(ctx, env.member, att.ID)
	if err != nil {
		t.Fatalf("DeleteAttachment() error = %v", err)
	}
	if !res.FileRemoved || !res.Attachment.Deleted {
		t.Fatalf("unexpected deletion result: %+v", res)
	}
	if len(env.remover.removed) != 1 || env.remover.removed[0] != upload.Path {
		t.Fatalf("removed = %v", env.remover.removed)
	}
	_, err = env.svc.DeleteAttachment(ctx, env.member, att.ID)
	assertType(t, err, ErrNotFound)
	_, err = env.svc.GetAttachment(ctx, env.member, att.ID)
	assertType(t, err, ErrNotFound)
	if got := env.auditCount(t, "attachment.deleted"); got != 1 {
		t.Fatalf("attachment.deleted entries = %d, want 1", got)
	}

	env.remover.removeFn = func(context.Context, string) error { return errors.New("bucket unavailable") }
	second, err := env.svc.UploadAttachment(ctx, env.member, env.issue.ID, Upload{OriginalFilename: "a.png", Path: "uploads/a.png", Size: 10})
	if err != nil {
		t.Fatalf("UploadAttachment() error = %v", err)
	}
	if second.Mime != "application/octet-stream" {
		t.Fatalf("Mime = %q", second.Mime)
	}
	res, err = env.svc.DeleteAttachment(ctx, env.admin, second.ID)
	if err != nil {
		t.Fatalf("DeleteAttachment() error = %v", err)
	}
	if res.FileRemoved {
		t.Fatal("FileRemoved must be false when removal fails")
	}
	if stored := env.doc(t).AttachmentByID(second.ID); stored == nil || !stored.Deleted {
		t.Fatal("record must stay deleted after a removal failure")
	}

	list, err := env.svc.ListAttachments(ctx, env.member, env.issue.ID)
	if err != nil || len(list) != 0 {
		t.Fatalf("ListAttachments() = %+v, %v", list, err)
	}
}

func TestUploadRejectionDiscardsFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		upload Upload
		want   ErrorType
	}{
		{name: "too large", upload: Upload{OriginalFilename: "big.zip", Path: "uploads/big.zip", Size: MaxAttachmentSize + 1}, want: ErrValidation},
		{name: "empty", upload: Upload{OriginalFilename: "empty.txt", Path: "uploads/empty.txt", Size: 0}, want: ErrValidation},
		{name: "unknown issue", upload: Upload{OriginalFilename: "a.txt", Path: "uploads/a.txt", Size: 1}, want: ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			issueID := env.issue.ID
			if tc.want == ErrNotFound {
				issueID = "iss_missing"
			}
			before := len(env.remover.removed)
			_, err := env.svc.UploadAttachment(ctx, env.member, issueID, tc.upload)
			assertType(t, err, tc.want)
			if len(env.remover.removed) != before+1 || env.remover.removed[before] != tc.upload.Path {
				t.Fatalf("rejected upload not discarded: %v", env.remover.removed)
			}
		})
	}
	if _, err := env.svc.UploadAttachment(ctx, env.member, env.issue.ID, Upload{OriginalFilename: "max.bin", Path: "uploads/max.bin", Size: MaxAttachmentSize}); err != nil {
		t.Fatalf("UploadAttachment(at limit) error = %v", err)
	}
}

func TestInvitationFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateInvitation(ctx, env.member, env.project.ID, env.outsider.Email)
	assertType(t, err, ErrForbidden)
	_, err = env.svc.CreateInvitation(ctx, env.owner, env.project.ID, env.member.Email)
	assertType(t, err, ErrConflict)

	issued, err := env.svc.CreateInvitation(ctx, env.owner, env.project.ID, "  OUTSIDER@example.com ")
	if err != nil {
		t.Fatalf("CreateInvitation() error = %v", err)
	}
	if raw, err := base64.RawURLEncoding.DecodeString(issued.Token); err != nil || len(raw) != invitationTokenBytes || issued.Invitation.TokenHash != "" {
		t.Fatalf("unexpected issued invitation: %+v", issued)
	}
	if issued.Invitation.Email != env.outsider.Email || issued.Invitation.Status != store.InvitationPending {
		t.Fatalf("unexpected invitation: %+v", issued.Invitation)
	}
	stored := env.doc(t).InvitationByID(issued.Invitation.ID)
	if stored == nil || stored.TokenHash == "" || stored.TokenHash == issued.Token {
		t.Fatal("token must be stored hashed")
	}
	_, err = env.svc.CreateInvitation(ctx, env.owner, env.project.ID, env.outsider.Email)
	assertType(t, err, ErrConflict)

	list, err := env.svc.ListInvitations(ctx, env.member, env.project.ID)
	if err != nil || len(list) != 1 || list[0].TokenHash != "" {
		t.Fatalf("ListInvitations() = %+v, %v", list, err)
	}

	_, err = env.svc.AcceptInvitation(ctx, env.member, issued.Invitation.ID, issued.Token)
	assertType(t, err, ErrForbidden)
	_, err = env.svc.AcceptInvitation(ctx, env.outsider, issued.Invitation.ID, "not-the-token")
	assertType(t, err, ErrForbidden)
	_, err = env.svc.AcceptInvitation(ctx, env.outsider, issued.Invitation.ID, "")
	assertType(t, err, ErrValidation)
	_, err = env.svc.AcceptInvitation(ctx, env.outsider, "inv_missing", issued.Token)
	assertType(t, err, ErrNotFound)

	project, err := env.svc.AcceptInvitation(ctx, env.outsider, issued.Invitation.ID, issued.Token)
	if err != nil {
		t.Fatalf("AcceptInvitation() error = %v", err)
	}
	if !project.HasMember(env.outsider.ID) {
		t.Fatal("accepted user not added to members")
	}
	_, err = env.svc.AcceptInvitation(ctx, env.outsider, issued.Invitation.ID, issued.Token)
	assertType(t, err, ErrValidation)

	pending, err := env.svc.CreateInvitation(ctx, env.owner, env.project.ID, env.viewer.Email)
	if err != nil {
		t.Fatalf("CreateInvitation() error = %v", err)
	}
	cancelled, err := env.svc.CancelInvitation(ctx, env.owner, pending.Invitation.ID)
	if err != nil {
		t.Fatalf("CancelInvitation() error = %v", err)
	}
	if cancelled.Status != store.InvitationCancelled {
		t.Fatalf("Status = %s, want cancelled", cancelled.Status)
	}
	if env.doc(t).InvitationByID(pending.Invitation.ID) != nil {
		t.Fatal("cancelled invitation must be removed")
	}
	_, err = env.svc.CancelInvitation(ctx, env.owner, pending.Invitation.ID)
	assertType(t, err, ErrNotFound)

	entries := audit.List(env.doc(t), audit.Query{EventType: "invitation.cancelled"})
	if len(entries) != 1 || entries[0].PayloadString("status") != store.InvitationCancelled {
		t.Fatalf("cancel audit entries = %+v", entries)
	}
}

func TestRejectInvitation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	issued, err := env.svc.CreateInvitation(ctx, env.owner, env.project.ID, env.outsider.Email)
	if err != nil {
		t.Fatalf("CreateInvitation() error = %v", err)
	}
	rejected, err := env.svc.RejectInvitation(ctx, env.outsider, issued.Invitation.ID, issued.Token)
	if err != nil {
		t.Fatalf("RejectInvitation() error = %v", err)
	}
	if rejected.Status != store.InvitationRejected || rejected.RespondedAt == nil || rejected.TokenHash != "" {
		t.Fatalf("unexpected rejected invitation: %+v", rejected)
	}
	if env.doc(t).ProjectByID(env.project.ID).HasMember(env.outsider.ID) {
		t.Fatal("rejecting must not add the member")
	}
	_, err = env.svc.CancelInvitation(ctx, env.owner, issued.Invitation.ID)
	assertType(t, err, ErrValidation)
}

func TestSavedFilters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.svc.CreateIssue(ctx, env.member, env.project.ID, IssueInput{Title: "Checkout button hidden"}); err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}
	if _, err := env.svc.TransitionIssue(ctx, env.member, env.issue.ID, StatusInProgress); err != nil {
		t.Fatalf("TransitionIssue() error = %v", err)
	}

	filter, err := env.svc.CreateFilter(ctx, env.member, env.project.ID, FilterInput{Name: "Working", Status: "IN_PROGRESS"})
	if err != nil {
		t.Fatalf("CreateFilter() error = %v", err)
	}
	_, err = env.svc.CreateFilter(ctx, env.member, env.project.ID, FilterInput{Name: "working"})
	assertType(t, err, ErrConflict)
	_, err = env.svc.CreateFilter(ctx, env.member, env.project.ID, FilterInput{Name: "Bad", Status: "someday"})
	assertType(t, err, ErrValidation)
	if _, err := env.svc.CreateFilter(ctx, env.owner, env.project.ID, FilterInput{Name: "Working"}); err != nil {
		t.Fatalf("same name for another owner: %v", err)
	}

	issues, err := env.svc.ApplyFilter(ctx, env.member, filter.ID)
	if err != nil {
		t.Fatalf("ApplyFilter() error = %v", err)
	}
	if len(issues) != 1 || issues[0].ID != env.issue.ID {
		t.Fatalf("ApplyFilter() = %+v", issues)
	}
	_, err = env.svc.ApplyFilter(ctx, env.owner, filter.ID)
	assertType(t, err, ErrNotFound)

	mine, err := env.svc.ListFilters(ctx, env.member, env.project.ID)
	if err != nil || len(mine) != 1 {
		t.Fatalf("ListFilters() = %+v, %v", mine, err)
	}

	err = env.svc.DeleteFilter(ctx, env.owner, filter.ID)
	assertType(t, err, ErrForbidden)
	if err := env.svc.DeleteFilter(ctx, env.admin, filter.ID); err != nil {
		t.Fatalf("DeleteFilter(admin) error = %v", err)
	}
	err = env.svc.DeleteFilter(ctx, env.member, filter.ID)
	assertType(t, err, ErrNotFound)
}

func TestSearchIssuesScopesToVisibleProjects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	otherProject, err := env.svc.CreateProject(ctx, env.outsider, ProjectInput{Name: "Private"})
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if _, err := env.svc.CreateIssue(ctx, env.outsider, otherProject.ID, IssueInput{Title: "Cart icon misaligned"}); err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}

	resp, err := env.svc.SearchIssues(ctx, env.member, "CART", 0)
	if err != nil {
		t.Fatalf("SearchIssues() error = %v", err)
	}
	if resp.Source != search.SourceScan || resp.Total != 1 || resp.Results[0].ID != env.issue.ID {
		t.Fatalf("member search = %+v", resp)
	}

	resp, err = env.svc.SearchIssues(ctx, env.admin, "cart", 0)
	if err != nil || resp.Total != 2 {
		t.Fatalf("admin search = %+v, %v", resp, err)
	}

	withService := New(env.docs, WithSearch(search.NewService(nil, env.docs, nil)))
	resp, err = withService.SearchIssues(ctx, env.outsider, "cart", 0)
	if err != nil {
		t.Fatalf("SearchIssues() error = %v", err)
	}
	if resp.Total != 1 || resp.Results[0].ProjectID != otherProject.ID {
		t.Fatalf("outsider search = %+v", resp)
	}

	_, err = env.svc.SearchIssues(ctx, nil, "cart", 0)
	assertType(t, err, ErrUnauthorized)
}

func TestAuditTrailRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.AuditTrail(ctx, env.owner, audit.Query{})
	assertType(t, err, ErrForbidden)
	entries, err := env.svc.AuditTrail(ctx, env.admin, audit.Query{EventType: "issue.created"})
	if err != nil {
		t.Fatalf("AuditTrail() error = %v", err)
	}
	if len(entries) != 1 || entries[0].PayloadString("issueId") != env.issue.ID {
		t.Fatalf("AuditTrail() = %+v", entries)
	}
}

func TestDemoIdentityIsIsolated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := demo.Seed(ctx, env.docs, false); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	visitor := &rbac.Identity{ID: demo.UserID, Role: rbac.RoleMember, Email: "demo@bughatch.dev", IsDemo: true}
	primaryWrites := env.backend.Writes(store.Primary)
	demoWrites := env.backend.Writes(store.Demo)

	issue, err := env.svc.GetIssue(ctx, visitor, demo.IssueLoginID)
	if err != nil {
		t.Fatalf("GetIssue(demo) error = %v", err)
	}
	if issue.ProjectID != demo.ProjectID {
		t.Fatalf("demo issue project = %s", issue.ProjectID)
	}
	_, err = env.svc.GetIssue(ctx, visitor, env.issue.ID)
	assertType(t, err, ErrNotFound)

	projects, err := env.svc.ListProjects(ctx, visitor)
	if err != nil || len(projects) != 1 || projects[0].ID != demo.ProjectID {
		t.Fatalf("ListProjects(demo) = %+v, %v", projects, err)
	}
	comments, err := env.svc.ListComments(ctx, visitor, demo.IssueLoginID)
	if err != nil || len(comments) != 2 {
		t.Fatalf("ListComments(demo) = %+v, %v", comments, err)
	}
	items, err := env.svc.IssueActivity(ctx, visitor, demo.IssueLoginID)
	if err != nil || len(items) == 0 {
		t.Fatalf("IssueActivity(demo) = %d items, %v", len(items), err)
	}
	resp, err := env.svc.SearchIssues(ctx, visitor, "login", 0)
	if err != nil || resp.Total != 1 || resp.Results[0].ID != demo.IssueLoginID {
		t.Fatalf("SearchIssues(demo) = %+v, %v", resp, err)
	}

	mutations := []struct {
		name string
		run  func() error
	}{
		{"create project", func() error {
			_, err := env.svc.CreateProject(ctx, visitor, ProjectInput{Name: "Demo fork"})
			return err
		}},
		{"create issue", func() error {
			_, err := env.svc.CreateIssue(ctx, visitor, demo.ProjectID, IssueInput{Title: "x"})
			return err
		}},
		{"update issue", func() error {
			_, err := env.svc.UpdateIssue(ctx, visitor, demo.IssueLoginID, IssueUpdate{Title: ptr("y")})
			return err
		}},
		{"transition issue", func() error {
			_, err := env.svc.TransitionIssue(ctx, visitor, demo.IssueLoginID, StatusClosed)
			return err
		}},
		{"archive issue", func() error {
			_, err := env.svc.ArchiveIssue(ctx, visitor, demo.IssueLoginID)
			return err
		}},
		{"create comment", func() error {
			_, err := env.svc.CreateComment(ctx, visitor, demo.IssueLoginID, CommentInput{Body: "hi"})
			return err
		}},
		{"delete comment", func() error {
			_, err := env.svc.DeleteComment(ctx, visitor, "demo-comment-1")
			return err
		}},
		{"upload attachment", func() error {
			_, err := env.svc.UploadAttachment(ctx, visitor, demo.IssueLoginID, Upload{OriginalFilename: "a.txt", Path: "uploads/a.txt", Size: 1})
			return err
		}},
		{"invite", func() error {
			_, err := env.svc.CreateInvitation(ctx, visitor, demo.ProjectID, "friend@example.com")
			return err
		}},
		{"save filter", func() error {
			_, err := env.svc.CreateFilter(ctx, visitor, demo.ProjectID, FilterInput{Name: "Mine"})
			return err
		}},
		{"update profile", func() error {
			_, err := env.svc.UpdateProfile(ctx, visitor, visitor.ID, ProfileInput{DisplayName: ptr("Hacker")})
			return err
		}},
	}
	for _, m := range mutations {
		assertType(t, m.run(), ErrForbidden)
	}
	_, err = env.svc.AuditTrail(ctx, visitor, audit.Query{})
	assertType(t, err, ErrForbidden)

	if got := env.backend.Writes(store.Primary); got != primaryWrites {
		t.Fatalf("primary writes = %d, want %d", got, primaryWrites)
	}
	if got := env.backend.Writes(store.Demo); got != demoWrites {
		t.Fatalf("demo writes = %d, want %d", got, demoWrites)
	}
}

func TestExportIssueHTML(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.svc.CreateComment(ctx, env.member, env.issue.ID, CommentInput{Body: "Repro on staging"}); err != nil {
		t.Fatalf("CreateComment() error = %v", err)
	}
	if _, err := env.svc.TransitionIssue(ctx, env.member, env.issue.ID, StatusInProgress); err != nil {
		t.Fatalf("TransitionIssue() error = %v", err)
	}

	res, err := env.svc.ExportIssue(ctx, env.viewer, env.issue.ID, "HTML")
	if err != nil {
		t.Fatalf("ExportIssue() error = %v", err)
	}
	html := string(res.Data)
	for _, want := range []string{"Cart total is wrong", "Checkout", "Olive Owner", "Repro on staging", "issue.transitioned: open → in_progress"} {
		if !strings.Contains(html, want) {
			t.Errorf("export missing %q", want)
		}
	}
	if res.Filename != "Cart-total-is-wrong.html" {
		t.Fatalf("Filename = %q", res.Filename)
	}

	_, err = env.svc.ExportIssue(ctx, env.member, env.issue.ID, "rtf")
	assertType(t, err, ErrValidation)
	_, err = env.svc.ExportIssue(ctx, env.outsider, env.issue.ID, "html")
	assertType(t, err, ErrForbidden)
}
