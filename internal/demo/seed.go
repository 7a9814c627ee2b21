package demo

import (
	"context"
	"time"

	"bughatch/internal/store"
)

// Demo dataset ids referenced by tests and the sample identity.
const (
	UserID        = "demo-user"
	MaintainerID  = "demo-maintainer"
	ProjectID     = "demo-project"
	IssueLoginID  = "demo-issue-login"
	IssueExportID = "demo-issue-export"
)

// Seed writes the sample dataset to the demo store when it holds no projects,
// or unconditionally when force is set. It reports whether it wrote. Only the
// process entrypoint calls Seed; request handling never writes the demo store.
func Seed(ctx context.Context, docs *store.Documents, force bool) (bool, error) {
	current, err := docs.Load(ctx, store.Demo)
	if err != nil {
		return false, err
	}
	if len(current.Projects) > 0 && !force {
		return false, nil
	}
	if err := docs.Replace(ctx, store.Demo, Dataset(seedBase)); err != nil {
		return false, err
	}
	return true, nil
}

var seedBase = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

// Dataset builds the sample document anchored at base.
func Dataset(base time.Time) *store.Document {
	at := func(minutes int) time.Time { return base.Add(time.Duration(minutes) * time.Minute) }
	parent := "demo-comment-1"

	doc := store.NewDocument()
	doc.Users = []store.User{
		{ID: UserID, Role: "member", Email: "demo@bughatch.dev", DisplayName: "Demo Visitor", IsDemo: true, CreatedAt: at(0), UpdatedAt: at(0)},
		{ID: MaintainerID, Role: "member", Email: "maintainer@bughatch.dev", DisplayName: "Morgan Maintainer", IsDemo: true, CreatedAt: at(0), UpdatedAt: at(0)},
	}
	doc.Projects = []store.Project{
		{ID: ProjectID, Name: "Sample Shop", Description: "A storefront used to practise bug reporting.", OwnerID: MaintainerID, Members: []string{MaintainerID, UserID}, CreatedAt: at(1), UpdatedAt: at(1)},
	}
	doc.Issues = []store.Issue{
		{ID: IssueLoginID, ProjectID: ProjectID, Title: "Login button unresponsive on mobile", Body: "Tapping the login button on small screens does nothing.", Status: "open", Priority: "high", ReporterID: UserID, CreatedAt: at(10), UpdatedAt: at(10)},
		{ID: IssueExportID, ProjectID: ProjectID, Title: "CSV export drops the last row", Body: "Exporting the orders table omits the final record.", Status: "in_progress", Priority: "medium", ReporterID: MaintainerID, AssigneeID: MaintainerID, CreatedAt: at(20), UpdatedAt: at(35)},
	}
	doc.Comments = []store.Comment{
		{ID: parent, IssueID: IssueLoginID, AuthorID: MaintainerID, Body: "Reproduced on a 375px viewport.", CreatedAt: at(12), UpdatedAt: at(12)},
		{ID: "demo-comment-2", IssueID: IssueLoginID, AuthorID: UserID, ParentID: &parent, Body: "Same on tablets in portrait mode.", CreatedAt: at(15), UpdatedAt: at(15)},
		{ID: "demo-comment-3", IssueID: IssueExportID, AuthorID: MaintainerID, Body: "Off-by-one in the paginator.", CreatedAt: at(30), UpdatedAt: at(30)},
	}
	doc.Attachments = []store.Attachment{
		{ID: "demo-attachment-1", IssueID: IssueLoginID, Filename: "login-mobile.png", StoredFilename: "demo-login-mobile.png", Path: "demo/login-mobile.png", Size: 48213, Mime: "image/png", UploadedBy: UserID, CreatedAt: at(13)},
	}
	doc.Audit = []store.AuditEntry{
		{ID: "demo-event-1", ActorUserID: UserID, EventType: "issue.created", Payload: map[string]any{"issueId": IssueLoginID, "projectId": ProjectID}, CreatedAt: at(10)},
		{ID: "demo-event-2", ActorUserID: MaintainerID, EventType: "issue.created", Payload: map[string]any{"issueId": IssueExportID, "projectId": ProjectID}, CreatedAt: at(20)},
		{ID: "demo-event-3", ActorUserID: MaintainerID, EventType: "issue.transitioned", Payload: map[string]any{"issueId": IssueExportID, "projectId": ProjectID, "from": "open", "to": "in_progress"}, CreatedAt: at(35)},
	}
	return doc
}
