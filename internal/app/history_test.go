package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"bughatch/internal/store"
)

func TestDocumentHistoryNeedsAHistoricalBackend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.DocumentHistory(ctx, env.member, 5)
	assertType(t, err, ErrForbidden)
	_, err = env.svc.DocumentHistory(ctx, nil, 5)
	assertType(t, err, ErrUnauthorized)
	_, err = env.svc.DocumentHistory(ctx, env.admin, 5)
	assertType(t, err, ErrValidation)
	_, err = env.svc.DocumentRevision(ctx, env.admin, "abc")
	assertType(t, err, ErrValidation)
}

func TestDocumentRevisionOnGitBackend(t *testing.T) {
	backend, err := store.NewGitBackend(t.TempDir(), "tester")
	if err != nil {
		t.Fatalf("NewGitBackend() error = %v", err)
	}
	docs := store.NewDocuments(backend, nil)
	svc := New(docs,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithBootstrapAdmins("root@example.com"),
	)
	ctx := context.Background()

	root, err := svc.RegisterUser(ctx, RegisterInput{Email: "root@example.com", DisplayName: "Root"})
	if err != nil {
		t.Fatalf("RegisterUser() error = %v", err)
	}
	admin := identityOf(root)
	project, err := svc.CreateProject(ctx, admin, ProjectInput{Name: "Hatch"})
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if _, err := svc.CreateInvitation(ctx, admin, project.ID, "guest@example.com"); err != nil {
		t.Fatalf("CreateInvitation() error = %v", err)
	}

	revisions, err := svc.DocumentHistory(ctx, admin, 0)
	if err != nil {
		t.Fatalf("DocumentHistory() error = %v", err)
	}
	if len(revisions) < 3 {
		t.Fatalf("expected at least 3 revisions, got %d", len(revisions))
	}
	if limited, _ := svc.DocumentHistory(ctx, admin, 1); len(limited) != 1 {
		t.Fatalf("limit 1 returned %d revisions", len(limited))
	}

	head, err := svc.DocumentRevision(ctx, admin, revisions[0].Hash)
	if err != nil {
		t.Fatalf("DocumentRevision() error = %v", err)
	}
	if len(head.Invitations) != 1 || head.Invitations[0].TokenHash != "" {
		t.Fatalf("invitations at head = %+v", head.Invitations)
	}
	before, err := svc.DocumentRevision(ctx, admin, revisions[1].Hash)
	if err != nil {
		t.Fatalf("DocumentRevision() error = %v", err)
	}
	if len(before.Projects) != 1 || len(before.Invitations) != 0 {
		t.Fatalf("revision before invitation = %+v", before)
	}

	_, err = svc.DocumentRevision(ctx, admin, "0123456789abcdef0123456789abcdef01234567")
	assertType(t, err, ErrNotFound)
	_, err = svc.DocumentRevision(ctx, admin, " ")
	assertType(t, err, ErrValidation)
}
