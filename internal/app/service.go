package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"bughatch/internal/activity"
	"bughatch/internal/audit"
	"bughatch/internal/blob"
	"bughatch/internal/demo"
	"bughatch/internal/export"
	"bughatch/internal/rbac"
	"bughatch/internal/search"
	"bughatch/internal/store"
)

// Service hosts every entity operation. Mutations run in one store Tx that
// also records exactly one audit entry; reads go to the demo snapshot for
// demo identities and to the primary document otherwise.
type Service struct {
	docs     *store.Documents
	audit    *audit.Log
	overlay  *demo.Overlay
	activity *activity.Aggregator
	remover  blob.Remover
	search   *search.Service
	exporter *export.Service
	logger   *slog.Logger
	now      func() time.Time

	bootstrapAdmins map[string]struct{}
}

type Option func(*Service)

// WithRemover sets where deleted attachment files are removed from.
func WithRemover(remover blob.Remover) Option {
	return func(s *Service) { s.remover = remover }
}

// WithSearch routes issue search through the given index facade.
func WithSearch(svc *search.Service) Option {
	return func(s *Service) { s.search = svc }
}

// WithExporter replaces the issue report renderer.
func WithExporter(exporter *export.Service) Option {
	return func(s *Service) { s.exporter = exporter }
}

// WithBootstrapAdmins makes signups with one of the given emails admins.
func WithBootstrapAdmins(emails ...string) Option {
	return func(s *Service) {
		for _, raw := range emails {
			if email := strings.ToLower(strings.TrimSpace(raw)); email != "" {
				s.bootstrapAdmins[email] = struct{}{}
			}
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(docs *store.Documents, opts ...Option) *Service {
	s := &Service{
		docs:     docs,
		overlay:  demo.NewOverlay(docs),
		exporter: export.NewService(),
		logger:   slog.Default(),
		now:      time.Now,

		bootstrapAdmins: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.audit = audit.New(docs, s.clock)
	s.activity = activity.New(docs, s.overlay)
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Ping checks the backend connection and loads the primary document.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.docs.Ping(ctx); err != nil {
		return err
	}
	_, err := s.docs.Load(ctx, store.Primary)
	return err
}

// readDoc returns the document a read for identity is served from.
func (s *Service) readDoc(ctx context.Context, identity *rbac.Identity) (*store.Document, error) {
	if identity != nil && identity.IsDemo {
		doc, err := s.overlay.Snapshot(ctx)
		if err != nil {
			return nil, s.internal(ctx, "load demo snapshot", err)
		}
		return doc, nil
	}
	doc, err := s.docs.Load(ctx, store.Primary)
	if err != nil {
		return nil, s.internal(ctx, "load primary document", err)
	}
	return doc, nil
}

// guardMutation stops unauthenticated and read-only identities before the
// primary document is touched.
func guardMutation(identity *rbac.Identity) error {
	if identity == nil {
		return unauthorized()
	}
	if rbac.IsReadOnly(identity) {
		return forbidden("demo accounts are read-only")
	}
	return nil
}

// precheck runs check against an ungated read of the primary document, so a
// refused mutation returns without queueing for the write gate. The Tx runs
// the same resolve and policy steps again on the document it commits.
func (s *Service) precheck(ctx context.Context, check func(doc *store.Document) error) error {
	doc, err := s.docs.Load(ctx, store.Primary)
	if err != nil {
		return s.internal(ctx, "load primary document", err)
	}
	return check(doc)
}

// mutate runs fn in one load-mutate-persist cycle on the primary store and,
// when fn succeeds, records the audit entry it returns in the same cycle.
func (s *Service) mutate(ctx context.Context, op string, fn func(doc *store.Document) (audit.Entry, error)) error {
	tx, err := s.docs.Begin(ctx, store.Primary)
	if err != nil {
		return s.internal(ctx, op, err)
	}
	defer tx.Rollback()

	entry, err := fn(tx.Doc)
	if err != nil {
		return err
	}
	s.audit.Record(tx.Doc, entry)
	if err := tx.Commit(ctx); err != nil {
		return s.internal(ctx, op, err)
	}
	return nil
}

// internal logs a storage fault and converts it to an internal error.
func (s *Service) internal(ctx context.Context, op string, err error) error {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	s.logger.ErrorContext(ctx, "storage failure", "op", op, "err", err)
	return &DomainError{Type: ErrInternal, Message: "internal error", cause: err}
}

func lookupProject(doc *store.Document, id string) (*store.Project, error) {
	project := doc.ProjectByID(id)
	if project == nil {
		return nil, notFound("project not found")
	}
	return project, nil
}

// projectForMutation resolves the project and applies CanMutate.
func projectForMutation(doc *store.Document, identity *rbac.Identity, projectID, denied string) (*store.Project, error) {
	project, err := lookupProject(doc, projectID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanMutate(*project, identity) {
		return nil, forbidden(denied)
	}
	return project, nil
}

// projectForManagement resolves the project and applies CanManageProject.
func projectForManagement(doc *store.Document, identity *rbac.Identity, projectID, denied string) (*store.Project, error) {
	project, err := lookupProject(doc, projectID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanManageProject(*project, identity) {
		return nil, forbidden(denied)
	}
	return project, nil
}

// issueForMutation resolves the issue and applies CanMutate to its project.
func issueForMutation(doc *store.Document, identity *rbac.Identity, issueID, denied string) (*store.Issue, *store.Project, error) {
	issue, project, err := lookupIssue(doc, issueID)
	if err != nil {
		return nil, nil, err
	}
	if !rbac.CanMutate(*project, identity) {
		return nil, nil, forbidden(denied)
	}
	return issue, project, nil
}

// checkOwner applies the ownership rule for comments and attachments.
func checkOwner(project store.Project, identity *rbac.Identity, ownerID, denied string) error {
	if !rbac.CanModifyOwned(project, identity, ownerID) {
		return forbidden(denied)
	}
	return nil
}

// lookupIssue returns the issue and its project.
func lookupIssue(doc *store.Document, id string) (*store.Issue, *store.Project, error) {
	issue := doc.IssueByID(id)
	if issue == nil {
		return nil, nil, notFound("issue not found")
	}
	project, err := lookupProject(doc, issue.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	return issue, project, nil
}
