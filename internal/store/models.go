package store

import (
	"encoding/json"
	"time"
)

// StoreID names a logical document.
type StoreID = string

const (
	// Primary holds production data.
	Primary StoreID = "primary"
	// Demo holds the read-only sample dataset served to demo identities.
	Demo StoreID = "demo"
)

type User struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	IsDemo      bool      `json:"isDemo,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"ownerId"`
	Members     []string  `json:"members"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HasMember reports whether userID is listed in the project's members.
func (p Project) HasMember(userID string) bool {
	for _, id := range p.Members {
		if id == userID {
			return true
		}
	}
	return false
}

type Issue struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"projectId"`
	Title      string    `json:"title"`
	Body       string    `json:"body,omitempty"`
	Status     string    `json:"status"`
	Priority   string    `json:"priority"`
	ReporterID string    `json:"reporterId"`
	AssigneeID string    `json:"assigneeId,omitempty"`
	Archived   bool      `json:"archived"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Comment struct {
	ID        string     `json:"id"`
	IssueID   string     `json:"issueId"`
	AuthorID  string     `json:"authorId"`
	ParentID  *string    `json:"parentId"`
	Body      string     `json:"body"`
	Deleted   bool       `json:"deleted"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

type Attachment struct {
	ID             string     `json:"id"`
	IssueID        string     `json:"issueId"`
	Filename       string     `json:"filename"`
	StoredFilename string     `json:"storedFilename"`
	Path           string     `json:"path"`
	Size           int64      `json:"size"`
	Mime           string     `json:"mime"`
	UploadedBy     string     `json:"uploadedBy"`
	Deleted        bool       `json:"deleted"`
	CreatedAt      time.Time  `json:"createdAt"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

type Invitation struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Email       string     `json:"email"`
	TokenHash   string     `json:"tokenHash"`
	Status      string     `json:"status"`
	InvitedBy   string     `json:"invitedBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
}

const (
	InvitationPending   = "pending"
	InvitationAccepted  = "accepted"
	InvitationRejected  = "rejected"
	InvitationCancelled = "cancelled"
)

// Filter is a saved issue query owned by one user.
type Filter struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"ownerId"`
	ProjectID       string    `json:"projectId"`
	Name            string    `json:"name"`
	Status          string    `json:"status,omitempty"`
	Text            string    `json:"text,omitempty"`
	IncludeArchived bool      `json:"includeArchived,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// AuditEntry is an immutable record of one successful mutation.
type AuditEntry struct {
	ID          string         `json:"id"`
	ActorUserID string         `json:"actorUserId"`
	EventType   string         `json:"eventType"`
	Payload     map[string]any `json:"payloadObject"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// PayloadString returns payload[key] when it holds a string.
func (e AuditEntry) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	value, _ := e.Payload[key].(string)
	return value
}

// OutboxEntry is a pending notification written alongside its audit entry.
type OutboxEntry struct {
	ID          string         `json:"id"`
	Topic       string         `json:"topic"`
	Payload     map[string]any `json:"payload"`
	CreatedAt   time.Time      `json:"createdAt"`
	DeliveredAt *time.Time     `json:"deliveredAt,omitempty"`
	Attempts    int            `json:"attempts,omitempty"`
	LastError   string         `json:"lastError,omitempty"`
}

// Document is the whole persisted state of one store.
type Document struct {
	Users       []User        `json:"users"`
	Projects    []Project     `json:"projects"`
	Issues      []Issue       `json:"issues"`
	Comments    []Comment     `json:"comments"`
	Attachments []Attachment  `json:"attachments"`
	Invitations []Invitation  `json:"invitations"`
	Filters     []Filter      `json:"filters"`
	Audit       []AuditEntry  `json:"audit"`
	Outbox      []OutboxEntry `json:"outbox"`

	// Extra keeps top-level keys this version does not know about so that a
	// replace never drops them.
	Extra map[string]json.RawMessage `json:"-"`
}

// NewDocument returns a document with every collection present and empty.
func NewDocument() *Document {
	doc := &Document{}
	doc.normalize()
	return doc
}

func (d *Document) normalize() {
	if d.Users == nil {
		d.Users = []User{}
	}
	if d.Projects == nil {
		d.Projects = []Project{}
	}
	if d.Issues == nil {
		d.Issues = []Issue{}
	}
	if d.Comments == nil {
		d.Comments = []Comment{}
	}
	if d.Attachments == nil {
		d.Attachments = []Attachment{}
	}
	if d.Invitations == nil {
		d.Invitations = []Invitation{}
	}
	if d.Filters == nil {
		d.Filters = []Filter{}
	}
	if d.Audit == nil {
		d.Audit = []AuditEntry{}
	}
	if d.Outbox == nil {
		d.Outbox = []OutboxEntry{}
	}
}

var knownKeys = map[string]struct{}{
	"users": {}, "projects": {}, "issues": {}, "comments": {}, "attachments": {},
	"invitations": {}, "filters": {}, "audit": {}, "outbox": {},
}

type documentAlias Document

// UnmarshalJSON decodes known collections and stashes unknown keys in Extra.
func (d *Document) UnmarshalJSON(data []byte) error {
	var alias documentAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Document(alias)
	for key, value := range raw {
		if _, ok := knownKeys[key]; ok {
			continue
		}
		if d.Extra == nil {
			d.Extra = make(map[string]json.RawMessage)
		}
		d.Extra[key] = value
	}
	d.normalize()
	return nil
}

// MarshalJSON writes known collections plus any preserved unknown keys.
func (d Document) MarshalJSON() ([]byte, error) {
	d.normalize()
	known, err := json.Marshal(documentAlias(d))
	if err != nil {
		return nil, err
	}
	if len(d.Extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(knownKeys)+len(d.Extra))
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for key, value := range d.Extra {
		if _, ok := knownKeys[key]; ok {
			continue
		}
		merged[key] = value
	}
	return json.Marshal(merged)
}

// Lookups over a loaded document. Each returns a pointer into the document so
// the caller can mutate in place during a Tx.

func (d *Document) UserByID(id string) *User {
	for i := range d.Users {
		if d.Users[i].ID == id {
			return &d.Users[i]
		}
	}
	return nil
}

func (d *Document) ProjectByID(id string) *Project {
	for i := range d.Projects {
		if d.Projects[i].ID == id {
			return &d.Projects[i]
		}
	}
	return nil
}

func (d *Document) IssueByID(id string) *Issue {
	for i := range d.Issues {
		if d.Issues[i].ID == id {
			return &d.Issues[i]
		}
	}
	return nil
}

func (d *Document) CommentByID(id string) *Comment {
	for i := range d.Comments {
		if d.Comments[i].ID == id {
			return &d.Comments[i]
		}
	}
	return nil
}

func (d *Document) AttachmentByID(id string) *Attachment {
	for i := range d.Attachments {
		if d.Attachments[i].ID == id {
			return &d.Attachments[i]
		}
	}
	return nil
}

func (d *Document) InvitationByID(id string) *Invitation {
	for i := range d.Invitations {
		if d.Invitations[i].ID == id {
			return &d.Invitations[i]
		}
	}
	return nil
}

func (d *Document) FilterByID(id string) *Filter {
	for i := range d.Filters {
		if d.Filters[i].ID == id {
			return &d.Filters[i]
		}
	}
	return nil
}
