package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"bughatch/internal/lock"
)

func TestLoadCreatesDefaultDocument(t *testing.T) {
	backend := NewMemoryBackend()
	docs := NewDocuments(backend, nil)

	doc, err := docs.Load(context.Background(), Primary)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if doc.Users == nil || doc.Issues == nil || doc.Audit == nil || doc.Outbox == nil {
		t.Fatalf("expected empty collections, got %+v", doc)
	}
	if backend.Writes(Primary) != 1 {
		t.Fatalf("expected default document to be persisted once, got %d writes", backend.Writes(Primary))
	}

	raw, err := backend.Read(context.Background(), Primary)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(raw, &shape); err != nil {
		t.Fatalf("decode persisted document: %v", err)
	}
	for _, key := range []string{"users", "projects", "issues", "comments", "attachments", "invitations", "filters", "audit", "outbox"} {
		if string(shape[key]) != "[]" {
			t.Fatalf("collection %q = %s, want []", key, shape[key])
		}
	}

	if _, err := docs.Load(context.Background(), Primary); err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if backend.Writes(Primary) != 1 {
		t.Fatalf("existing document must not be rewritten by Load, got %d writes", backend.Writes(Primary))
	}
}

func TestLoadMergesMissingCollectionsAndKeepsUnknownKeys(t *testing.T) {
	backend := NewMemoryBackend()
	legacy := `{"users":[{"id":"u1","role":"admin","email":"a@example.com","displayName":"A"}],"legacyFlags":{"beta":true}}`
	if err := backend.Write(context.Background(), Primary, []byte(legacy)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	docs := NewDocuments(backend, nil)

	err := docs.Update(context.Background(), Primary, func(doc *Document) error {
		if len(doc.Users) != 1 || doc.Comments == nil || doc.Filters == nil {
			return fmt.Errorf("unexpected merged document: %+v", doc)
		}
		doc.Projects = append(doc.Projects, Project{ID: "p1", Name: "Hatch", OwnerID: "u1", Members: []string{"u1"}})
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	raw, _ := backend.Read(context.Background(), Primary)
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(raw, &shape); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(shape["legacyFlags"]) != `{"beta":true}` {
		t.Fatalf("unknown key not preserved: %s", shape["legacyFlags"])
	}
	if _, ok := shape["outbox"]; !ok {
		t.Fatal("expected outbox collection to be added")
	}
}

func TestUpdateAbortsWithoutWriting(t *testing.T) {
	backend := NewMemoryBackend()
	docs := NewDocuments(backend, nil)
	if _, err := docs.Load(context.Background(), Primary); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	sentinel := errors.New("nope")
	err := docs.Update(context.Background(), Primary, func(doc *Document) error {
		doc.Projects = append(doc.Projects, Project{ID: "p1"})
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if backend.Writes(Primary) != 1 {
		t.Fatalf("aborted update wrote the document: %d writes", backend.Writes(Primary))
	}
	if docs.Locks().Held(lock.StoreID(Primary)) {
		t.Fatal("aborted update leaked the gate")
	}
	doc, _ := docs.Load(context.Background(), Primary)
	if len(doc.Projects) != 0 {
		t.Fatalf("expected no projects, got %d", len(doc.Projects))
	}
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	docs := NewDocuments(NewMemoryBackend(), nil)
	ctx := context.Background()

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := docs.Update(ctx, Primary, func(doc *Document) error {
				doc.Issues = append(doc.Issues, Issue{ID: fmt.Sprintf("iss-%d", n), CreatedAt: time.Now()})
				return nil
			})
			if err != nil {
				t.Errorf("Update() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	doc, err := docs.Load(ctx, Primary)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(doc.Issues) != writers {
		t.Fatalf("expected %d issues, got %d", writers, len(doc.Issues))
	}
}

func TestTxCommitTwice(t *testing.T) {
	docs := NewDocuments(NewMemoryBackend(), nil)
	ctx := context.Background()

	tx, err := docs.Begin(ctx, Primary)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, ErrTxDone) {
		t.Fatalf("expected ErrTxDone, got %v", err)
	}
	tx.Rollback()
	if docs.Locks().Held(lock.StoreID(Primary)) {
		t.Fatal("gate still held after commit")
	}
}

func TestLoadReturnsPrivateCopies(t *testing.T) {
	docs := NewDocuments(NewMemoryBackend(), nil)
	ctx := context.Background()
	if err := docs.Replace(ctx, Primary, &Document{Projects: []Project{{ID: "p1", Name: "Original"}}}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	first, _ := docs.Load(ctx, Primary)
	first.Projects[0].Name = "Mutated"

	second, _ := docs.Load(ctx, Primary)
	if second.Projects[0].Name != "Original" {
		t.Fatalf("mutation leaked between loads: %q", second.Projects[0].Name)
	}
}
