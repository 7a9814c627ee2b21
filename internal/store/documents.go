package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bughatch/internal/lock"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotExist is returned by a Backend when no document is stored under an id.
var ErrNotExist = errors.New("document does not exist")

// ErrTxDone is returned when a finished Tx is committed again.
var ErrTxDone = errors.New("transaction already finished")

// Backend persists whole serialized documents. Write must replace the stored
// bytes atomically: a concurrent Read observes the old or the new document,
// never a mix.
type Backend interface {
	Read(ctx context.Context, id StoreID) ([]byte, error)
	Write(ctx context.Context, id StoreID, data []byte) error
	Close() error
}

// ErrNoHistory is returned when the backend keeps only the latest document.
var ErrNoHistory = errors.New("backend keeps no revision history")

// ErrUnknownRevision is returned by a Historian for a revision it never made.
var ErrUnknownRevision = errors.New("unknown revision")

// Pinger is implemented by backends that hold a server connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Historian is implemented by backends that keep every committed revision.
type Historian interface {
	History(ctx context.Context, id StoreID, limit int) ([]Revision, error)
	At(ctx context.Context, id StoreID, revision string) ([]byte, error)
}

var tracer = otel.Tracer("bughatch/store")

// Documents is the document store shared by every service. Writes to a store
// id are serialized through the lock manager; reads take no gate.
type Documents struct {
	backend Backend
	locks   *lock.Manager
}

func NewDocuments(backend Backend, locks *lock.Manager) *Documents {
	if locks == nil {
		locks = lock.NewManager()
	}
	return &Documents{backend: backend, locks: locks}
}

// Locks exposes the gate manager guarding this store.
func (d *Documents) Locks() *lock.Manager {
	return d.locks
}

// Close closes the underlying backend.
func (d *Documents) Close() error {
	return d.backend.Close()
}

// Ping checks the backend connection when the backend has one.
func (d *Documents) Ping(ctx context.Context) error {
	p, ok := d.backend.(Pinger)
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("ping backend: %w", err)
	}
	return nil
}

// History lists the newest revisions of id, newest first.
func (d *Documents) History(ctx context.Context, id StoreID, limit int) ([]Revision, error) {
	h, ok := d.backend.(Historian)
	if !ok {
		return nil, ErrNoHistory
	}
	return h.History(ctx, id, limit)
}

// At decodes id as it was at revision.
func (d *Documents) At(ctx context.Context, id StoreID, revision string) (*Document, error) {
	h, ok := d.backend.(Historian)
	if !ok {
		return nil, ErrNoHistory
	}
	data, err := h.At(ctx, id, revision)
	if err != nil {
		return nil, err
	}
	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode document %s at %s: %w", id, revision, err)
	}
	return doc, nil
}

// Load returns a private copy of the document. When nothing is stored yet an
// empty default document is persisted under the gate and returned.
func (d *Documents) Load(ctx context.Context, id StoreID) (*Document, error) {
	ctx, span := tracer.Start(ctx, "store.load", trace.WithAttributes(attribute.String("store.id", id)))
	defer span.End()

	doc, err := d.read(ctx, id)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, ErrNotExist) {
		span.RecordError(err)
		return nil, err
	}

	release, err := d.locks.Acquire(ctx, lock.StoreID(id))
	if err != nil {
		return nil, err
	}
	defer release()
	return d.loadLocked(ctx, id)
}

// Begin acquires the write gate for id and loads the current document.
func (d *Documents) Begin(ctx context.Context, id StoreID) (*Tx, error) {
	ctx, span := tracer.Start(ctx, "store.begin", trace.WithAttributes(attribute.String("store.id", id)))
	defer span.End()

	release, err := d.locks.Acquire(ctx, lock.StoreID(id))
	if err != nil {
		return nil, err
	}
	doc, err := d.loadLocked(ctx, id)
	if err != nil {
		release()
		span.RecordError(err)
		return nil, err
	}
	return &Tx{Doc: doc, id: id, docs: d, release: release}, nil
}

// Update runs fn inside one load-mutate-persist cycle. An error from fn
// aborts the cycle without writing.
func (d *Documents) Update(ctx context.Context, id StoreID, fn func(*Document) error) error {
	tx, err := d.Begin(ctx, id)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx.Doc); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Replace overwrites the stored document in full under the write gate.
func (d *Documents) Replace(ctx context.Context, id StoreID, doc *Document) error {
	release, err := d.locks.Acquire(ctx, lock.StoreID(id))
	if err != nil {
		return err
	}
	defer release()
	return d.write(ctx, id, doc)
}

func (d *Documents) loadLocked(ctx context.Context, id StoreID) (*Document, error) {
	doc, err := d.read(ctx, id)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, ErrNotExist) {
		return nil, err
	}
	doc = NewDocument()
	if err := d.write(ctx, id, doc); err != nil {
		return nil, fmt.Errorf("persist default document %s: %w", id, err)
	}
	return doc, nil
}

func (d *Documents) read(ctx context.Context, id StoreID) (*Document, error) {
	data, err := d.backend.Read(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("read document %s: %w", id, err)
	}
	if len(data) == 0 {
		return nil, ErrNotExist
	}
	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	return doc, nil
}

func (d *Documents) write(ctx context.Context, id StoreID, doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", id, err)
	}
	if err := d.backend.Write(ctx, id, data); err != nil {
		return fmt.Errorf("write document %s: %w", id, err)
	}
	return nil
}

// Tx is one exclusive load-mutate-persist session on a store.
type Tx struct {
	Doc *Document

	id      StoreID
	docs    *Documents
	release func()
	done    bool
}

// Commit replaces the stored document with Doc and releases the gate.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	defer tx.release()

	ctx, span := tracer.Start(ctx, "store.commit", trace.WithAttributes(attribute.String("store.id", tx.id)))
	defer span.End()
	if err := tx.docs.write(ctx, tx.id, tx.Doc); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Rollback releases the gate without writing. It is safe after Commit.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	tx.release()
}
