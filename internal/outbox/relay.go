// Package outbox delivers the notifications queued next to each audit entry.
package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"bughatch/internal/store"
)

// Sink receives outbox entries. Deliver must be safe to repeat: an entry is
// marked delivered only after every sink accepted it, and a failed pass
// retries all sinks.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, entry store.OutboxEntry) error
}

// Relay drains undelivered entries of one store to its sinks.
type Relay struct {
	docs        *store.Documents
	storeID     store.StoreID
	sinks       []Sink
	logger      *slog.Logger
	interval    time.Duration
	maxAttempts int
	retention   time.Duration
	now         func() time.Time
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) { r.interval = d }
}

// WithMaxAttempts caps delivery attempts per entry; zero means unlimited.
func WithMaxAttempts(n int) Option {
	return func(r *Relay) { r.maxAttempts = n }
}

// WithRetention sets how long delivered entries stay in the document before
// a drain pass removes them; zero keeps them forever.
func WithRetention(d time.Duration) Option {
	return func(r *Relay) { r.retention = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

func NewRelay(docs *store.Documents, sinks []Sink, opts ...Option) *Relay {
	r := &Relay{
		docs:     docs,
		storeID:  store.Primary,
		sinks:    sinks,
		logger:   slog.Default(),
		interval:  5 * time.Second,
		retention: 24 * time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type outcome struct {
	delivered bool
	err       string
}

// Drain runs one delivery pass and returns how many entries were delivered.
// Sinks are called without holding the write gate; results are recorded, and
// delivered entries past the retention window pruned, in a single update
// afterwards.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	doc, err := r.docs.Load(ctx, r.storeID)
	if err != nil {
		return 0, err
	}

	now := r.now().UTC()
	results := make(map[string]outcome)
	prunable := false
	for _, entry := range doc.Outbox {
		if entry.DeliveredAt != nil {
			prunable = prunable || r.expired(entry, now)
			continue
		}
		if r.maxAttempts > 0 && entry.Attempts >= r.maxAttempts {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}
		results[entry.ID] = r.deliver(ctx, entry)
	}
	if len(results) == 0 && !prunable {
		return 0, nil
	}

	delivered, pruned := 0, 0
	err = r.docs.Update(ctx, r.storeID, func(doc *store.Document) error {
		kept := doc.Outbox[:0]
		for _, entry := range doc.Outbox {
			if r.expired(entry, now) {
				pruned++
				continue
			}
			if res, ok := results[entry.ID]; ok && entry.DeliveredAt == nil {
				r.record(&entry, res, now)
				if res.delivered {
					delivered++
				}
			}
			kept = append(kept, entry)
		}
		doc.Outbox = kept
		return nil
	})
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		r.logger.Debug("outbox pruned", "entries", pruned)
	}
	return delivered, nil
}

// expired reports whether a delivered entry is past the retention window.
func (r *Relay) expired(entry store.OutboxEntry, now time.Time) bool {
	if r.retention <= 0 || entry.DeliveredAt == nil {
		return false
	}
	return now.Sub(*entry.DeliveredAt) > r.retention
}

func (r *Relay) record(entry *store.OutboxEntry, res outcome, now time.Time) {
	entry.Attempts++
	if res.delivered {
		at := now
		entry.DeliveredAt = &at
		entry.LastError = ""
		return
	}
	entry.LastError = res.err
	if r.maxAttempts > 0 && entry.Attempts >= r.maxAttempts {
		r.logger.Error("outbox entry exhausted retries", "id", entry.ID, "topic", entry.Topic, "attempts", entry.Attempts, "err", res.err)
	}
}

func (r *Relay) deliver(ctx context.Context, entry store.OutboxEntry) outcome {
	var errs []error
	for _, sink := range r.sinks {
		if err := sink.Deliver(ctx, entry); err != nil {
			r.logger.Warn("outbox delivery failed", "sink", sink.Name(), "id", entry.ID, "topic", entry.Topic, "err", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return outcome{err: errors.Join(errs...).Error()}
	}
	return outcome{delivered: true}
}

// Run drains on every tick until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if n, err := r.Drain(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("outbox drain failed", "err", err)
		} else if n > 0 {
			r.logger.Debug("outbox drained", "delivered", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// LogSink writes each entry to a logger. It is the default sink when no
// search server is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Name() string { return "log" }

func (s LogSink) Deliver(_ context.Context, entry store.OutboxEntry) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("event", "topic", entry.Topic, "id", entry.ID, "payload", entry.Payload)
	return nil
}
