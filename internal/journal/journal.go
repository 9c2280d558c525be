package journal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/store"
)

// Journal appends and serves journal entries for one store.
//
// Thread-safety: all methods are safe for concurrent use. Appends are
// serialized by the store's single writer connection.
type Journal struct {
	store  *store.Store
	wake   *wakeSet
	logger *slog.Logger
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) {
		j.logger = l
	}
}

// New creates a Journal over st.
func New(st *store.Store, opts ...Option) *Journal {
	j := &Journal{
		store:  st,
		wake:   newWakeSet(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// RegisterConsumer adds a named consumer. Entries appended from now on are
// pending for it until acked.
func (j *Journal) RegisterConsumer(ctx context.Context, name string) error {
	if name == "" {
		return ir.Errorf(ir.CodeBadRequest, "consumer name is empty")
	}
	if err := j.store.RegisterConsumer(ctx, name); err != nil {
		return err
	}
	j.wake.channel(name)
	return nil
}

// Consumers returns the registered consumer names.
func (j *Journal) Consumers(ctx context.Context) ([]string, error) {
	return j.store.Consumers(ctx)
}

// Commit applies the mutation and appends its entry in one transaction,
// then wakes every consumer.
func (j *Journal) Commit(ctx context.Context, m store.Mutation) (*ir.JournalEntry, error) {
	entry, err := j.store.Commit(ctx, m)
	if err != nil {
		return nil, err
	}
	j.logger.Debug("journal append",
		"entry", entry.Ref(),
		"op", entry.Op,
		"archived", entry.Archived)
	j.wake.notify()
	return entry, nil
}

// ListActive returns the non-archived entries of (typ, id) grouped by page.
func (j *Journal) ListActive(ctx context.Context, typ, id string) ([]ir.JournalPage, error) {
	entries, err := j.store.Entries(ctx, typ, id, false)
	if err != nil {
		return nil, err
	}
	return groupPages(typ, id, entries), nil
}

// ListArchived returns the archived entries of (typ, id) grouped by page.
func (j *Journal) ListArchived(ctx context.Context, typ, id string) ([]ir.JournalPage, error) {
	entries, err := j.store.Entries(ctx, typ, id, true)
	if err != nil {
		return nil, err
	}
	return groupPages(typ, id, entries), nil
}

// Page returns one page by its external id.
func (j *Journal) Page(ctx context.Context, pageID string) (*ir.JournalPage, error) {
	typ, id, page, err := ir.ParsePageID(pageID)
	if err != nil {
		return nil, err
	}
	entries, err := j.store.PageEntries(ctx, typ, id, page)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ir.NotFound("journal page %s not found", pageID)
	}
	return &ir.JournalPage{ID: pageID, Page: page, Entries: entries}, nil
}

// Keys lists every key with entries.
func (j *Journal) Keys(ctx context.Context) ([]store.JournalKey, error) {
	return j.store.JournalKeys(ctx)
}

// Ack marks an entry done for consumer. Acking an archived or already-done
// entry is a no-op.
func (j *Journal) Ack(ctx context.Context, consumer, typ, id string, page, seq int) error {
	archived, err := j.store.Ack(ctx, consumer, typ, id, page, seq)
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	if archived {
		j.logger.Debug("journal entry archived",
			"entry", fmt.Sprintf("%s/%s/%d-%d", typ, id, page, seq))
	}
	return nil
}

// Pending returns entries still pending for consumer, ordered by key then
// (page, seq). limit <= 0 means all.
func (j *Journal) Pending(ctx context.Context, consumer string, limit int) ([]*ir.JournalEntry, error) {
	return j.store.PendingEntries(ctx, consumer, limit)
}

// Wait returns the consumer's wake-up channel. It receives after commits
// and is closed by Close.
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-j.Wait("cmtIndex"):
//	    // drain Pending
//	}
func (j *Journal) Wait(consumer string) <-chan struct{} {
	return j.wake.channel(consumer)
}

// Close wakes every waiter permanently. The underlying store is not closed.
func (j *Journal) Close() {
	j.wake.close()
}

func groupPages(typ, id string, entries []*ir.JournalEntry) []ir.JournalPage {
	pages := []ir.JournalPage{}
	for _, e := range entries {
		if n := len(pages); n == 0 || pages[n-1].Page != e.Page {
			pages = append(pages, ir.JournalPage{ID: ir.PageID(typ, id, e.Page), Page: e.Page})
		}
		last := &pages[len(pages)-1]
		last.Entries = append(last.Entries, e)
	}
	return pages
}
