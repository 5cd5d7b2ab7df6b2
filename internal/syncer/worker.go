package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/contact-sync/internal/channel"
	"github.com/ignite/contact-sync/internal/domain"
	"github.com/ignite/contact-sync/internal/pkg/logger"
	"github.com/ignite/contact-sync/internal/sendgrid"
	"github.com/ignite/contact-sync/internal/userstore"
)

// Directory is the provider contact API surface the worker needs.
// *sendgrid.Client satisfies it.
type Directory interface {
	UpsertContact(ctx context.Context, email, firstName, lastName, userID string, listIDs []string) error
	SearchContactByEmail(ctx context.Context, email string) (*sendgrid.ProviderContact, error)
	DeleteContact(ctx context.Context, contactID string) error
	RemoveFromList(ctx context.Context, listID, contactID string) error
}

// Worker converges provider contact state with sync requests from the
// channel. Every handler is idempotent under redelivery: upserts are
// naturally idempotent, id backfill is a conditional write, and deletes
// treat "already absent" as success.
type Worker struct {
	store     userstore.Repository
	directory Directory

	// idBackfillGrace is how long after provider-side contact creation the
	// worker distrusts search-by-email results. The provider's search index
	// lags its write path; a too-early lookup can return a stale id.
	idBackfillGrace time.Duration

	// Stats
	synced      int64
	deleted     int64
	listsPruned int64
}

// NewWorker creates a sync worker.
func NewWorker(store userstore.Repository, directory Directory, idBackfillGrace time.Duration) *Worker {
	if idBackfillGrace <= 0 {
		idBackfillGrace = 5 * time.Minute
	}
	return &Worker{store: store, directory: directory, idBackfillGrace: idBackfillGrace}
}

// HandleSync upserts the contact at the provider and backfills the provider
// contact id into the user store when it is safe to trust a lookup.
func (w *Worker) HandleSync(ctx context.Context, req domain.SyncRequest) error {
	c := req.Contact
	if err := w.directory.UpsertContact(ctx, c.Email, c.FirstName, c.LastName, c.UserID, nil); err != nil {
		return fmt.Errorf("syncer: upsert for user %s: %w", c.UserID, err)
	}

	if c.ContactID == "" && !req.IsNewContact && w.lookupSafe(ctx, c.UserID) {
		if err := w.backfillContactID(ctx, c); err != nil {
			return err
		}
	}

	atomic.AddInt64(&w.synced, 1)
	return nil
}

// lookupSafe reports whether the local record's provider-created timestamp
// is outside the grace window (or absent entirely).
func (w *Worker) lookupSafe(ctx context.Context, userID string) bool {
	local, err := w.store.GetByID(ctx, userID)
	if err != nil {
		log.Printf("[SyncWorker] Skipping id backfill for %s: %v", userID, err)
		return false
	}
	if local.ContactID != "" {
		// Another invocation already backfilled it.
		return false
	}
	if local.ContactCreatedAt != nil && time.Since(*local.ContactCreatedAt) < w.idBackfillGrace {
		return false
	}
	return true
}

// backfillContactID looks the contact up by email and writes the provider
// id back. A not-found is non-fatal: the id stays unset and any later sync
// retries the lookup.
func (w *Worker) backfillContactID(ctx context.Context, c domain.ContactProjection) error {
	found, err := w.directory.SearchContactByEmail(ctx, c.Email)
	if err != nil {
		if errors.Is(err, sendgrid.ErrContactNotFound) {
			log.Printf("[SyncWorker] Contact %s not yet searchable, id backfill deferred",
				logger.RedactEmail(c.Email))
			return nil
		}
		return fmt.Errorf("syncer: search for user %s: %w", c.UserID, err)
	}
	if err := w.store.SetContactID(ctx, c.UserID, found.ID); err != nil {
		return fmt.Errorf("syncer: backfill contact id for user %s: %w", c.UserID, err)
	}
	log.Printf("[SyncWorker] Backfilled contact id %s for user %s", found.ID, c.UserID)
	return nil
}

// HandleDelete removes the contact at the provider. "No matching contact"
// satisfies the deletion goal and is treated as a successful no-op.
func (w *Worker) HandleDelete(ctx context.Context, req domain.DeleteRequest) error {
	contactID, err := w.resolveContactID(ctx, req.Contact)
	if err != nil {
		if errors.Is(err, sendgrid.ErrContactNotFound) {
			log.Printf("[SyncWorker] Delete for user %s: contact already absent", req.Contact.UserID)
			atomic.AddInt64(&w.deleted, 1)
			return nil
		}
		return err
	}

	if err := w.directory.DeleteContact(ctx, contactID); err != nil {
		return fmt.Errorf("syncer: delete contact for user %s: %w", req.Contact.UserID, err)
	}
	atomic.AddInt64(&w.deleted, 1)
	log.Printf("[SyncWorker] Deleted provider contact %s (user %s)", contactID, req.Contact.UserID)
	return nil
}

// HandleListRemoval drops the contact from the given provider lists, then
// mirrors the removal locally. The provider calls run concurrently; a single
// failure aborts before any local write, keeping local list state a subset
// of confirmed provider state. A lookup failure aborts the whole operation.
func (w *Worker) HandleListRemoval(ctx context.Context, req domain.ListRemovalRequest) error {
	if len(req.ListsToUpdate) == 0 {
		return nil
	}

	contactID, err := w.resolveContactID(ctx, req.Contact)
	if err != nil {
		return fmt.Errorf("syncer: list removal for user %s: %w", req.Contact.UserID, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, listID := range req.ListsToUpdate {
		listID := listID
		g.Go(func() error {
			return w.directory.RemoveFromList(gctx, string(listID), contactID)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("syncer: list removal for user %s: %w", req.Contact.UserID, err)
	}

	if err := w.store.RemoveLists(ctx, req.Contact.UserID, req.ListsToUpdate); err != nil {
		return fmt.Errorf("syncer: mirror list removal for user %s: %w", req.Contact.UserID, err)
	}

	atomic.AddInt64(&w.listsPruned, int64(len(req.ListsToUpdate)))
	log.Printf("[SyncWorker] Removed user %s from %d lists", req.Contact.UserID, len(req.ListsToUpdate))
	return nil
}

// resolveContactID prefers the cached provider id and falls back to a
// search by email.
func (w *Worker) resolveContactID(ctx context.Context, c domain.ContactProjection) (string, error) {
	if c.ContactID != "" {
		return c.ContactID, nil
	}
	found, err := w.directory.SearchContactByEmail(ctx, c.Email)
	if err != nil {
		return "", err
	}
	return found.ID, nil
}

// Stats returns current worker counters.
func (w *Worker) Stats() map[string]int64 {
	return map[string]int64{
		"synced":       atomic.LoadInt64(&w.synced),
		"deleted":      atomic.LoadInt64(&w.deleted),
		"lists_pruned": atomic.LoadInt64(&w.listsPruned),
	}
}

// Run subscribes the worker's handlers to their topics and blocks until ctx
// is canceled. Each topic gets its own goroutine; decode failures are
// returned to the channel so the malformed message is surfaced, not silently
// dropped.
func (w *Worker) Run(ctx context.Context, sub channel.Subscriber, topics Topics) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sub.Subscribe(gctx, topics.Sync, func(ctx context.Context, body []byte) error {
			var req domain.SyncRequest
			if err := channel.Decode(body, &req); err != nil {
				return err
			}
			return w.HandleSync(ctx, req)
		})
	})
	g.Go(func() error {
		return sub.Subscribe(gctx, topics.Delete, func(ctx context.Context, body []byte) error {
			var req domain.DeleteRequest
			if err := channel.Decode(body, &req); err != nil {
				return err
			}
			return w.HandleDelete(ctx, req)
		})
	})
	g.Go(func() error {
		return sub.Subscribe(gctx, topics.ListRemoval, func(ctx context.Context, body []byte) error {
			var req domain.ListRemovalRequest
			if err := channel.Decode(body, &req); err != nil {
				return err
			}
			return w.HandleListRemoval(ctx, req)
		})
	})

	return g.Wait()
}
