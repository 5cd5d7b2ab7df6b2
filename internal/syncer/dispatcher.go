// Package syncer propagates subscription-state changes from the user store
// to the provider's contact directory. The Dispatcher publishes sync
// requests onto the message channel; the Worker consumes them and converges
// provider state. Retry is delegated entirely to channel redelivery — no
// component here keeps local retry state.
package syncer

import (
	"context"
	"fmt"
	"log"

	"github.com/ignite/contact-sync/internal/channel"
	"github.com/ignite/contact-sync/internal/domain"
	"github.com/ignite/contact-sync/internal/pkg/logger"
)

// Topics names the channel topics the dispatcher publishes to and the
// worker consumes from.
type Topics struct {
	Sync        string
	Delete      string
	ListRemoval string
}

// Dispatcher decides whether a user-state change needs a provider update
// and, if so, publishes at most one sync request describing the desired
// state. Callers invoke it once per committed state transition; it performs
// no deduplication of its own — the worker's idempotent upserts absorb
// redelivery.
type Dispatcher struct {
	pub    channel.Publisher
	topics Topics
}

// NewDispatcher creates a dispatcher publishing on the given topics.
func NewDispatcher(pub channel.Publisher, topics Topics) *Dispatcher {
	return &Dispatcher{pub: pub, topics: topics}
}

// NeedsSync reports whether the transition from old to updated touches any
// field the provider contact record carries. A nil old means a new user.
func NeedsSync(old, updated *domain.Contact) bool {
	if updated == nil {
		return false
	}
	if old == nil {
		return true
	}
	return old.Email != updated.Email ||
		old.FirstName != updated.FirstName ||
		old.LastName != updated.LastName ||
		old.ContactID != updated.ContactID
}

// DispatchSync publishes a sync request for the contact's current state.
// A publish failure is surfaced to the caller; the channel's durability
// absorbs transient faults after a successful publish.
func (d *Dispatcher) DispatchSync(ctx context.Context, c *domain.Contact, isNew bool) error {
	req := domain.SyncRequest{Contact: c.Project(), IsNewContact: isNew}
	if err := d.pub.Publish(ctx, d.topics.Sync, req); err != nil {
		return fmt.Errorf("syncer: publish sync request for %s: %w", c.ID, err)
	}
	log.Printf("[Dispatcher] Sync requested for user %s (%s, new=%v)",
		c.ID, logger.RedactEmail(c.Email), isNew)
	return nil
}

// DispatchDelete publishes a provider-side delete for the contact.
func (d *Dispatcher) DispatchDelete(ctx context.Context, p domain.ContactProjection) error {
	if err := d.pub.Publish(ctx, d.topics.Delete, domain.DeleteRequest{Contact: p}); err != nil {
		return fmt.Errorf("syncer: publish delete request for %s: %w", p.UserID, err)
	}
	log.Printf("[Dispatcher] Delete requested for user %s", p.UserID)
	return nil
}

// DispatchListRemoval publishes a request to drop the contact from the
// given provider lists.
func (d *Dispatcher) DispatchListRemoval(ctx context.Context, p domain.ContactProjection, lists []domain.ListID) error {
	req := domain.ListRemovalRequest{Contact: p, ListsToUpdate: lists}
	if err := d.pub.Publish(ctx, d.topics.ListRemoval, req); err != nil {
		return fmt.Errorf("syncer: publish list removal for %s: %w", p.UserID, err)
	}
	log.Printf("[Dispatcher] List removal requested for user %s (%d lists)", p.UserID, len(lists))
	return nil
}
