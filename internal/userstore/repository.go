// Package userstore is the application-side system of record for per-user
// subscription state. It owns the contact documents and their EmailRecord
// sub-collection, and provides the chunked batch writer the webhook ingestor
// commits through.
package userstore

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/contact-sync/internal/domain"
)

// ErrNotFound is returned when no contact matches the given id or email.
var ErrNotFound = errors.New("userstore: contact not found")

// ErrBatchTooLarge is returned when a single commit exceeds the store's
// per-transaction operation ceiling.
var ErrBatchTooLarge = errors.New("userstore: batch exceeds per-transaction op ceiling")

// Repository is the data access contract for subscription state. Only the
// sync worker and the webhook ingestor mutate these fields; user CRUD flows
// write disjoint columns and are out of scope here.
type Repository interface {
	// GetByID returns the contact document for a user id.
	GetByID(ctx context.Context, userID string) (*domain.Contact, error)

	// GetByEmail returns the contact document whose email matches exactly.
	GetByEmail(ctx context.Context, email string) (*domain.Contact, error)

	// SetContactID backfills the provider contact id. The write is
	// conditional: an already-set id is never overwritten, so redelivered
	// sync requests cannot clobber it.
	SetContactID(ctx context.Context, userID, contactID string) error

	// RemoveLists removes exactly the given ids from the local list
	// mirror (array-difference, not wholesale replace) and refreshes the
	// last-modified timestamp.
	RemoveLists(ctx context.Context, userID string, lists []domain.ListID) error

	// CountOptIns counts users with confirmed opt-in.
	CountOptIns(ctx context.Context) (int64, error)

	// CountOptOuts counts users who opted out (opt-in false with an
	// opt-out timestamp set).
	CountOptOuts(ctx context.Context) (int64, error)

	// CommitOps applies a chunk of batched operations in one transaction.
	CommitOps(ctx context.Context, ops []Op) error
}

// ContactUpdate is a partial, field-scoped update to a contact document.
// Nil pointers mean "leave untouched"; the Clear flags distinguish "set to
// null" from "leave alone". Transitions produce these as pure values; the
// store applies them.
type ContactUpdate struct {
	OptInConfirmed      *bool
	OptInTimestamp      *time.Time
	ClearOptInTimestamp bool
	OptOutTimestamp     *time.Time

	GlobalUnsubscribe      *domain.UnsubscribeRecord
	ClearGlobalUnsubscribe bool

	SetGroupUnsubscribes   map[domain.GroupID]*domain.UnsubscribeRecord
	ClearGroupUnsubscribes []domain.GroupID

	AddLists    []domain.ListID
	RemoveLists []domain.ListID

	LastModified *time.Time
}

// IsZero reports whether the update touches nothing.
func (u *ContactUpdate) IsZero() bool {
	return u == nil || (u.OptInConfirmed == nil && u.OptInTimestamp == nil &&
		!u.ClearOptInTimestamp && u.OptOutTimestamp == nil &&
		u.GlobalUnsubscribe == nil && !u.ClearGlobalUnsubscribe &&
		len(u.SetGroupUnsubscribes) == 0 && len(u.ClearGroupUnsubscribes) == 0 &&
		len(u.AddLists) == 0 && len(u.RemoveLists) == 0 && u.LastModified == nil)
}

// RecordMerge folds one event into the per-message EmailRecord. Existing
// keys for other event types are preserved; ClickDelta increments the
// record's click counter.
type RecordMerge struct {
	MessageID  string
	Key        string
	Event      domain.EmailEvent
	ClickDelta int
}

// Op is one batched write: a contact update, an EmailRecord merge, or both
// for the same user. Each non-nil part counts as one operation against the
// batch ceiling.
type Op struct {
	UserID string
	Update *ContactUpdate
	Record *RecordMerge
}

// Weight returns how many store operations this op costs.
func (o Op) Weight() int {
	n := 0
	if !o.Update.IsZero() {
		n++
	}
	if o.Record != nil {
		n++
	}
	return n
}
