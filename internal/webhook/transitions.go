package webhook

import (
	"log"
	"time"

	"github.com/ignite/contact-sync/internal/config"
	"github.com/ignite/contact-sync/internal/domain"
	"github.com/ignite/contact-sync/internal/userstore"
)

// transition computes the partial contact update an event implies. Pure
// given the classification and pairing table; clicks and unhandled events
// produce no update (record merge only).
//
// Note the global-unsubscribe transition deliberately leaves group-level
// unsubscribe state and the list array untouched: group suppressions are
// user choices that should survive a later global resubscribe at the
// provider.
func transition(cls Classification, ev domain.EmailEvent, pairing *config.Pairing) *userstore.ContactUpdate {
	ts := ev.Time()

	switch cls.Type {
	case domain.EventGroupUnsubscribe:
		u := &userstore.ContactUpdate{
			ClearGlobalUnsubscribe: true,
			SetGroupUnsubscribes: map[domain.GroupID]*domain.UnsubscribeRecord{
				ev.ASMGroupID: {UnsubscribeTimestamp: ts, GroupID: ev.ASMGroupID},
			},
			LastModified: &ts,
		}
		if listID, ok := pairing.ListFor(ev.ASMGroupID); ok {
			u.RemoveLists = []domain.ListID{listID}
		} else {
			log.Printf("[Webhook] No list paired with group %d; skipping list mirror update", ev.ASMGroupID)
		}
		return u

	case domain.EventGroupResubscribe:
		optIn := true
		u := &userstore.ContactUpdate{
			ClearGlobalUnsubscribe: true,
			ClearGroupUnsubscribes: []domain.GroupID{ev.ASMGroupID},
			OptInConfirmed:         &optIn,
			OptInTimestamp:         &ts,
			LastModified:           &ts,
		}
		if listID, ok := pairing.ListFor(ev.ASMGroupID); ok {
			u.AddLists = []domain.ListID{listID}
		} else {
			log.Printf("[Webhook] No list paired with group %d; skipping list mirror update", ev.ASMGroupID)
		}
		return u

	case domain.EventUnsubscribe, domain.EventSpamReport:
		return globalUnsubscribe(ts)

	default:
		// Clicks and unhandled events log into the EmailRecord only.
		return nil
	}
}

// globalUnsubscribe is the shared transition for global unsubscribes and
// spam reports: suppress globally, revoke opt-in consent, stamp opt-out.
func globalUnsubscribe(ts time.Time) *userstore.ContactUpdate {
	optIn := false
	return &userstore.ContactUpdate{
		GlobalUnsubscribe:   &domain.UnsubscribeRecord{UnsubscribeTimestamp: ts},
		OptInConfirmed:      &optIn,
		ClearOptInTimestamp: true,
		OptOutTimestamp:     &ts,
		LastModified:        &ts,
	}
}
