package domain

import "time"

// GroupID identifies a provider-side suppression group. Suppression groups
// and mailing lists are paired one-to-one via config.Pairing.
type GroupID int

// ListID identifies a provider-side mailing list.
type ListID string

// UnsubscribeRecord captures when (and for which group) a user unsubscribed.
// Records are immutable once written: state transitions replace them
// wholesale, never patch individual fields.
type UnsubscribeRecord struct {
	UnsubscribeTimestamp time.Time `json:"unsubscribe_timestamp"`
	GroupID              GroupID   `json:"group_id,omitempty"`
}

// Contact is the per-user subscription document owned by the user store.
// It mirrors the subset of provider contact state the application cares
// about, plus the local opt-in/opt-out consent record.
//
// Invariants maintained by every writer:
//
//	I1: GlobalUnsubscribe != nil implies OptInConfirmed == false.
//	I2: a GroupID key is absent from GroupUnsubscribes exactly when the
//	    paired ListID is present in ContactLists.
//	I3: ContactID, once set, is never cleared except on record deletion.
type Contact struct {
	ID            string `json:"id" db:"id"`
	Email         string `json:"email" db:"email"`
	FirstName     string `json:"first_name" db:"first_name"`
	LastName      string `json:"last_name" db:"last_name"`
	EmailVerified bool   `json:"email_verified" db:"email_verified"`

	OptInConfirmed  bool       `json:"opt_in_confirmed" db:"opt_in_confirmed"`
	OptInTimestamp  *time.Time `json:"opt_in_timestamp,omitempty" db:"opt_in_timestamp"`
	OptOutTimestamp *time.Time `json:"opt_out_timestamp,omitempty" db:"opt_out_timestamp"`

	GlobalUnsubscribe *UnsubscribeRecord             `json:"global_unsubscribe,omitempty" db:"global_unsubscribe"`
	GroupUnsubscribes map[GroupID]*UnsubscribeRecord `json:"group_unsubscribes" db:"group_unsubscribes"`

	ContactID        string     `json:"sendgrid_contact_id,omitempty" db:"sendgrid_contact_id"`
	ContactLists     []ListID   `json:"sendgrid_contact_lists" db:"sendgrid_contact_lists"`
	ContactCreatedAt *time.Time `json:"sendgrid_contact_created_at,omitempty" db:"sendgrid_contact_created_at"`

	LastModified time.Time `json:"last_modified" db:"last_modified"`
}

// HasList reports whether the contact's local list mirror contains id.
func (c *Contact) HasList(id ListID) bool {
	for _, l := range c.ContactLists {
		if l == id {
			return true
		}
	}
	return false
}

// ContactProjection is the read-only slice of a Contact that the provider
// needs for an upsert. Sync messages carry projections rather than full
// records to bound payload size and avoid leaking unrelated fields.
type ContactProjection struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	ContactID string `json:"contact_id,omitempty"`
}

// Project extracts the provider-facing projection from a contact record.
func (c *Contact) Project() ContactProjection {
	return ContactProjection{
		UserID:    c.ID,
		Email:     c.Email,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		ContactID: c.ContactID,
	}
}

// SyncRequest asks the sync worker to converge the provider contact record
// with the given projection.
type SyncRequest struct {
	Contact      ContactProjection `json:"contact"`
	IsNewContact bool              `json:"is_new_contact"`
}

// DeleteRequest asks the sync worker to remove a contact at the provider.
type DeleteRequest struct {
	Contact ContactProjection `json:"contact"`
}

// ListRemovalRequest asks the sync worker to remove a contact from the
// given provider lists and update the local list mirror to match.
type ListRemovalRequest struct {
	Contact       ContactProjection `json:"contact"`
	ListsToUpdate []ListID          `json:"lists_to_update"`
}

// DriftAlert is published on the notifications topic when the
// reconciliation job detects a count mismatch between the two stores.
type DriftAlert struct {
	StoreOptIns        int64     `json:"store_opt_ins"`
	ProviderNetOptIns  int64     `json:"provider_net_opt_ins"`
	ProviderTotal      int64     `json:"provider_total"`
	ProviderSuppressed int64     `json:"provider_suppressed"`
	DetectedAt         time.Time `json:"detected_at"`
}
