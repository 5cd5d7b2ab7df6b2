package sendgrid

import "time"

// ProviderContact is the provider-side contact record, identified by email
// independently of the application's user id. The user id travels in a
// custom field so webhook events and searches can be correlated back.
type ProviderContact struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	FirstName    string            `json:"first_name,omitempty"`
	LastName     string            `json:"last_name,omitempty"`
	ListIDs      []string          `json:"list_ids,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
	CreatedAt    time.Time         `json:"created_at,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at,omitempty"`
}

// upsertRequest is the body for PUT /marketing/contacts.
type upsertRequest struct {
	ListIDs  []string        `json:"list_ids,omitempty"`
	Contacts []upsertContact `json:"contacts"`
}

type upsertContact struct {
	Email        string            `json:"email"`
	FirstName    string            `json:"first_name,omitempty"`
	LastName     string            `json:"last_name,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// searchByEmailRequest is the body for POST /marketing/contacts/search/emails.
type searchByEmailRequest struct {
	Emails []string `json:"emails"`
}

type searchByEmailResponse struct {
	Result map[string]struct {
		Contact ProviderContact `json:"contact"`
	} `json:"result"`
}

type contactCountResponse struct {
	ContactCount int64 `json:"contact_count"`
}

// globalSuppression is one row from GET /suppression/unsubscribes.
type globalSuppression struct {
	Email   string `json:"email"`
	Created int64  `json:"created"`
}

type apiError struct {
	Errors []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors"`
}
