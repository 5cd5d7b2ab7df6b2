// Package sendgrid is a thin client for the provider's contact API:
// upsert, search-by-email, delete, list-membership removal, and the count
// queries the reconciliation job needs. It carries no business logic; the
// sync worker and reconciliation job own the semantics.
package sendgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/contact-sync/internal/config"
	"github.com/ignite/contact-sync/internal/pkg/httpretry"
	"github.com/ignite/contact-sync/internal/pkg/logger"
)

// ErrContactNotFound is returned when a search or lookup matches no contact.
var ErrContactNotFound = errors.New("sendgrid: contact not found")

// ErrRateLimited is returned when the local API budget denies a call before
// it is attempted. Callers surface it as a failed invocation and rely on
// channel redelivery rather than waiting in-process.
var ErrRateLimited = errors.New("sendgrid: provider API budget exhausted")

// userIDField is the provider custom-field key carrying the app's user id.
const userIDField = "user_id"

// Limiter gates outbound provider calls. Implemented by ratelimit.Limiter;
// a nil Limiter allows everything.
type Limiter interface {
	Allow(ctx context.Context, n int) (bool, time.Duration, error)
}

// Client wraps the provider's REST contact API with retries and an optional
// rate-limit budget.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
	limiter    Limiter
}

// NewClient creates a contact API client from config. Outbound calls retry
// on 429/5xx with exponential backoff.
func NewClient(cfg config.SendGridConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpretry.NewRetryClient(&http.Client{Timeout: cfg.Timeout()}, 3),
	}
}

// SetLimiter installs a local API budget checked before every call.
func (c *Client) SetLimiter(l Limiter) { c.limiter = l }

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	if c.limiter != nil {
		allowed, _, err := c.limiter.Allow(ctx, 1)
		if err != nil {
			return 0, fmt.Errorf("sendgrid: rate limit check: %w", err)
		}
		if !allowed {
			return 0, ErrRateLimited
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("sendgrid: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("sendgrid: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sendgrid: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("sendgrid: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var ae apiError
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &ae) == nil && len(ae.Errors) > 0 {
			msg = ae.Errors[0].Message
		}
		return resp.StatusCode, fmt.Errorf("sendgrid: %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("sendgrid: decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// UpsertContact creates or updates the contact identified by email. The
// provider treats repeated upserts with the same data as a no-op, which is
// what makes redelivered sync requests safe.
func (c *Client) UpsertContact(ctx context.Context, email, firstName, lastName, userID string, listIDs []string) error {
	req := upsertRequest{
		ListIDs: listIDs,
		Contacts: []upsertContact{{
			Email:        email,
			FirstName:    firstName,
			LastName:     lastName,
			CustomFields: map[string]string{userIDField: userID},
		}},
	}
	if _, err := c.do(ctx, http.MethodPut, "/marketing/contacts", req, nil); err != nil {
		return fmt.Errorf("upsert contact %s: %w", logger.RedactEmail(email), err)
	}
	return nil
}

// SearchContactByEmail looks up the provider contact for an email address.
// Returns ErrContactNotFound when the search index has no match; callers
// decide whether that is fatal.
func (c *Client) SearchContactByEmail(ctx context.Context, email string) (*ProviderContact, error) {
	var resp searchByEmailResponse
	status, err := c.do(ctx, http.MethodPost, "/marketing/contacts/search/emails",
		searchByEmailRequest{Emails: []string{email}}, &resp)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, ErrContactNotFound
		}
		return nil, err
	}

	for _, r := range resp.Result {
		if r.Contact.ID != "" {
			contact := r.Contact
			return &contact, nil
		}
	}
	return nil, ErrContactNotFound
}

// DeleteContact removes a contact by provider id.
func (c *Client) DeleteContact(ctx context.Context, contactID string) error {
	path := "/marketing/contacts?ids=" + url.QueryEscape(contactID)
	if _, err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete contact %s: %w", contactID, err)
	}
	return nil
}

// RemoveFromList removes a contact from a single mailing list.
func (c *Client) RemoveFromList(ctx context.Context, listID, contactID string) error {
	path := fmt.Sprintf("/marketing/lists/%s/contacts?contact_ids=%s",
		url.PathEscape(listID), url.QueryEscape(contactID))
	if _, err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("remove contact %s from list %s: %w", contactID, listID, err)
	}
	return nil
}

// TotalContactCount returns the provider's total contact count. The raw
// total includes globally-suppressed contacts.
func (c *Client) TotalContactCount(ctx context.Context) (int64, error) {
	var resp contactCountResponse
	if _, err := c.do(ctx, http.MethodGet, "/marketing/contacts/count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.ContactCount, nil
}

// suppressionPageSize is the provider's maximum page size for the global
// unsubscribe list.
const suppressionPageSize = 500

// GlobalSuppressionCount counts globally-suppressed contacts by paging the
// provider's unsubscribe list. The provider exposes no count endpoint for
// suppressions, so the reconciliation job pays one request per 500 entries.
func (c *Client) GlobalSuppressionCount(ctx context.Context) (int64, error) {
	var total int64
	for offset := 0; ; offset += suppressionPageSize {
		var page []globalSuppression
		path := fmt.Sprintf("/suppression/unsubscribes?limit=%d&offset=%d", suppressionPageSize, offset)
		if _, err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return 0, err
		}
		total += int64(len(page))
		if len(page) < suppressionPageSize {
			break
		}
	}
	log.Printf("[SendGrid] Global suppression count: %d", total)
	return total, nil
}
