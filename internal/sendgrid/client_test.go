package sendgrid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/contact-sync/internal/config"
)

func newTestClient(server *httptest.Server) *Client {
	return &Client{
		baseURL: server.URL,
		apiKey:  "test-api-key",
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func TestNewClient(t *testing.T) {
	cfg := config.SendGridConfig{
		APIKey:         "test-key",
		BaseURL:        "https://api.sendgrid.com/v3/",
		TimeoutSeconds: 30,
	}

	client := NewClient(cfg)

	assert.NotNil(t, client)
	assert.Equal(t, "test-key", client.apiKey)
	assert.Equal(t, "https://api.sendgrid.com/v3", client.baseURL)
}

func TestUpsertContact(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/marketing/contacts", r.URL.Path)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

		var req upsertRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contacts, 1)
		assert.Equal(t, "jane@example.com", req.Contacts[0].Email)
		assert.Equal(t, "Jane", req.Contacts[0].FirstName)
		assert.Equal(t, "user-42", req.Contacts[0].CustomFields["user_id"])

		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := newTestClient(server)
	err := client.UpsertContact(context.Background(), "jane@example.com", "Jane", "Doe", "user-42", nil)
	assert.NoError(t, err)
}

func TestSearchContactByEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/marketing/contacts/search/emails", r.URL.Path)

		var req searchByEmailRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"jane@example.com"}, req.Emails)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"result":{"jane@example.com":{"contact":{"id":"sg-123","email":"jane@example.com"}}}}`)
	}))
	defer server.Close()

	client := newTestClient(server)
	contact, err := client.SearchContactByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, "sg-123", contact.ID)
}

func TestSearchContactByEmailNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"errors":[{"message":"no contacts found"}]}`)
	}))
	defer server.Close()

	client := newTestClient(server)
	_, err := client.SearchContactByEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestSearchContactByEmailEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"result":{}}`)
	}))
	defer server.Close()

	client := newTestClient(server)
	_, err := client.SearchContactByEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestDeleteContact(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/marketing/contacts", r.URL.Path)
		assert.Equal(t, "sg-123", r.URL.Query().Get("ids"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := newTestClient(server)
	assert.NoError(t, client.DeleteContact(context.Background(), "sg-123"))
}

func TestRemoveFromList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/marketing/lists/list-a/contacts", r.URL.Path)
		assert.Equal(t, "sg-123", r.URL.Query().Get("contact_ids"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := newTestClient(server)
	assert.NoError(t, client.RemoveFromList(context.Background(), "list-a", "sg-123"))
}

func TestTotalContactCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/marketing/contacts/count", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"contact_count":10500}`)
	}))
	defer server.Close()

	client := newTestClient(server)
	n, err := client.TotalContactCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10500), n)
}

func TestGlobalSuppressionCountPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/suppression/unsubscribes", r.URL.Path)

		offset := r.URL.Query().Get("offset")
		w.Header().Set("Content-Type", "application/json")

		// Full first page, partial second page.
		switch offset {
		case "0":
			page := make([]globalSuppression, suppressionPageSize)
			json.NewEncoder(w).Encode(page)
		case "500":
			json.NewEncoder(w).Encode(make([]globalSuppression, 37))
		default:
			t.Fatalf("unexpected offset %s", offset)
		}
	}))
	defer server.Close()

	client := newTestClient(server)
	n, err := client.GlobalSuppressionCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(537), n)
}

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, n int) (bool, time.Duration, error) {
	return false, time.Second, nil
}

func TestLimiterDeniesBeforeRequest(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := newTestClient(server)
	client.SetLimiter(denyLimiter{})

	err := client.UpsertContact(context.Background(), "jane@example.com", "", "", "user-42", nil)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.False(t, called, "request must not reach the provider when the budget denies it")
}

func TestAPIErrorMessageSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"errors":[{"field":"contacts","message":"invalid email"}]}`)
	}))
	defer server.Close()

	client := newTestClient(server)
	err := client.UpsertContact(context.Background(), "not-an-email", "", "", "user-42", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid email")
}
