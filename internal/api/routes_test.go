package api

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/contact-sync/internal/config"
	"github.com/ignite/contact-sync/internal/domain"
	"github.com/ignite/contact-sync/internal/reconcile"
	"github.com/ignite/contact-sync/internal/userstore"
	"github.com/ignite/contact-sync/internal/webhook"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pairing, err := config.NewPairing(map[domain.GroupID]domain.ListID{14021: "list-a"})
	require.NoError(t, err)

	store := userstore.NewMemory()
	hook := webhook.NewHandler(store, pairing, &key.PublicKey, 0)

	job := reconcile.NewJob(store, nil, nil, "notifications")
	recon := reconcile.NewHandler(job, config.ReconcileConfig{Audience: "aud"}, nil)

	return SetupRoutes(hook, recon, func() map[string]map[string]int64 {
		return map[string]map[string]int64{
			"webhook": hook.Stats(),
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestStatsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"webhook"`)
}

func TestWebhookRouteRejectsUnsignedRequest(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/events", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReconcileRouteRequiresToken(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/reconcile", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
