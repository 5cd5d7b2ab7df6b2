package webhook

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync/atomic"

	"github.com/ignite/contact-sync/internal/config"
	"github.com/ignite/contact-sync/internal/domain"
	"github.com/ignite/contact-sync/internal/pkg/httputil"
	"github.com/ignite/contact-sync/internal/pkg/logger"
	"github.com/ignite/contact-sync/internal/userstore"
)

// Handler is the public endpoint receiving batched delivery/engagement/
// unsubscribe events from the provider. Per request it runs the pipeline
// verify → filter → classify → resolve → apply → commit, accumulating all
// mutations into chunked store transactions.
type Handler struct {
	store      userstore.Repository
	pairing    *config.Pairing
	publicKey  *ecdsa.PublicKey
	batchLimit int

	// Stats
	eventsApplied  int64
	batchesIgnored int64
	rejected       int64
}

// NewHandler creates the webhook handler. batchLimit 0 uses the store's
// default safety threshold.
func NewHandler(store userstore.Repository, pairing *config.Pairing, publicKey *ecdsa.PublicKey, batchLimit int) *Handler {
	if batchLimit <= 0 {
		batchLimit = userstore.DefaultBatchLimit
	}
	return &Handler{store: store, pairing: pairing, publicKey: publicKey, batchLimit: batchLimit}
}

// ServeHTTP implements the webhook endpoint. Responses: 200 processed or
// deliberately ignored, 403 missing/invalid verification data, 400
// processing error after verification, 500 unresolvable user.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		atomic.AddInt64(&h.rejected, 1)
		httputil.Forbidden(w, "failed to read body")
		return
	}

	sig := r.Header.Get(SignatureHeader)
	ts := r.Header.Get(TimestampHeader)
	if sig == "" || ts == "" {
		atomic.AddInt64(&h.rejected, 1)
		httputil.Forbidden(w, "missing verification headers")
		return
	}
	if err := Verify(h.publicKey, body, sig, ts); err != nil {
		atomic.AddInt64(&h.rejected, 1)
		log.Printf("[Webhook] Signature verification failed: %v", err)
		httputil.Forbidden(w, "signature verification failed")
		return
	}

	// Only now is the body trusted enough to parse.
	var events []domain.EmailEvent
	if err := json.Unmarshal(body, &events); err != nil {
		atomic.AddInt64(&h.rejected, 1)
		httputil.BadRequest(w, "invalid event payload")
		return
	}

	if len(events) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}
	for _, ev := range events {
		if ev.IsTestTraffic() {
			// Test sends must never mutate production subscriber state.
			atomic.AddInt64(&h.batchesIgnored, 1)
			log.Printf("[Webhook] Ignoring batch of %d events (test traffic)", len(events))
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	if err := h.process(r.Context(), events); err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			// A webhook for an unknown user signals a data-integrity
			// problem worth surfacing, not silently dropping.
			log.Printf("[Webhook] Batch failed: %v", err)
			httputil.Error(w, http.StatusInternalServerError, "unknown user in event batch")
			return
		}
		log.Printf("[Webhook] Batch processing error: %v", err)
		httputil.BadRequest(w, "event processing failed")
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) process(ctx context.Context, events []domain.EmailEvent) error {
	batch := userstore.NewBatch(h.batchLimit, h.store.CommitOps)

	// Users repeat within a batch; resolve each email once.
	byEmail := make(map[string]*domain.Contact)

	for _, ev := range events {
		user, ok := byEmail[ev.Email]
		if !ok {
			var err error
			user, err = h.store.GetByEmail(ctx, ev.Email)
			if err != nil {
				return err
			}
			byEmail[ev.Email] = user
		}

		cls := Classify(ev)
		if cls.Type == domain.EventUnhandled {
			log.Printf("[Webhook] Unhandled event %q for %s (logged only)",
				ev.Event, logger.RedactEmail(ev.Email))
		}

		op := userstore.Op{
			UserID: user.ID,
			Update: transition(cls, ev, h.pairing),
			Record: &userstore.RecordMerge{
				MessageID: ev.SGMessageID,
				Key:       cls.RecordKey,
				Event:     ev,
			},
		}
		if cls.Type == domain.EventClick {
			op.Record.ClickDelta = 1
		}

		if err := batch.Add(ctx, op); err != nil {
			return err
		}
		atomic.AddInt64(&h.eventsApplied, 1)
	}

	return batch.Flush(ctx)
}

// Stats returns current handler counters.
func (h *Handler) Stats() map[string]int64 {
	return map[string]int64{
		"events_applied":  atomic.LoadInt64(&h.eventsApplied),
		"batches_ignored": atomic.LoadInt64(&h.batchesIgnored),
		"rejected":        atomic.LoadInt64(&h.rejected),
	}
}
