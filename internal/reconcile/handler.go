package reconcile

import (
	"log"
	"net/http"
	"sync/atomic"

	"github.com/ignite/contact-sync/internal/config"
	"github.com/ignite/contact-sync/internal/pkg/distlock"
	"github.com/ignite/contact-sync/internal/pkg/httputil"
)

// Handler exposes the scheduler-triggered reconciliation endpoint. A
// distributed lock keeps overlapping triggers (retried scheduler calls,
// multiple replicas) from running the comparison twice.
type Handler struct {
	job  *Job
	cfg  config.ReconcileConfig
	lock distlock.DistLock

	runs     int64
	drifts   int64
	rejected int64
}

// NewHandler wires the job behind bearer-token auth and a single-flight
// lock. lock may be nil in tests.
func NewHandler(job *Job, cfg config.ReconcileConfig, lock distlock.DistLock) *Handler {
	return &Handler{job: job, cfg: cfg, lock: lock}
}

// ServeHTTP runs one reconciliation pass. 401 on auth failure, 200 once
// the comparison completes (drift or not; the alert carries the outcome).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := authorize(r, h.cfg.Audience, h.cfg.ServiceAccount); err != nil {
		atomic.AddInt64(&h.rejected, 1)
		log.Printf("[Reconcile] Rejected trigger: %v", err)
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if h.lock != nil {
		ok, err := h.lock.Acquire(r.Context())
		if err != nil {
			httputil.Error(w, http.StatusInternalServerError, "lock error")
			return
		}
		if !ok {
			log.Printf("[Reconcile] Run already in progress; skipping")
			httputil.JSON(w, http.StatusOK, map[string]any{"skipped": true})
			return
		}
		defer h.lock.Release(r.Context())
	}

	snap, drifted, err := h.job.Run(r.Context())
	if err != nil {
		log.Printf("[Reconcile] Run failed: %v", err)
		httputil.Error(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}

	atomic.AddInt64(&h.runs, 1)
	if drifted {
		atomic.AddInt64(&h.drifts, 1)
	}
	httputil.JSON(w, http.StatusOK, map[string]any{
		"drift":    drifted,
		"snapshot": snap,
	})
}

// Stats returns current reconcile counters.
func (h *Handler) Stats() map[string]int64 {
	return map[string]int64{
		"runs":     atomic.LoadInt64(&h.runs),
		"drifts":   atomic.LoadInt64(&h.drifts),
		"rejected": atomic.LoadInt64(&h.rejected),
	}
}
